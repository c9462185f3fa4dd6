package integration

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/valter-silva-au/interview-capture/internal/core"
	"github.com/valter-silva-au/interview-capture/pkg/models"
)

func TestInputArgs_PerPlatform(t *testing.T) {
	tests := []struct {
		name string
		opts FFmpegOptions
		kind models.MediaKind
		want string
	}{
		{"linux camera", FFmpegOptions{OS: "linux"}, models.MediaCamera, "-f v4l2 -i /dev/video0 -f pulse -i default"},
		{"linux screen", FFmpegOptions{OS: "linux", Display: ":1"}, models.MediaScreen, "-f x11grab -framerate 15 -i :1"},
		{"darwin camera", FFmpegOptions{OS: "darwin", CameraDevice: "1", AudioDevice: "2"}, models.MediaCamera, "-f avfoundation -framerate 30 -i 1:2"},
		{"darwin screen", FFmpegOptions{OS: "darwin"}, models.MediaScreen, "-f avfoundation -capture_cursor 1 -framerate 15 -i 1:none"},
		{"windows camera", FFmpegOptions{OS: "windows", CameraDevice: "Integrated Camera", AudioDevice: "Microphone"}, models.MediaCamera, "-f dshow -i video=Integrated Camera:audio=Microphone"},
		{"windows screen", FFmpegOptions{OS: "windows"}, models.MediaScreen, "-f gdigrab -framerate 15 -i desktop"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := InputArgs(tt.opts, tt.kind)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := strings.Join(args, " "); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInputArgs_Errors(t *testing.T) {
	if _, err := InputArgs(FFmpegOptions{OS: "windows"}, models.MediaCamera); err == nil {
		t.Error("expected error for windows camera without device names")
	}
	if _, err := InputArgs(FFmpegOptions{OS: "plan9"}, models.MediaCamera); err == nil {
		t.Error("expected error for unsupported OS")
	}
}

func TestEncodeArgs(t *testing.T) {
	cam := strings.Join(EncodeArgs(FFmpegOptions{VideoCodec: "video/VP9", AudioCodec: "audio/opus"}, models.MediaCamera), " ")
	if !strings.Contains(cam, "-c:v libvpx-vp9") || !strings.Contains(cam, "-c:a libopus") {
		t.Errorf("unexpected camera args %q", cam)
	}
	if !strings.HasSuffix(cam, "-f webm pipe:1") {
		t.Errorf("expected webm on stdout, got %q", cam)
	}

	screen := strings.Join(EncodeArgs(FFmpegOptions{VideoCodec: "video/VP8"}, models.MediaScreen), " ")
	if !strings.Contains(screen, "-c:v libvpx ") || !strings.Contains(screen, "-an") {
		t.Errorf("unexpected screen args %q", screen)
	}
}

func TestRequiredEncoders(t *testing.T) {
	got := RequiredEncoders(FFmpegOptions{VideoCodec: "video/VP9", AudioCodec: "audio/opus"})
	if len(got) != 2 || got[0] != "libvpx-vp9" || got[1] != "libopus" {
		t.Errorf("RequiredEncoders = %v", got)
	}
}

func TestClassifyProbeFailure(t *testing.T) {
	exitErr := errors.New("exit status 1")
	tests := []struct {
		output string
		want   error
	}{
		{"[avfoundation] Failed to create AV capture input device: Cannot use Camera (not authorized)", core.ErrPermissionDenied},
		{"/dev/video0: Permission denied", core.ErrPermissionDenied},
		{"/dev/video0: No such file or directory", core.ErrDeviceUnavailable},
		{"", core.ErrDeviceUnavailable},
	}
	for _, tt := range tests {
		err := classifyProbeFailure(models.MediaCamera, tt.output, exitErr)
		if !errors.Is(err, tt.want) {
			t.Errorf("classify(%q) = %v, want %v", tt.output, err, tt.want)
		}
	}
}

func newTestBackend(probeOut string, probeErr error) *FFmpegBackend {
	b := NewFFmpegBackend(FFmpegOptions{OS: "linux"})
	b.lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }
	b.probe = func(ctx context.Context, binary string, args []string) ([]byte, error) {
		return []byte(probeOut), probeErr
	}
	b.watchScreen = false
	return b
}

func TestFFmpegBackend_OpenCamera(t *testing.T) {
	src, err := newTestBackend("", nil).OpenCamera(context.Background())
	if err != nil {
		t.Fatalf("open camera: %v", err)
	}
	tracks := src.Tracks()
	if len(tracks) != 2 || tracks[0].Kind != "video" || tracks[1].Kind != "audio" {
		t.Errorf("unexpected tracks %+v", tracks)
	}

	screen, err := newTestBackend("", nil).OpenScreen(context.Background())
	if err != nil {
		t.Fatalf("open screen: %v", err)
	}
	if len(screen.Tracks()) != 1 {
		t.Errorf("expected a single video track for the screen, got %+v", screen.Tracks())
	}
}

func TestFFmpegBackend_OpenErrors(t *testing.T) {
	denied := newTestBackend("/dev/video0: Permission denied", errors.New("exit status 1"))
	if _, err := denied.OpenCamera(context.Background()); !errors.Is(err, core.ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied, got %v", err)
	}

	missing := newTestBackend("", nil)
	missing.lookPath = func(string) (string, error) { return "", exec.ErrNotFound }
	if _, err := missing.OpenCamera(context.Background()); !errors.Is(err, core.ErrDeviceUnavailable) {
		t.Errorf("expected ErrDeviceUnavailable, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cancelled := newTestBackend("", context.Canceled)
	if _, err := cancelled.OpenScreen(ctx); !errors.Is(err, core.ErrUserCancelled) {
		t.Errorf("expected ErrUserCancelled, got %v", err)
	}
}

// writeFakeFFmpeg writes a shell script that prints head, waits for a line on
// stdin and prints tail.
func writeFakeFFmpeg(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("writing fake ffmpeg: %v", err)
	}
	return path
}

type chunkSink struct {
	mu     sync.Mutex
	data   []byte
	accept bool
	got    chan struct{}
	once   sync.Once
}

func (s *chunkSink) onChunk(b []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accept {
		return false
	}
	s.data = append(s.data, b...)
	s.once.Do(func() { close(s.got) })
	return true
}

func TestFFmpegEncoder_StreamsAndFlushes(t *testing.T) {
	bin := writeFakeFFmpeg(t, "printf 'head'\nread line\nprintf 'tail'\n")
	src := newFFmpegSource(bin, models.MediaCamera, []string{"-i", "fake"}, FFmpegOptions{ChunkSize: 1024})
	enc, err := src.NewEncoder()
	if err != nil {
		t.Fatalf("new encoder: %v", err)
	}

	sink := &chunkSink{accept: true, got: make(chan struct{})}
	if err := enc.Start(sink.onChunk); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-sink.got:
	case <-time.After(5 * time.Second):
		t.Fatal("no chunk delivered")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	trailing, err := enc.Stop(ctx)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}

	sink.mu.Lock()
	got := string(sink.data) + string(trailing)
	sink.mu.Unlock()
	if got != "headtail" {
		t.Errorf("expected headtail, got %q", got)
	}

	select {
	case <-src.Ended():
		t.Error("a requested stop must not mark the source ended")
	default:
	}
}

func TestFFmpegEncoder_RejectedChunksBecomeTrailing(t *testing.T) {
	bin := writeFakeFFmpeg(t, "printf 'data'\nread line\n")
	src := newFFmpegSource(bin, models.MediaCamera, []string{"-i", "fake"}, FFmpegOptions{ChunkSize: 1024})
	enc, _ := src.NewEncoder()

	rejected := make(chan struct{})
	var once sync.Once
	if err := enc.Start(func([]byte) bool {
		once.Do(func() { close(rejected) })
		return false
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-rejected:
	case <-time.After(5 * time.Second):
		t.Fatal("no chunk offered")
	}

	trailing, err := enc.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if string(trailing) != "data" {
		t.Errorf("expected rejected data as trailing bytes, got %q", trailing)
	}
}

func TestFFmpegEncoder_UnexpectedExitEndsSource(t *testing.T) {
	bin := writeFakeFFmpeg(t, "printf 'x'\nexit 1\n")
	src := newFFmpegSource(bin, models.MediaScreen, []string{"-i", "fake"}, FFmpegOptions{ChunkSize: 1024})
	enc, _ := src.NewEncoder()

	if err := enc.Start(func([]byte) bool { return true }); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-src.Ended():
	case <-time.After(5 * time.Second):
		t.Fatal("expected source to end when ffmpeg exits on its own")
	}

	_, err := enc.Stop(context.Background())
	if err == nil {
		t.Error("expected stop to report the non-zero exit")
	}
}

func TestFFmpegSource_CloseRefusesNewEncoders(t *testing.T) {
	src := newFFmpegSource("ffmpeg", models.MediaCamera, []string{"-i", "fake"}, FFmpegOptions{})
	if err := src.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := src.NewEncoder(); !errors.Is(err, core.ErrInvalidStreamState) {
		t.Errorf("expected ErrInvalidStreamState, got %v", err)
	}
}

func TestFFmpegBackend_ScreenWatchEndsSourceWhenSharingStops(t *testing.T) {
	bin := writeFakeFFmpeg(t, "sleep 0.2\nexit 1\n")
	b := newTestBackend("", nil)
	b.lookPath = func(string) (string, error) { return bin, nil }
	b.watchScreen = true

	src, err := b.OpenScreen(context.Background())
	if err != nil {
		t.Fatalf("open screen: %v", err)
	}
	defer src.Close()

	select {
	case <-src.Ended():
	case <-time.After(5 * time.Second):
		t.Fatal("expected the screen source to end when the watch exits, with no encoder running")
	}
}

func TestFFmpegBackend_ScreenWatchStopsOnClose(t *testing.T) {
	bin := writeFakeFFmpeg(t, "echo \"$@\" > \"$0.args\"\nread line\n")
	b := newTestBackend("", nil)
	b.lookPath = func(string) (string, error) { return bin, nil }
	b.watchScreen = true

	src, err := b.OpenScreen(context.Background())
	if err != nil {
		t.Fatalf("open screen: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case <-src.Ended():
		t.Error("closing the source must not report sharing stopped")
	default:
	}

	args, err := os.ReadFile(bin + ".args")
	if err != nil {
		t.Fatalf("reading watch args: %v", err)
	}
	got := strings.TrimSpace(string(args))
	if !strings.Contains(got, "-f x11grab") || !strings.HasSuffix(got, "-f null -") {
		t.Errorf("unexpected watch args %q", got)
	}
}

func TestFFmpegBackend_CameraIsNotWatched(t *testing.T) {
	bin := writeFakeFFmpeg(t, "exit 1\n")
	b := newTestBackend("", nil)
	b.lookPath = func(string) (string, error) { return bin, nil }
	b.watchScreen = true

	src, err := b.OpenCamera(context.Background())
	if err != nil {
		t.Fatalf("open camera: %v", err)
	}
	defer src.Close()

	select {
	case <-src.Ended():
		t.Error("a camera source has no watch and should stay open")
	case <-time.After(200 * time.Millisecond):
	}
}
