package integration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/valter-silva-au/interview-capture/internal/core"
	"github.com/valter-silva-au/interview-capture/pkg/models"
)

// FFmpegOptions configures device inputs and the WebM encoder.
type FFmpegOptions struct {
	Binary       string
	VideoCodec   string
	AudioCodec   string
	CameraDevice string
	AudioDevice  string
	Display      string
	ChunkSize    int
	// OS overrides runtime.GOOS when building input arguments.
	OS string
}

// FFmpegOptionsFromConfig maps capture settings onto FFmpegOptions.
func FFmpegOptionsFromConfig(cfg models.CaptureConfig) FFmpegOptions {
	return FFmpegOptions{
		Binary:       "ffmpeg",
		VideoCodec:   cfg.VideoCodec,
		AudioCodec:   cfg.AudioCodec,
		CameraDevice: cfg.CameraDevice,
		AudioDevice:  cfg.AudioDevice,
		Display:      cfg.Display,
		ChunkSize:    cfg.ChunkSize,
	}
}

func (o FFmpegOptions) goos() string {
	if o.OS != "" {
		return o.OS
	}
	return runtime.GOOS
}

// InputArgs returns the ffmpeg input arguments that open the camera and
// microphone, or the screen, on the configured platform.
func InputArgs(o FFmpegOptions, kind models.MediaKind) ([]string, error) {
	switch o.goos() {
	case "linux":
		if kind == models.MediaScreen {
			display := o.Display
			if display == "" {
				display = os.Getenv("DISPLAY")
			}
			if display == "" {
				display = ":0.0"
			}
			return []string{"-f", "x11grab", "-framerate", "15", "-i", display}, nil
		}
		camera := orDefault(o.CameraDevice, "/dev/video0")
		audio := orDefault(o.AudioDevice, "default")
		return []string{"-f", "v4l2", "-i", camera, "-f", "pulse", "-i", audio}, nil

	case "darwin":
		if kind == models.MediaScreen {
			display := orDefault(o.Display, "1")
			return []string{"-f", "avfoundation", "-capture_cursor", "1", "-framerate", "15", "-i", display + ":none"}, nil
		}
		camera := orDefault(o.CameraDevice, "0")
		audio := orDefault(o.AudioDevice, "0")
		return []string{"-f", "avfoundation", "-framerate", "30", "-i", camera + ":" + audio}, nil

	case "windows":
		if kind == models.MediaScreen {
			return []string{"-f", "gdigrab", "-framerate", "15", "-i", orDefault(o.Display, "desktop")}, nil
		}
		if o.CameraDevice == "" || o.AudioDevice == "" {
			return nil, errors.New("capture.camera_device and capture.audio_device must name DirectShow devices on windows")
		}
		return []string{"-f", "dshow", "-i", "video=" + o.CameraDevice + ":audio=" + o.AudioDevice}, nil

	default:
		return nil, fmt.Errorf("unsupported OS for device capture: %s", o.goos())
	}
}

// EncodeArgs returns the output arguments that mux WebM onto stdout.
func EncodeArgs(o FFmpegOptions, kind models.MediaKind) []string {
	args := []string{"-c:v", videoEncoder(o.VideoCodec), "-deadline", "realtime", "-b:v", "1M"}
	if kind == models.MediaScreen {
		args = append(args, "-an")
	} else {
		args = append(args, "-c:a", audioEncoder(o.AudioCodec))
	}
	return append(args, "-f", "webm", "pipe:1")
}

// RequiredEncoders names the ffmpeg encoders the configured codecs need.
func RequiredEncoders(o FFmpegOptions) []string {
	return []string{videoEncoder(o.VideoCodec), audioEncoder(o.AudioCodec)}
}

func videoEncoder(mime string) string {
	if strings.EqualFold(mime, webrtc.MimeTypeVP9) {
		return "libvpx-vp9"
	}
	return "libvpx"
}

func audioEncoder(mime string) string {
	if strings.EqualFold(mime, webrtc.MimeTypeOpus) || mime == "" {
		return "libopus"
	}
	return "libvorbis"
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// FFmpegBackend opens devices through the ffmpeg binary. Each acquisition is
// probed with a short null-output run so permission and device errors surface
// before recording starts.
type FFmpegBackend struct {
	opts     FFmpegOptions
	lookPath func(string) (string, error)
	probe    func(ctx context.Context, binary string, args []string) ([]byte, error)
	// watchScreen keeps a null-output ffmpeg on an opened display so the
	// source ends when sharing stops.
	watchScreen bool
}

// NewFFmpegBackend creates an FFmpegBackend.
func NewFFmpegBackend(opts FFmpegOptions) *FFmpegBackend {
	if opts.Binary == "" {
		opts.Binary = "ffmpeg"
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 64 * 1024
	}
	return &FFmpegBackend{
		opts:        opts,
		lookPath:    exec.LookPath,
		probe:       runProbe,
		watchScreen: true,
	}
}

// runProbe runs ffmpeg and returns its combined output.
func runProbe(ctx context.Context, binary string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	return cmd.CombinedOutput()
}

// OpenCamera opens the camera and microphone.
func (b *FFmpegBackend) OpenCamera(ctx context.Context) (core.StreamSource, error) {
	return b.open(ctx, models.MediaCamera)
}

// OpenScreen opens the display for screen capture.
func (b *FFmpegBackend) OpenScreen(ctx context.Context) (core.StreamSource, error) {
	return b.open(ctx, models.MediaScreen)
}

func (b *FFmpegBackend) open(ctx context.Context, kind models.MediaKind) (core.StreamSource, error) {
	bin, err := b.lookPath(b.opts.Binary)
	if err != nil {
		return nil, fmt.Errorf("%s not found on PATH: %w", b.opts.Binary, core.ErrDeviceUnavailable)
	}
	input, err := InputArgs(b.opts, kind)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %v: %w", kind, err, core.ErrDeviceUnavailable)
	}

	probeArgs := []string{"-hide_banner", "-loglevel", "error"}
	probeArgs = append(probeArgs, input...)
	probeArgs = append(probeArgs, "-t", "0.5", "-f", "null", "-")
	if out, err := b.probe(ctx, bin, probeArgs); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("opening %s: %w", kind, core.ErrUserCancelled)
		}
		return nil, classifyProbeFailure(kind, string(out), err)
	}

	src := newFFmpegSource(bin, kind, input, b.opts)
	if kind == models.MediaScreen && b.watchScreen {
		if err := src.watch(); err != nil {
			return nil, fmt.Errorf("opening %s: %v: %w", kind, err, core.ErrDeviceUnavailable)
		}
	}
	return src, nil
}

var permissionMarkers = []string{
	"permission denied",
	"not authorized",
	"operation not permitted",
	"access denied",
	"tcc",
}

// classifyProbeFailure maps ffmpeg's diagnostics onto the acquisition errors.
func classifyProbeFailure(kind models.MediaKind, output string, err error) error {
	detail := lastLine(output)
	if detail == "" {
		detail = err.Error()
	}
	lower := strings.ToLower(output)
	for _, m := range permissionMarkers {
		if strings.Contains(lower, m) {
			return fmt.Errorf("opening %s: %s: %w", kind, detail, core.ErrPermissionDenied)
		}
	}
	return fmt.Errorf("opening %s: %s: %w", kind, detail, core.ErrDeviceUnavailable)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// ffmpegSource is an opened device. Encoders spawn their own ffmpeg process
// reading the same inputs.
type ffmpegSource struct {
	binary string
	kind   models.MediaKind
	input  []string
	opts   FFmpegOptions

	ended   chan struct{}
	endOnce sync.Once

	mu       sync.Mutex
	closed   bool
	watcher  *screenWatch
	encoders []*ffmpegEncoder
}

func newFFmpegSource(binary string, kind models.MediaKind, input []string, opts FFmpegOptions) *ffmpegSource {
	return &ffmpegSource{
		binary: binary,
		kind:   kind,
		input:  input,
		opts:   opts,
		ended:  make(chan struct{}),
	}
}

func (s *ffmpegSource) Tracks() []core.Track {
	video := core.Track{ID: "video0", Kind: "video", Label: s.input[len(s.input)-1]}
	if s.kind == models.MediaScreen {
		return []core.Track{video}
	}
	return []core.Track{video, {ID: "audio0", Kind: "audio", Label: orDefault(s.opts.AudioDevice, "default")}}
}

func (s *ffmpegSource) NewEncoder() (core.Encoder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%s source is closed: %w", s.kind, core.ErrInvalidStreamState)
	}
	args := []string{"-hide_banner", "-loglevel", "error", "-nostats"}
	args = append(args, s.input...)
	args = append(args, EncodeArgs(s.opts, s.kind)...)
	enc := &ffmpegEncoder{
		source:    s,
		binary:    s.binary,
		args:      args,
		chunkSize: s.opts.ChunkSize,
		readDone:  make(chan struct{}),
	}
	s.encoders = append(s.encoders, enc)
	return enc, nil
}

func (s *ffmpegSource) Ended() <-chan struct{} { return s.ended }

func (s *ffmpegSource) markEnded() {
	s.endOnce.Do(func() { close(s.ended) })
}

// Close stops the screen watch and kills any encoder still running.
func (s *ffmpegSource) Close() error {
	s.mu.Lock()
	s.closed = true
	encoders := s.encoders
	s.encoders = nil
	watcher := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	if watcher != nil {
		watcher.stop()
	}
	for _, e := range encoders {
		e.kill()
	}
	return nil
}

// screenWatch is an ffmpeg reading the display into the null muxer. It runs
// whether or not the screen is recorded.
type screenWatch struct {
	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stopping bool
	done     chan struct{}
}

const watchStopTimeout = 2 * time.Second

// watch starts the screen watch. Its exit marks the source ended unless
// Close asked for it.
func (s *ffmpegSource) watch() error {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostats"}
	args = append(args, s.input...)
	args = append(args, "-f", "null", "-")

	cmd := exec.Command(s.binary, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("opening ffmpeg stdin: %w", err)
	}
	stderr := &tailBuffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting screen watch: %w", err)
	}

	w := &screenWatch{cmd: cmd, stdin: stdin, done: make(chan struct{})}
	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()

	go func() {
		waitErr := cmd.Wait()
		w.mu.Lock()
		stopping := w.stopping
		w.mu.Unlock()
		close(w.done)
		if !stopping {
			slog.Warn("screen capture ended", "kind", s.kind, "error", waitErr, "stderr", lastLine(stderr.String()))
			s.markEnded()
		}
	}()
	return nil
}

// stop asks the watch to quit and kills it if it does not.
func (w *screenWatch) stop() {
	w.mu.Lock()
	if !w.stopping {
		w.stopping = true
		_, _ = io.WriteString(w.stdin, "q")
		_ = w.stdin.Close()
	}
	w.mu.Unlock()

	select {
	case <-w.done:
	case <-time.After(watchStopTimeout):
		_ = w.cmd.Process.Kill()
		<-w.done
	}
}

// ffmpegEncoder runs one ffmpeg process and reads WebM from its stdout.
type ffmpegEncoder struct {
	source    *ffmpegSource
	binary    string
	args      []string
	chunkSize int

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stopping bool
	rejected bool
	tail     []byte
	exitErr  error
	stderr   tailBuffer
	readDone chan struct{}
}

func (e *ffmpegEncoder) Start(onChunk func([]byte) bool) error {
	cmd := exec.Command(e.binary, e.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("opening ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("opening ffmpeg stdout: %w", err)
	}
	cmd.Stderr = &e.stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	e.mu.Lock()
	e.cmd = cmd
	e.stdin = stdin
	e.mu.Unlock()

	go e.read(stdout, onChunk)
	return nil
}

func (e *ffmpegEncoder) read(stdout io.Reader, onChunk func([]byte) bool) {
	defer close(e.readDone)

	buf := make([]byte, e.chunkSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			e.deliver(data, onChunk)
		}
		if err != nil {
			break
		}
	}

	waitErr := e.cmd.Wait()
	e.mu.Lock()
	e.exitErr = waitErr
	stopping := e.stopping
	e.mu.Unlock()

	if !stopping {
		slog.Warn("ffmpeg exited while recording", "kind", e.source.kind, "error", waitErr, "stderr", e.stderr.String())
		e.source.markEnded()
	}
}

// deliver hands data to onChunk until stop is requested or a chunk is
// rejected; from then on bytes are kept for Stop to return.
func (e *ffmpegEncoder) deliver(data []byte, onChunk func([]byte) bool) {
	e.mu.Lock()
	hold := e.stopping || e.rejected
	e.mu.Unlock()

	if !hold && onChunk(data) {
		return
	}

	e.mu.Lock()
	e.rejected = true
	e.tail = append(e.tail, data...)
	e.mu.Unlock()
}

// Stop asks ffmpeg to finish the file by sending "q" on stdin, then waits for
// stdout to drain. If ctx expires first the process is killed.
func (e *ffmpegEncoder) Stop(ctx context.Context) ([]byte, error) {
	e.mu.Lock()
	if e.cmd == nil {
		e.mu.Unlock()
		return nil, nil
	}
	if !e.stopping {
		e.stopping = true
		_, _ = io.WriteString(e.stdin, "q")
		_ = e.stdin.Close()
	}
	e.mu.Unlock()

	var stopErr error
	select {
	case <-e.readDone:
	case <-ctx.Done():
		e.kill()
		<-e.readDone
		stopErr = fmt.Errorf("ffmpeg did not finish in time: %w", ctx.Err())
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	tail := e.tail
	e.tail = nil
	if stopErr == nil && e.exitErr != nil {
		stopErr = fmt.Errorf("ffmpeg exited: %w: %s", e.exitErr, lastLine(e.stderr.String()))
	}
	return tail, stopErr
}

func (e *ffmpegEncoder) kill() {
	e.mu.Lock()
	cmd := e.cmd
	e.stopping = true
	e.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// tailBuffer keeps the last few KiB written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

const tailBufferSize = 4096

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > tailBufferSize {
		b.buf = b.buf[len(b.buf)-tailBufferSize:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
