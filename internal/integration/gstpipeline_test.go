package integration

import (
	"strings"
	"testing"

	"github.com/valter-silva-au/interview-capture/pkg/models"
)

func TestPipelineDescription_Camera(t *testing.T) {
	desc, err := PipelineDescription(GStreamerOptions{OS: "linux", VideoCodec: "video/VP8", AudioDevice: "alsa_input.usb"}, models.MediaCamera)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{
		"v4l2src device=/dev/video0",
		"vp8enc",
		"pulsesrc device=alsa_input.usb",
		"opusenc",
		"webmmux name=mux",
		"appsink name=appsink",
	} {
		if !strings.Contains(desc, want) {
			t.Errorf("expected %q in %q", want, desc)
		}
	}
}

func TestPipelineDescription_ScreenHasNoAudio(t *testing.T) {
	for _, goos := range []string{"linux", "darwin", "windows"} {
		desc, err := PipelineDescription(GStreamerOptions{OS: goos, VideoCodec: "video/VP9"}, models.MediaScreen)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", goos, err)
		}
		if strings.Contains(desc, "opusenc") {
			t.Errorf("%s: screen pipeline should not encode audio: %q", goos, desc)
		}
		if !strings.Contains(desc, "vp9enc") {
			t.Errorf("%s: expected vp9enc in %q", goos, desc)
		}
	}
}

func TestPipelineDescription_UnsupportedOS(t *testing.T) {
	if _, err := PipelineDescription(GStreamerOptions{OS: "plan9"}, models.MediaCamera); err == nil {
		t.Error("expected error for unsupported OS")
	}
}

func TestWatchDescription_ScreenEndsInFakesink(t *testing.T) {
	desc, err := WatchDescription(GStreamerOptions{OS: "linux", Display: ":2"}, models.MediaScreen)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(desc, "ximagesrc display-name=:2") {
		t.Errorf("expected the display source first, got %q", desc)
	}
	if !strings.HasSuffix(desc, "fakesink sync=false") {
		t.Errorf("expected a fakesink, got %q", desc)
	}
	if strings.Contains(desc, "enc") || strings.Contains(desc, AppSinkName) {
		t.Errorf("watch pipeline should not encode: %q", desc)
	}
}
