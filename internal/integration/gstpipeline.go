package integration

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/pion/webrtc/v3"
	"github.com/valter-silva-au/interview-capture/pkg/models"
)

// GStreamerOptions configures the gst-launch style pipelines used by the
// gstreamer capture backend.
type GStreamerOptions struct {
	VideoCodec   string
	AudioCodec   string
	CameraDevice string
	AudioDevice  string
	Display      string
	// OS overrides runtime.GOOS.
	OS string
}

// GStreamerOptionsFromConfig maps capture settings onto GStreamerOptions.
func GStreamerOptionsFromConfig(cfg models.CaptureConfig) GStreamerOptions {
	return GStreamerOptions{
		VideoCodec:   cfg.VideoCodec,
		AudioCodec:   cfg.AudioCodec,
		CameraDevice: cfg.CameraDevice,
		AudioDevice:  cfg.AudioDevice,
		Display:      cfg.Display,
	}
}

func (o GStreamerOptions) goos() string {
	if o.OS != "" {
		return o.OS
	}
	return runtime.GOOS
}

// AppSinkName is the name of the appsink element every pipeline ends in.
const AppSinkName = "appsink"

// PipelineDescription returns a pipeline that encodes kind into WebM and
// hands the muxed bytes to an appsink named AppSinkName.
func PipelineDescription(o GStreamerOptions, kind models.MediaKind) (string, error) {
	video, audio, err := gstSources(o, kind)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(video)
	b.WriteString(" ! queue ! videoconvert ! queue ! ")
	b.WriteString(gstVideoEncoder(o.VideoCodec))
	b.WriteString(" ! queue ! mux. ")
	if audio != "" {
		b.WriteString(audio)
		b.WriteString(" ! queue ! audioconvert ! audioresample ! opusenc ! queue ! mux. ")
	}
	fmt.Fprintf(&b, "webmmux name=mux streamable=true ! appsink name=%s sync=false emit-signals=false", AppSinkName)
	return b.String(), nil
}

// WatchDescription returns a pipeline that reads kind's video into a
// fakesink. It keeps a shared screen observed while nothing records it.
func WatchDescription(o GStreamerOptions, kind models.MediaKind) (string, error) {
	video, _, err := gstSources(o, kind)
	if err != nil {
		return "", err
	}
	return video + " ! queue ! fakesink sync=false", nil
}

func gstSources(o GStreamerOptions, kind models.MediaKind) (video, audio string, err error) {
	switch o.goos() {
	case "linux":
		if kind == models.MediaScreen {
			display := orDefault(o.Display, ":0")
			return fmt.Sprintf("ximagesrc display-name=%s use-damage=false ! video/x-raw,framerate=15/1", display), "", nil
		}
		video = fmt.Sprintf("v4l2src device=%s", orDefault(o.CameraDevice, "/dev/video0"))
		audio = "pulsesrc"
		if o.AudioDevice != "" {
			audio += " device=" + o.AudioDevice
		}
		return video, audio, nil

	case "darwin":
		if kind == models.MediaScreen {
			return "avfvideosrc capture-screen=true capture-screen-cursor=true ! video/x-raw,framerate=15/1", "", nil
		}
		return fmt.Sprintf("avfvideosrc device-index=%s", orDefault(o.CameraDevice, "0")), "osxaudiosrc", nil

	case "windows":
		if kind == models.MediaScreen {
			return "gdiscreencapsrc do-timestamp=true cursor=true ! video/x-raw,framerate=15/1", "", nil
		}
		video = "mfvideosrc"
		if o.CameraDevice != "" {
			video += fmt.Sprintf(" device-name=%q", o.CameraDevice)
		}
		return video, "wasapisrc", nil

	default:
		return "", "", fmt.Errorf("unsupported OS for gstreamer capture: %s", o.goos())
	}
}

func gstVideoEncoder(mime string) string {
	if strings.EqualFold(mime, webrtc.MimeTypeVP9) {
		return "vp9enc deadline=1 cpu-used=8"
	}
	return "vp8enc deadline=1 cpu-used=5 keyframe-max-dist=60"
}
