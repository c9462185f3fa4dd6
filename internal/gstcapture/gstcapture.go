//go:build gstreamer

// Package gstcapture records camera and screen through GStreamer pipelines
// that end in a WebM appsink.
package gstcapture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tinyzimmer/go-glib/glib"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/valter-silva-au/interview-capture/internal/core"
	"github.com/valter-silva-au/interview-capture/internal/integration"
	"github.com/valter-silva-au/interview-capture/pkg/models"
)

// Available reports whether the binary was built with GStreamer support.
const Available = true

var initOnce sync.Once

// startMainLoop initialises GStreamer and runs the default glib main loop,
// which dispatches bus watches.
func startMainLoop() {
	initOnce.Do(func() {
		gst.Init(nil)
		go glib.NewMainLoop(glib.MainContextDefault(), false).Run()
	})
}

// Backend opens devices as GStreamer pipelines.
type Backend struct {
	opts integration.GStreamerOptions
}

// NewBackend creates a Backend and starts the GStreamer main loop.
func NewBackend(opts integration.GStreamerOptions) *Backend {
	startMainLoop()
	return &Backend{opts: opts}
}

// OpenCamera opens the camera and microphone.
func (b *Backend) OpenCamera(ctx context.Context) (core.StreamSource, error) {
	return b.open(ctx, models.MediaCamera)
}

// OpenScreen opens the display.
func (b *Backend) OpenScreen(ctx context.Context) (core.StreamSource, error) {
	return b.open(ctx, models.MediaScreen)
}

func (b *Backend) open(ctx context.Context, kind models.MediaKind) (core.StreamSource, error) {
	desc, err := integration.PipelineDescription(b.opts, kind)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %v: %w", kind, err, core.ErrDeviceUnavailable)
	}
	if err := probe(desc); err != nil {
		return nil, fmt.Errorf("opening %s: %w", kind, err)
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("opening %s: %w", kind, core.ErrUserCancelled)
	}
	src := &source{kind: kind, desc: desc, ended: make(chan struct{})}
	if kind == models.MediaScreen {
		watchDesc, err := integration.WatchDescription(b.opts, kind)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %v: %w", kind, err, core.ErrDeviceUnavailable)
		}
		if err := src.watch(watchDesc); err != nil {
			return nil, fmt.Errorf("opening %s: %w", kind, err)
		}
	}
	return src, nil
}

// probe pauses the pipeline once so device and permission failures surface
// before recording starts.
func probe(desc string) error {
	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return fmt.Errorf("parsing pipeline: %v: %w", err, core.ErrDeviceUnavailable)
	}
	defer func() { _ = pipeline.SetState(gst.StateNull) }()

	if err := pipeline.SetState(gst.StatePaused); err != nil {
		detail := err.Error()
		if msg := pipeline.GetBus().PopFiltered(gst.MessageError); msg != nil {
			detail = msg.ParseError().Error()
		}
		return classify(detail)
	}
	return nil
}

func classify(detail string) error {
	lower := strings.ToLower(detail)
	if strings.Contains(lower, "permission") || strings.Contains(lower, "not authorized") || strings.Contains(lower, "denied") {
		return fmt.Errorf("%s: %w", detail, core.ErrPermissionDenied)
	}
	return fmt.Errorf("%s: %w", detail, core.ErrDeviceUnavailable)
}

type source struct {
	kind    models.MediaKind
	desc    string
	ended   chan struct{}
	endOnce sync.Once

	mu       sync.Mutex
	closed   bool
	watcher  *gst.Pipeline
	encoders []*encoder
}

// watch plays a fakesink pipeline on the display for as long as the source is
// open. An EOS or error the source did not ask for means sharing stopped.
func (s *source) watch(desc string) error {
	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return fmt.Errorf("parsing watch pipeline: %v: %w", err, core.ErrDeviceUnavailable)
	}
	pipeline.GetBus().AddWatch(func(msg *gst.Message) bool {
		switch msg.Type() {
		case gst.MessageEOS, gst.MessageError:
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				slog.Warn("screen capture ended", "kind", s.kind, "message", msg.Type())
				s.markEnded()
			}
			return false
		}
		return true
	})
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("starting watch pipeline: %v: %w", err, core.ErrDeviceUnavailable)
	}
	s.mu.Lock()
	s.watcher = pipeline
	s.mu.Unlock()
	return nil
}

func (s *source) Tracks() []core.Track {
	video := core.Track{ID: "video0", Kind: "video", Label: strings.Fields(s.desc)[0]}
	if s.kind == models.MediaScreen {
		return []core.Track{video}
	}
	return []core.Track{video, {ID: "audio0", Kind: "audio", Label: "microphone"}}
}

func (s *source) NewEncoder() (core.Encoder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%s source is closed: %w", s.kind, core.ErrInvalidStreamState)
	}
	enc := &encoder{source: s, eos: make(chan struct{})}
	s.encoders = append(s.encoders, enc)
	return enc, nil
}

func (s *source) Ended() <-chan struct{} { return s.ended }

func (s *source) markEnded() {
	s.endOnce.Do(func() { close(s.ended) })
}

func (s *source) Close() error {
	s.mu.Lock()
	s.closed = true
	encoders := s.encoders
	s.encoders = nil
	watcher := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	var errs []error
	if watcher != nil {
		if err := watcher.SetState(gst.StateNull); err != nil {
			errs = append(errs, err)
		}
	}
	for _, e := range encoders {
		if err := e.shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// encoder runs one pipeline and forwards appsink buffers.
type encoder struct {
	source *source

	mu       sync.Mutex
	pipeline *gst.Pipeline
	stopping bool
	rejected bool
	tail     []byte
	busErr   error
	eos      chan struct{}
	eosOnce  sync.Once
}

func (e *encoder) Start(onChunk func([]byte) bool) error {
	pipeline, err := gst.NewPipelineFromString(e.source.desc)
	if err != nil {
		return fmt.Errorf("parsing pipeline: %w", err)
	}
	elem, err := pipeline.GetElementByName(integration.AppSinkName)
	if err != nil {
		return fmt.Errorf("finding appsink: %w", err)
	}

	sink := app.SinkFromElement(elem)
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(s *app.Sink) gst.FlowReturn {
			sample := s.PullSample()
			if sample == nil {
				return gst.FlowEOS
			}
			buffer := sample.GetBuffer()
			if buffer == nil {
				return gst.FlowError
			}
			e.deliver(buffer.Extract(0, buffer.GetSize()), onChunk)
			return gst.FlowOK
		},
	})

	pipeline.GetBus().AddWatch(func(msg *gst.Message) bool {
		switch msg.Type() {
		case gst.MessageEOS:
			e.finish(nil)
			return false
		case gst.MessageError:
			gerr := msg.ParseError()
			e.finish(errors.New(gerr.Error()))
			return false
		}
		return true
	})

	e.mu.Lock()
	e.pipeline = pipeline
	e.mu.Unlock()

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("starting pipeline: %w", err)
	}
	return nil
}

func (e *encoder) deliver(data []byte, onChunk func([]byte) bool) {
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

// finish records the end of the stream. An error or EOS that was not asked
// for means the device went away.
func (e *encoder) finish(err error) {
	e.mu.Lock()
	e.busErr = err
	stopping := e.stopping
	e.mu.Unlock()

	if !stopping {
		slog.Warn("gstreamer pipeline ended while recording", "kind", e.source.kind, "error", err)
		e.source.markEnded()
	}
	e.eosOnce.Do(func() { close(e.eos) })
}

// Stop sends EOS so webmmux writes its final cluster, waits for it to reach
// the appsink and tears the pipeline down.
func (e *encoder) Stop(ctx context.Context) ([]byte, error) {
	e.mu.Lock()
	pipeline := e.pipeline
	alreadyStopping := e.stopping
	e.stopping = true
	e.mu.Unlock()
	if pipeline == nil {
		return nil, nil
	}

	if !alreadyStopping {
		pipeline.SendEvent(gst.NewEOSEvent())
	}

	var stopErr error
	select {
	case <-e.eos:
	case <-ctx.Done():
		stopErr = fmt.Errorf("pipeline did not drain in time: %w", ctx.Err())
	}
	if err := pipeline.BlockSetState(gst.StateNull); err != nil && stopErr == nil {
		stopErr = fmt.Errorf("stopping pipeline: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	tail := e.tail
	e.tail = nil
	if stopErr == nil && e.busErr != nil {
		stopErr = e.busErr
	}
	return tail, stopErr
}

func (e *encoder) shutdown() error {
	e.mu.Lock()
	pipeline := e.pipeline
	e.stopping = true
	e.mu.Unlock()
	if pipeline == nil {
		return nil
	}
	return pipeline.SetState(gst.StateNull)
}
