package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/valter-silva-au/interview-capture/pkg/models"
)

// ControllerOptions parameterises the interview flow.
type ControllerOptions struct {
	Duration       time.Duration
	TimerEnabled   bool
	ChatEnabled    bool
	ShareScreen    bool // ask for a screen share when the interview starts
	RecordScreen   bool // record the screen share as a second artifact
	EndOnShareStop bool
	TickInterval   time.Duration
	ContentType    string
}

// ControllerOptionsFromConfig maps interview settings onto controller options.
func ControllerOptionsFromConfig(cfg models.InterviewConfig, contentType string) ControllerOptions {
	return ControllerOptions{
		Duration:       cfg.Duration,
		TimerEnabled:   cfg.TimerEnabled,
		ChatEnabled:    cfg.ChatEnabled,
		ShareScreen:    cfg.ShareScreen,
		RecordScreen:   cfg.RecordScreen,
		EndOnShareStop: cfg.EndOnShareStop,
		TickInterval:   time.Second,
		ContentType:    contentType,
	}
}

// SessionController drives one interview from instructions to upload.
//
//	instructions -> permissions-pending -> ready -> recording -> uploading -> completed
//	                        |                                        |
//	                        +--------------> failed <----------------+
type SessionController struct {
	id         string
	opts       ControllerOptions
	gateway    MediaGateway
	registry   *StreamRegistry
	dispatcher UploadDispatcher
	events     EventLogger
	now        func() time.Time

	// ctx is cancelled by Close; it bounds uploads and background watchers.
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       models.ControllerState
	lastErr     error
	starting    bool
	captures    []*CaptureSession
	pending     int
	artifacts   []*UploadArtifact
	captureErrs []error
	acks        []*Ack
	answers     []models.Answer
	timer       *InterviewTimer
	stopTimer   context.CancelFunc
	subscribers []chan models.Transition
	done        chan struct{}
	closeOnce   sync.Once
}

// NewSessionController creates a controller in the instructions state.
// events may be nil.
func NewSessionController(gateway MediaGateway, dispatcher UploadDispatcher, events EventLogger, opts ControllerOptions) *SessionController {
	if opts.ContentType == "" {
		opts.ContentType = DefaultContentType
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionController{
		id:         uuid.NewString(),
		opts:       opts,
		gateway:    gateway,
		registry:   NewStreamRegistry(),
		dispatcher: dispatcher,
		events:     events,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		state:      models.StateInstructions,
		done:       make(chan struct{}),
	}
}

// ID returns the session identifier used for artifacts and events.
func (c *SessionController) ID() string { return c.id }

// Options returns the options the controller was created with.
func (c *SessionController) Options() ControllerOptions { return c.opts }

// Registry returns the session's stream registry.
func (c *SessionController) Registry() *StreamRegistry { return c.registry }

// State returns the current state.
func (c *SessionController) State() models.ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the most recent user-visible error, or nil.
func (c *SessionController) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Answers returns the answers submitted so far.
func (c *SessionController) Answers() []models.Answer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Answer, len(c.answers))
	copy(out, c.answers)
	return out
}

// Acks returns the upload acknowledgements received.
func (c *SessionController) Acks() []*Ack {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Ack, len(c.acks))
	copy(out, c.acks)
	return out
}

// Remaining returns the time left on the interview timer.
func (c *SessionController) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer == nil {
		return c.opts.Duration
	}
	return c.timer.Remaining()
}

// Done is closed when the controller reaches completed or failed.
func (c *SessionController) Done() <-chan struct{} { return c.done }

// Subscribe returns a channel of transitions. The channel is closed once the
// controller reaches a terminal state.
func (c *SessionController) Subscribe() <-chan models.Transition {
	ch := make(chan models.Transition, 64)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Terminal() {
		close(ch)
		return ch
	}
	c.subscribers = append(c.subscribers, ch)
	return ch
}

// RequestPermissions asks for camera and microphone access. A denial fails
// the session; there is no automatic retry.
func (c *SessionController) RequestPermissions(ctx context.Context) error {
	c.mu.Lock()
	if c.state != models.StateInstructions {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("requesting permissions in state %s: %w", st, ErrInvalidTransition)
	}
	c.transitionLocked(models.StatePermissionsPending, "requesting camera and microphone")
	c.mu.Unlock()

	h, err := c.gateway.AcquireCamera(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != models.StatePermissionsPending {
		if h != nil {
			_ = h.Release()
		}
		return fmt.Errorf("session %s closed while requesting permissions: %w", c.id, ErrInvalidTransition)
	}
	if err != nil {
		c.lastErr = err
		if errors.Is(err, ErrPermissionDenied) {
			c.logEvent("permission.denied", map[string]any{"kind": string(models.MediaCamera)})
		}
		c.transitionLocked(models.StateFailed, err.Error())
		return err
	}
	if err := c.registry.Set(h); err != nil {
		_ = h.Release()
		c.lastErr = err
		c.transitionLocked(models.StateFailed, err.Error())
		return err
	}
	c.transitionLocked(models.StateReady, "permissions granted")
	return nil
}

// Begin starts recording. If a screen share is required and the user cancels
// or denies it, the controller stays ready and LastError reports why.
func (c *SessionController) Begin(ctx context.Context) error {
	c.mu.Lock()
	if c.state != models.StateReady || c.starting {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("starting interview in state %s: %w", st, ErrInvalidTransition)
	}
	c.starting = true
	c.lastErr = nil
	needScreen := c.opts.ShareScreen || c.opts.RecordScreen
	c.mu.Unlock()

	var screen *MediaStreamHandle
	if needScreen {
		var err error
		screen, err = c.acquireScreen(ctx)
		if err != nil {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.starting = false
			c.lastErr = err
			if errors.Is(err, ErrPermissionDenied) {
				c.logEvent("permission.denied", map[string]any{"kind": string(models.MediaScreen)})
			}
			c.notifyLocked(models.Transition{
				SessionID: c.id,
				From:      c.state,
				To:        c.state,
				Reason:    err.Error(),
				At:        c.now().UTC(),
			})
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.starting = false
	if c.state != models.StateReady {
		if screen != nil {
			c.registry.Clear(models.MediaScreen)
			_ = screen.Release()
		}
		return fmt.Errorf("session %s closed while starting: %w", c.id, ErrInvalidTransition)
	}

	camCapture := NewCaptureSession(c.id, c.opts.ContentType, c.handleCaptureComplete)
	if err := camCapture.Start(c.registry.Camera()); err != nil {
		c.lastErr = err
		c.transitionLocked(models.StateFailed, err.Error())
		return err
	}
	c.captures = []*CaptureSession{camCapture}

	if c.opts.RecordScreen && screen != nil {
		screenCapture := NewCaptureSession(c.id, c.opts.ContentType, c.handleCaptureComplete)
		if err := screenCapture.Start(screen); err != nil {
			c.lastErr = err
			slog.Warn("screen capture did not start, recording camera only", "session_id", c.id, "error", err)
		} else {
			c.captures = append(c.captures, screenCapture)
		}
	}
	c.pending = len(c.captures)

	c.transitionLocked(models.StateRecording, "interview started")
	c.logEvent("session.started", map[string]any{
		"duration_seconds": int(c.opts.Duration / time.Second),
		"record_screen":    len(c.captures) > 1,
		"timer_enabled":    c.opts.TimerEnabled,
	})
	if c.opts.TimerEnabled {
		c.startTimerLocked()
	}
	return nil
}

func (c *SessionController) acquireScreen(ctx context.Context) (*MediaStreamHandle, error) {
	if existing := c.registry.Screen(); existing != nil {
		if existing.Live() {
			return existing, nil
		}
		c.registry.Clear(models.MediaScreen)
		_ = existing.Release()
	}

	h, err := c.gateway.AcquireScreen(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.registry.Set(h); err != nil {
		_ = h.Release()
		return nil, err
	}
	go c.watchShare(h)
	return h, nil
}

// watchShare reacts to the platform stopping a screen share.
func (c *SessionController) watchShare(h *MediaStreamHandle) {
	select {
	case <-h.Ended():
	case <-c.ctx.Done():
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Terminal() {
		return
	}
	c.logEvent("screen.ended", map[string]any{"stream_id": h.ID()})
	c.notifyLocked(models.Transition{
		SessionID: c.id,
		From:      c.state,
		To:        c.state,
		Reason:    "screen sharing stopped",
		At:        c.now().UTC(),
	})
	if c.opts.EndOnShareStop && c.state == models.StateRecording {
		_ = c.endLocked("screen sharing stopped")
	}
}

// End finishes the interview. Manual end and timer expiry share this path;
// only the first call while recording stops the captures.
func (c *SessionController) End(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endLocked(reason)
}

func (c *SessionController) endLocked(reason string) error {
	switch c.state {
	case models.StateRecording:
	case models.StateUploading, models.StateCompleted, models.StateFailed:
		return nil
	default:
		return fmt.Errorf("ending interview in state %s: %w", c.state, ErrInvalidTransition)
	}

	c.stopTimerLocked()
	c.transitionLocked(models.StateUploading, reason)
	for _, cs := range c.captures {
		if err := cs.Stop(context.Background()); err != nil {
			slog.Warn("stopping capture", "session_id", c.id, "kind", cs.Kind(), "error", err)
		}
	}
	return nil
}

// SubmitAnswer records a typed answer while recording.
func (c *SessionController) SubmitAnswer(text string) error {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opts.ChatEnabled {
		return fmt.Errorf("answers are disabled for this session: %w", ErrInvalidTransition)
	}
	if c.state != models.StateRecording {
		return fmt.Errorf("submitting answer in state %s: %w", c.state, ErrInvalidTransition)
	}
	if text == "" {
		return errors.New("answer is empty")
	}
	c.answers = append(c.answers, models.Answer{Text: text, At: c.now().UTC()})
	c.logEvent("answer.submitted", map[string]any{"length": len(text)})
	return nil
}

func (c *SessionController) handleCaptureComplete(s *CaptureSession, artifact *UploadArtifact, err error) {
	c.mu.Lock()
	c.pending--
	if err != nil {
		c.captureErrs = append(c.captureErrs, err)
		c.logEvent("capture.failed", map[string]any{
			"kind":  string(s.Kind()),
			"error": err.Error(),
		})
	} else {
		c.artifacts = append(c.artifacts, artifact)
		c.logEvent("capture.completed", map[string]any{
			"kind":        string(artifact.Kind),
			"chunks":      artifact.Chunks,
			"bytes":       artifact.Size(),
			"duration_ms": artifact.Duration.Milliseconds(),
		})
	}
	if c.pending > 0 {
		c.mu.Unlock()
		return
	}
	if len(c.captureErrs) > 0 {
		c.artifacts = nil
		c.failLocked(errors.Join(c.captureErrs...), "recording failed")
		c.mu.Unlock()
		return
	}
	artifacts := c.artifacts
	c.artifacts = nil
	c.mu.Unlock()

	acks, uploadErr := c.dispatch(artifacts)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.acks = append(c.acks, acks...)
	if c.state != models.StateUploading {
		return
	}
	if uploadErr != nil {
		c.failLocked(uploadErr, "upload failed")
		return
	}
	c.transitionLocked(models.StateCompleted, "recording uploaded")
}

// dispatch sends every artifact and discards it afterwards.
func (c *SessionController) dispatch(artifacts []*UploadArtifact) ([]*Ack, error) {
	var acks []*Ack
	var errs []error
	for _, a := range artifacts {
		ack, err := c.dispatcher.Send(c.ctx, a)
		c.mu.Lock()
		if err != nil {
			data := map[string]any{"kind": string(a.Kind), "bytes": a.Size(), "error": err.Error()}
			var te *TransportError
			if errors.As(err, &te) {
				data["status_code"] = te.StatusCode
				data["attempts"] = te.Attempts
			}
			c.logEvent("upload.failed", data)
			errs = append(errs, err)
		} else {
			c.logEvent("upload.succeeded", map[string]any{
				"kind":        string(a.Kind),
				"bytes":       a.Size(),
				"status_code": ack.StatusCode,
				"attempts":    ack.Attempts,
			})
			acks = append(acks, ack)
		}
		c.mu.Unlock()
	}
	return acks, errors.Join(errs...)
}

// Close ends the session, waits for captures and uploads to settle or ctx to
// expire, and releases every stream.
func (c *SessionController) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() { err = c.close(ctx) })
	return err
}

func (c *SessionController) close(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.state == models.StateRecording:
		_ = c.endLocked("session closed")
	case c.state == models.StateUploading, c.state.Terminal():
	default:
		// Keep the error from a failed permission request or Begin.
		err := c.lastErr
		if err == nil {
			err = ErrUserCancelled
		}
		c.failLocked(err, "session closed")
	}
	c.stopTimerLocked()
	captures := make([]*CaptureSession, len(c.captures))
	copy(captures, c.captures)
	c.mu.Unlock()

	var errs []error
	for _, cs := range captures {
		if _, err := cs.Wait(ctx); err != nil && ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("waiting for %s capture: %w", cs.Kind(), err))
			break
		}
	}

	c.cancel()
	select {
	case <-c.done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for session %s: %w", c.id, ctx.Err()))
	}

	if err := c.registry.Teardown(); err != nil {
		errs = append(errs, fmt.Errorf("releasing streams: %w", err))
	}
	return errors.Join(errs...)
}

func (c *SessionController) startTimerLocked() {
	tctx, cancel := context.WithCancel(c.ctx)
	c.stopTimer = cancel
	c.timer = NewInterviewTimer(c.opts.Duration, func() {
		_ = c.End("time is up")
	})
	go c.timer.Run(tctx, c.opts.TickInterval)
}

func (c *SessionController) stopTimerLocked() {
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
}

func (c *SessionController) failLocked(err error, reason string) {
	if c.state.Terminal() {
		return
	}
	c.lastErr = err
	c.transitionLocked(models.StateFailed, reason+": "+err.Error())
}

func (c *SessionController) transitionLocked(to models.ControllerState, reason string) {
	if c.state.Terminal() {
		return
	}
	tr := models.Transition{
		SessionID: c.id,
		From:      c.state,
		To:        to,
		Reason:    reason,
		At:        c.now().UTC(),
	}
	c.state = to
	c.logEvent("session.transition", map[string]any{
		"from":   string(tr.From),
		"to":     string(tr.To),
		"reason": reason,
	})
	c.notifyLocked(tr)

	if to.Terminal() {
		c.stopTimerLocked()
		for _, sub := range c.subscribers {
			close(sub)
		}
		c.subscribers = nil
		close(c.done)
	}
}

func (c *SessionController) notifyLocked(tr models.Transition) {
	for _, sub := range c.subscribers {
		select {
		case sub <- tr:
		default:
			slog.Warn("dropping transition for slow subscriber", "session_id", c.id, "to", tr.To)
		}
	}
}

func (c *SessionController) logEvent(eventType string, data map[string]any) {
	if c.events == nil {
		return
	}
	if data == nil {
		data = make(map[string]any)
	}
	data["session_id"] = c.id
	if err := c.events.LogEvent(eventType, data); err != nil {
		slog.Warn("writing session event", "type", eventType, "error", err)
	}
}
