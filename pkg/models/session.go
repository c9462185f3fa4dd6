package models

import "time"

// MediaKind identifies the source of a media stream.
type MediaKind string

const (
	MediaCamera MediaKind = "camera"
	MediaScreen MediaKind = "screen"
)

// CaptureStatus is the lifecycle status of a capture session.
type CaptureStatus string

const (
	CaptureIdle       CaptureStatus = "idle"
	CaptureRecording  CaptureStatus = "recording"
	CaptureFinalizing CaptureStatus = "finalizing"
	CaptureCompleted  CaptureStatus = "completed"
	CaptureFailed     CaptureStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s CaptureStatus) Terminal() bool {
	return s == CaptureCompleted || s == CaptureFailed
}

// ControllerState is the state of the interview session controller.
type ControllerState string

const (
	StateInstructions       ControllerState = "instructions"
	StatePermissionsPending ControllerState = "permissions-pending"
	StateReady              ControllerState = "ready"
	StateRecording          ControllerState = "recording"
	StateUploading          ControllerState = "uploading"
	StateCompleted          ControllerState = "completed"
	StateFailed             ControllerState = "failed"
)

// Terminal reports whether the controller has finished.
func (s ControllerState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Transition records a controller state change.
type Transition struct {
	SessionID string          `json:"session_id"`
	From      ControllerState `json:"from"`
	To        ControllerState `json:"to"`
	Reason    string          `json:"reason,omitempty"`
	At        time.Time       `json:"at"`
}

// Answer is a typed response submitted by the candidate while recording.
type Answer struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}
