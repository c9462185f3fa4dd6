package core

import (
	"fmt"
	"time"

	"github.com/valter-silva-au/interview-capture/pkg/models"
)

// DefaultContentType is the container type produced by every capture backend.
const DefaultContentType = "video/webm"

// RecordingChunk is one encoded blob in arrival order.
type RecordingChunk struct {
	Seq  uint64
	Data []byte
	At   time.Time
}

// UploadArtifact is the finished recording of one capture session.
type UploadArtifact struct {
	SessionID   string
	Kind        models.MediaKind
	ContentType string
	Data        []byte
	Chunks      int
	Duration    time.Duration
	CreatedAt   time.Time
}

// Size returns the artifact length in bytes.
func (a *UploadArtifact) Size() int { return len(a.Data) }

// Filename is the name the artifact is uploaded under.
func (a *UploadArtifact) Filename() string {
	return fmt.Sprintf("%s-%s%s", a.SessionID, a.Kind, extensionFor(a.ContentType))
}

var extensions = map[string]string{
	"video/webm":       ".webm",
	"audio/webm":       ".webm",
	"video/x-matroska": ".mkv",
	"video/mp4":        ".mp4",
}

func extensionFor(contentType string) string {
	if ext, ok := extensions[contentType]; ok {
		return ext
	}
	return ".bin"
}

// assembleArtifact concatenates chunk data in sequence order.
func assembleArtifact(sessionID string, kind models.MediaKind, contentType string, chunks []RecordingChunk, startedAt, now time.Time) *UploadArtifact {
	size := 0
	for _, c := range chunks {
		size += len(c.Data)
	}
	data := make([]byte, 0, size)
	for _, c := range chunks {
		data = append(data, c.Data...)
	}
	return &UploadArtifact{
		SessionID:   sessionID,
		Kind:        kind,
		ContentType: contentType,
		Data:        data,
		Chunks:      len(chunks),
		Duration:    now.Sub(startedAt),
		CreatedAt:   now,
	}
}
