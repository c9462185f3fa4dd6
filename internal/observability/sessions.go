package observability

import (
	"fmt"
	"sort"
	"time"
)

// SessionSummary condenses the events of one interview session.
type SessionSummary struct {
	ID             string    `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	State          string    `json:"state"`
	Reason         string    `json:"reason,omitempty"`
	BytesUploaded  int64     `json:"bytes_uploaded"`
	Uploads        int       `json:"uploads"`
	UploadFailures int       `json:"upload_failures"`
	Answers        int       `json:"answers"`
}

// SummarizeSessions groups events by session and returns one summary per
// session, most recently updated first. Events without a session are ignored.
func SummarizeSessions(events []Event) []SessionSummary {
	byID := make(map[string]*SessionSummary)
	for _, event := range events {
		id := event.SessionID()
		if id == "" {
			continue
		}
		s, ok := byID[id]
		if !ok {
			s = &SessionSummary{ID: id, StartedAt: event.Time, State: "instructions"}
			byID[id] = s
		}
		if event.Time.Before(s.StartedAt) {
			s.StartedAt = event.Time
		}
		if event.Time.After(s.UpdatedAt) {
			s.UpdatedAt = event.Time
		}

		switch event.Type {
		case "session.transition":
			if to, ok := event.Data["to"].(string); ok {
				s.State = to
			}
			s.Reason, _ = event.Data["reason"].(string)
		case "upload.succeeded":
			s.Uploads++
			s.BytesUploaded += int64(numberField(event.Data, "bytes"))
		case "upload.failed":
			s.UploadFailures++
		case "answer.submitted":
			s.Answers++
		}
	}

	out := make([]SessionSummary, 0, len(byID))
	for _, s := range byID {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// ListSessions reads events since the given time and summarizes them.
func ListSessions(eventLog EventLog, since time.Time) ([]SessionSummary, error) {
	events, err := eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for sessions: %w", err)
	}
	return SummarizeSessions(events), nil
}
