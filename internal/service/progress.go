package service

import (
	"github.com/inkfable/story-illustrator/internal/session"
)

// Progress is a point-in-time view of a session's batch run, cheap enough
// to poll for streaming.
type Progress struct {
	SessionID string             `json:"sessionId"`
	State     session.BatchState `json:"state"`
	Total     int                `json:"total"`
	Completed int                `json:"completed"`
	FailedIDs []string           `json:"failedIds"`
}

// Progress reports the session's current generation progress.
func (o *Orchestrator) Progress(sessionID string) (Progress, bool) {
	snapshot, ok := o.registry.Get(sessionID)
	if !ok {
		return Progress{}, false
	}
	return Progress{
		SessionID: snapshot.ID,
		State:     snapshot.State,
		Total:     len(snapshot.Storyboards),
		Completed: len(snapshot.Results),
		FailedIDs: snapshot.FailedIDs,
	}, true
}
