package journal

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cyroid/cyroid/pkg/models"
	"github.com/cyroid/cyroid/pkg/store"
)

// Journal appends lifecycle events to the range event log. Writes happen
// in the same unit of work as the action that triggered them, so a failed
// write must never fail the action: it is logged and swallowed.
type Journal struct {
	Log  *logrus.Entry
	repo store.Repository
}

func New(log *logrus.Entry, repo store.Repository) *Journal {
	return &Journal{Log: log, repo: repo}
}

// Record appends one event. vmID may be empty for range-scoped events.
func (j *Journal) Record(ctx context.Context, rangeID, vmID string, kind models.EventKind, message string, extra map[string]string) {
	e := &models.EventLogEntry{
		RangeID:   rangeID,
		VMID:      vmID,
		Kind:      kind,
		Message:   message,
		Extra:     extra,
		Timestamp: time.Now(),
	}
	if err := j.repo.AppendEvent(ctx, e); err != nil {
		j.Log.WithError(err).WithFields(logrus.Fields{
			"range": rangeID,
			"kind":  kind,
		}).Error("failed to journal event")
	}
}

// List returns events for a range, newest first. kind narrows the result
// when non-empty; limit <= 0 means no limit.
func (j *Journal) List(ctx context.Context, rangeID string, kind models.EventKind, limit, offset int) ([]*models.EventLogEntry, error) {
	return j.repo.EventsByRange(ctx, rangeID, kind, limit, offset)
}
