// Package janitor evicts expired bodies, attachment files and old log rows
package janitor

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/metrics"
	"github.com/brandon/mailsync/pkg/types"
)

// Store is the part of the cache the janitor sweeps
type Store interface {
	ExpireBodies(ctx context.Context, now time.Time) (int64, error)
	ExpiredAttachments(ctx context.Context, now time.Time) ([]types.Attachment, error)
	PathInUse(ctx context.Context, path string, excludeID int64, now time.Time) (bool, error)
	ClearAttachmentPath(ctx context.Context, id int64) error
	PruneLogs(ctx context.Context, cutoff time.Time) (int64, error)
}

// Report counts what one sweep removed
type Report struct {
	BodiesExpired      int64 `json:"bodies_expired"`
	AttachmentsEvicted int64 `json:"attachments_evicted"`
	FilesDeleted       int64 `json:"files_deleted"`
	LogsPruned         int64 `json:"logs_pruned"`
}

// Janitor sweeps the cache
type Janitor struct {
	store     Store
	retention time.Duration
	logger    *logrus.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// New creates a janitor. A zero retention keeps log rows forever.
func New(store Store, retention time.Duration, logger *logrus.Logger, m *metrics.Metrics) *Janitor {
	return &Janitor{
		store:     store,
		retention: retention,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// SetClock overrides the wall clock
func (j *Janitor) SetClock(now func() time.Time) {
	j.now = now
}

// Run performs one sweep. Header rows are never removed.
func (j *Janitor) Run(ctx context.Context) (*Report, error) {
	now := j.now()
	report := &Report{}

	n, err := j.store.ExpireBodies(ctx, now)
	if err != nil {
		return report, err
	}
	report.BodiesExpired = n
	j.metrics.Evicted("body", n)

	atts, err := j.store.ExpiredAttachments(ctx, now)
	if err != nil {
		return report, err
	}
	for _, a := range atts {
		logger := j.logger.WithFields(logrus.Fields{
			"attachment_id": a.ID,
			"path":          a.StoragePath,
		})

		inUse, err := j.store.PathInUse(ctx, a.StoragePath, a.ID, now)
		if err != nil {
			return report, err
		}
		if !inUse {
			// file first, row second: a failed delete is retried next sweep
			if err := os.Remove(a.StoragePath); err != nil && !errors.Is(err, os.ErrNotExist) {
				logger.WithError(err).Warn("Failed to delete attachment file")
				continue
			} else if err == nil {
				report.FilesDeleted++
			}
		}
		if err := j.store.ClearAttachmentPath(ctx, a.ID); err != nil {
			return report, err
		}
		report.AttachmentsEvicted++
	}
	j.metrics.Evicted("attachment", report.AttachmentsEvicted)

	if j.retention > 0 {
		pruned, err := j.store.PruneLogs(ctx, now.Add(-j.retention))
		if err != nil {
			return report, err
		}
		report.LogsPruned = pruned
		j.metrics.Evicted("log", pruned)
	}

	j.logger.WithFields(logrus.Fields{
		"bodies":      report.BodiesExpired,
		"attachments": report.AttachmentsEvicted,
		"files":       report.FilesDeleted,
		"logs":        report.LogsPruned,
	}).Info("Cache cleanup complete")
	return report, nil
}
