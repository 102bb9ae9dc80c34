// Package recorder keeps the append-only audit trail of saved analyses.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"compvalue/server/internal/models"
)

var (
	ErrNotFound       = errors.New("analysis record not found")
	ErrMissingSubject = errors.New("analysis record needs a subject id")
	ErrMissingActor   = errors.New("analysis record needs an actor")
)

type Options struct {
	MaxRetries int
	RetryDelay time.Duration
}

// Recorder writes and reads analysis snapshots. Records are never updated.
type Recorder struct {
	db     *gorm.DB
	opts   Options
	logger *logrus.Logger
}

func NewRecorder(db *gorm.DB, opts Options, logger *logrus.Logger) *Recorder {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Recorder{db: db, opts: opts, logger: logger}
}

// Save appends a snapshot. ID and CreatedAt are assigned here; any values the
// caller set are replaced.
func (r *Recorder) Save(ctx context.Context, rec *models.AnalysisRecord) error {
	if strings.TrimSpace(rec.SubjectID) == "" {
		return ErrMissingSubject
	}
	if strings.TrimSpace(rec.Actor) == "" {
		return ErrMissingActor
	}
	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Now().UTC()

	var err error
	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			r.logger.Infof("Retrying analysis save, attempt %d of %d", attempt, r.opts.MaxRetries)
			select {
			case <-time.After(r.opts.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(rec).Error; err != nil {
				return fmt.Errorf("failed to insert analysis record: %w", err)
			}
			return nil
		})

		if err == nil {
			r.logger.WithFields(logrus.Fields{
				"id":      rec.ID,
				"subject": rec.SubjectID,
				"comps":   len(rec.Comparables),
			}).Info("Saved analysis record")
			return nil
		}

		r.logger.WithError(err).Error("Failed to save analysis record")
	}

	return fmt.Errorf("failed to save analysis after %d attempts: %w", r.opts.MaxRetries+1, err)
}

// List returns a subject's records, newest first.
func (r *Recorder) List(ctx context.Context, subjectID string) ([]models.AnalysisRecord, error) {
	var out []models.AnalysisRecord
	err := r.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis records: %w", err)
	}
	return out, nil
}

func (r *Recorder) Get(ctx context.Context, id string) (*models.AnalysisRecord, error) {
	var rec models.AnalysisRecord
	err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis record: %w", err)
	}
	return &rec, nil
}

// Delete removes a single record.
func (r *Recorder) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.AnalysisRecord{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete analysis record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
