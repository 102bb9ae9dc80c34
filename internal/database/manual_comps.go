package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"compvalue/server/internal/models"
)

var ErrManualCompNotFound = errors.New("manual comp not found")

// ManualCompStore persists user-submitted comp links.
type ManualCompStore struct {
	db *gorm.DB
}

func NewManualCompStore(d *Database) *ManualCompStore {
	return &ManualCompStore{db: d.gorm}
}

func (s *ManualCompStore) Add(ctx context.Context, comp *models.ManualComp) error {
	if comp.ID == "" {
		comp.ID = uuid.NewString()
	}
	if comp.CreatedAt.IsZero() {
		comp.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(comp).Error; err != nil {
		return fmt.Errorf("failed to save manual comp: %w", err)
	}
	return nil
}

// ListBySubject returns a subject's manual comps, oldest first.
func (s *ManualCompStore) ListBySubject(ctx context.Context, subjectID string) ([]models.ManualComp, error) {
	var out []models.ManualComp
	err := s.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list manual comps: %w", err)
	}
	return out, nil
}

func (s *ManualCompStore) Get(ctx context.Context, id string) (*models.ManualComp, error) {
	var comp models.ManualComp
	err := s.db.WithContext(ctx).First(&comp, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrManualCompNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get manual comp: %w", err)
	}
	return &comp, nil
}

func (s *ManualCompStore) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&models.ManualComp{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete manual comp: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrManualCompNotFound
	}
	return nil
}
