package store

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// NewCampaign holds the fields for CreateCampaign.
type NewCampaign struct {
	Name        string
	Kind        string
	Schedule    string
	Payload     []byte
	Description string
	Enabled     bool
}

// CampaignUpdate lists the editable campaign fields. Nil means unchanged.
type CampaignUpdate struct {
	Schedule    *string
	Payload     []byte
	Description *string
	Enabled     *bool
}

// CreateCampaign inserts a campaign. A duplicate name yields ErrConflict.
func (s *Store) CreateCampaign(ctx context.Context, nc NewCampaign) (*models.Campaign, error) {
	c := models.Campaign{
		Name:        nc.Name,
		Kind:        nc.Kind,
		Schedule:    nc.Schedule,
		Payload:     datatypes.JSON(nc.Payload),
		Description: nc.Description,
		Enabled:     nc.Enabled,
	}
	if err := s.conn(ctx).Create(&c).Error; err != nil {
		return nil, translate("create campaign "+nc.Name, err)
	}
	return s.GetCampaign(ctx, c.ID)
}

// GetCampaign returns the campaign with the given ID.
func (s *Store) GetCampaign(ctx context.Context, id uint) (*models.Campaign, error) {
	var c models.Campaign
	if err := s.conn(ctx).First(&c, id).Error; err != nil {
		return nil, translate(fmt.Sprintf("get campaign %d", id), err)
	}
	return &c, nil
}

// ListCampaigns returns campaigns ordered by name. With enabledOnly,
// disabled campaigns are excluded.
func (s *Store) ListCampaigns(ctx context.Context, enabledOnly bool) ([]models.Campaign, error) {
	q := s.conn(ctx).Order("name ASC")
	if enabledOnly {
		q = q.Where("enabled = ?", true)
	}
	var out []models.Campaign
	if err := q.Find(&out).Error; err != nil {
		return nil, translate("list campaigns", err)
	}
	return out, nil
}

// UpdateCampaign applies the set fields of upd and returns the re-read row.
func (s *Store) UpdateCampaign(ctx context.Context, id uint, upd CampaignUpdate) (*models.Campaign, error) {
	if _, err := s.GetCampaign(ctx, id); err != nil {
		return nil, err
	}

	fields := map[string]interface{}{}
	if upd.Schedule != nil {
		fields["schedule"] = *upd.Schedule
	}
	if upd.Payload != nil {
		fields["payload"] = datatypes.JSON(upd.Payload)
	}
	if upd.Description != nil {
		fields["description"] = *upd.Description
	}
	if upd.Enabled != nil {
		fields["enabled"] = *upd.Enabled
	}
	if len(fields) > 0 {
		if err := s.conn(ctx).Model(&models.Campaign{}).Where("id = ?", id).Updates(fields).Error; err != nil {
			return nil, translate(fmt.Sprintf("update campaign %d", id), err)
		}
	}
	return s.GetCampaign(ctx, id)
}

// RecordCampaignRun stamps the last run time and bumps the run counter.
func (s *Store) RecordCampaignRun(ctx context.Context, id uint, at time.Time) error {
	result := s.conn(ctx).Model(&models.Campaign{}).Where("id = ?", id).Updates(map[string]interface{}{
		"last_run_at":     at,
		"total_run_count": gorm.Expr("total_run_count + 1"),
	})
	if result.Error != nil {
		return translate(fmt.Sprintf("record campaign run %d", id), result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("store: record campaign run %d: %w", id, ErrNotFound)
	}
	return nil
}
