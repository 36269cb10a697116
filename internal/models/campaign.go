package models

import (
	"time"

	"gorm.io/datatypes"
)

// Campaign is a named, cron-scheduled job submission authored by an operator.
type Campaign struct {
	ID            uint           `gorm:"primaryKey;autoIncrement"`
	Name          string         `gorm:"size:255;not null;uniqueIndex"`
	Kind          string         `gorm:"size:64;not null"`
	Schedule      string         `gorm:"size:128;not null"`
	Payload       datatypes.JSON `gorm:"type:json"`
	Enabled       bool           `gorm:"index"`
	Description   string         `gorm:"type:text"`
	LastRunAt     *time.Time
	TotalRunCount int `gorm:"default:0"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
