package api

import (
	"encoding/json"
	"time"

	"github.com/zulandar/signalbox/internal/models"
)

type messageView struct {
	UUID       string    `json:"uuid"`
	Theme      string    `json:"theme"`
	Text       string    `json:"text"`
	Priority   int       `json:"priority"`
	IsNotified bool      `json:"is_notified"`
	IsRead     bool      `json:"is_read"`
	ToUserUUID string    `json:"to_user_uuid"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func newMessageView(m *models.Message) messageView {
	return messageView{
		UUID:       m.UUID,
		Theme:      m.Theme,
		Text:       m.Text,
		Priority:   int(m.Priority),
		IsNotified: m.IsNotified,
		IsRead:     m.IsRead,
		ToUserUUID: m.ToUserUUID,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func newMessageViews(ms []models.Message) []messageView {
	out := make([]messageView, len(ms))
	for i := range ms {
		out[i] = newMessageView(&ms[i])
	}
	return out
}

type userView struct {
	UUID                  string `json:"uuid"`
	Email                 string `json:"email"`
	Timezone              string `json:"timezone"`
	AcceptsEmail          bool   `json:"accepts_email"`
	AcceptsInApp          bool   `json:"accepts_in_app"`
	AcceptsInstantMessage bool   `json:"accepts_instant_message"`
	IMHandle              string `json:"im_handle"`
}

func newUserView(u *models.User) userView {
	return userView{
		UUID:                  u.UUID,
		Email:                 u.Email,
		Timezone:              u.Timezone,
		AcceptsEmail:          u.AcceptsEmail,
		AcceptsInApp:          u.AcceptsInApp,
		AcceptsInstantMessage: u.AcceptsInstantMessage,
		IMHandle:              u.IMHandle,
	}
}

type campaignView struct {
	ID            uint            `json:"id"`
	Name          string          `json:"name"`
	Kind          string          `json:"kind"`
	Schedule      string          `json:"schedule"`
	Payload       json.RawMessage `json:"payload"`
	Enabled       bool            `json:"enabled"`
	Description   string          `json:"description"`
	LastRunAt     *time.Time      `json:"last_run_at"`
	TotalRunCount int             `json:"total_run_count"`
}

func newCampaignView(c *models.Campaign) campaignView {
	return campaignView{
		ID:            c.ID,
		Name:          c.Name,
		Kind:          c.Kind,
		Schedule:      c.Schedule,
		Payload:       json.RawMessage(c.Payload),
		Enabled:       c.Enabled,
		Description:   c.Description,
		LastRunAt:     c.LastRunAt,
		TotalRunCount: c.TotalRunCount,
	}
}
