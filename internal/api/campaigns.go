package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/signalbox/internal/campaign"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/queue"
)

// Campaigns manages scheduled campaigns.
type Campaigns interface {
	Create(ctx context.Context, spec campaign.Spec) (*models.Campaign, error)
	Update(ctx context.Context, id uint, upd campaign.Update) (*models.Campaign, error)
	Disable(ctx context.Context, id uint) (*models.Campaign, error)
	Get(ctx context.Context, id uint) (*models.Campaign, error)
	List(ctx context.Context) ([]models.Campaign, error)
	Fire(ctx context.Context, id uint) (queue.Job, error)
}

type createCampaignRequest struct {
	Name        string          `json:"name" binding:"required"`
	Kind        string          `json:"kind" binding:"required"`
	Schedule    string          `json:"schedule" binding:"required"`
	Payload     json.RawMessage `json:"payload"`
	Description string          `json:"description"`
	Enabled     *bool           `json:"enabled"`
}

type updateCampaignRequest struct {
	Schedule    *string         `json:"schedule"`
	Payload     json.RawMessage `json:"payload"`
	Description *string         `json:"description"`
	Enabled     *bool           `json:"enabled"`
}

func campaignID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, fmt.Errorf("invalid campaign id %q", c.Param("id")))
		return 0, false
	}
	return uint(id), true
}

func (s *Server) handleListCampaigns(c *gin.Context) {
	list, err := s.campaigns.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]campaignView, len(list))
	for i := range list {
		out[i] = newCampaignView(&list[i])
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleCreateCampaign(c *gin.Context) {
	var req createCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	cmp, err := s.campaigns.Create(c.Request.Context(), campaign.Spec{
		Name:        req.Name,
		Kind:        queue.Kind(req.Kind),
		Schedule:    req.Schedule,
		Payload:     req.Payload,
		Description: req.Description,
		Enabled:     enabled,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newCampaignView(cmp))
}

func (s *Server) handleGetCampaign(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	cmp, err := s.campaigns.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCampaignView(cmp))
}

func (s *Server) handleUpdateCampaign(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	var req updateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cmp, err := s.campaigns.Update(c.Request.Context(), id, campaign.Update{
		Schedule:    req.Schedule,
		Payload:     req.Payload,
		Description: req.Description,
		Enabled:     req.Enabled,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCampaignView(cmp))
}

func (s *Server) handleDisableCampaign(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	cmp, err := s.campaigns.Disable(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCampaignView(cmp))
}

func (s *Server) handleFireCampaign(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	job, err := s.campaigns.Fire(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"detail": "ok", "task_id": job.ID})
}
