package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/signalbox/internal/availability"
	"github.com/zulandar/signalbox/internal/store"
)

type createUserRequest struct {
	UUID  string `json:"uuid" binding:"required"`
	Email string `json:"email" binding:"required,email"`
}

type updateUserRequest struct {
	Timezone              *string `json:"timezone"`
	IMHandle              *string `json:"im_handle"`
	AcceptsEmail          *bool   `json:"accepts_email"`
	AcceptsInApp          *bool   `json:"accepts_in_app"`
	AcceptsInstantMessage *bool   `json:"accepts_instant_message"`
}

type markReadRequest struct {
	UUIDs []string `json:"uuids" binding:"required,min=1"`
}

type updateMessageRequest struct {
	Theme  *string `json:"theme"`
	Text   *string `json:"text"`
	IsRead *bool   `json:"is_read"`
}

func (s *Server) handleGetOrCreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, created, err := s.store.GetOrCreateUser(c.Request.Context(), req.UUID, req.Email)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, newUserView(u))
}

func (s *Server) handleGetUser(c *gin.Context) {
	u, err := s.store.GetUser(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserView(u))
}

func (s *Server) handleUpdateUser(c *gin.Context) {
	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Timezone != nil {
		if _, err := availability.ParseTimezone(*req.Timezone); err != nil {
			writeError(c, err)
			return
		}
	}
	u, err := s.store.UpdateUser(c.Request.Context(), c.Param("uuid"), store.UserUpdate{
		Timezone:              req.Timezone,
		IMHandle:              req.IMHandle,
		AcceptsEmail:          req.AcceptsEmail,
		AcceptsInApp:          req.AcceptsInApp,
		AcceptsInstantMessage: req.AcceptsInstantMessage,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserView(u))
}

// handleUserMessages lists a user's inbox. By default only notified
// messages are shown; ?all=true includes pending ones.
func (s *Server) handleUserMessages(c *gin.Context) {
	all, err := strconv.ParseBool(c.DefaultQuery("all", "false"))
	if err != nil {
		badRequest(c, err)
		return
	}
	msgs, err := s.store.ListMessagesForUser(c.Request.Context(), c.Param("uuid"), !all)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newMessageViews(msgs))
}

func (s *Server) handleGetMessage(c *gin.Context) {
	m, err := s.store.GetMessage(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newMessageView(m))
}

func (s *Server) handleUpdateMessage(c *gin.Context) {
	var req updateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	m, err := s.store.UpdateMessage(c.Request.Context(), c.Param("uuid"), store.MessageUpdate{
		Theme:  req.Theme,
		Text:   req.Text,
		IsRead: req.IsRead,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newMessageView(m))
}

func (s *Server) handleMarkRead(c *gin.Context) {
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	msgs, err := s.store.MarkRead(c.Request.Context(), req.UUIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newMessageViews(msgs))
}
