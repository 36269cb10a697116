package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/signalbox/internal/queue"
)

type sendEmailRequest struct {
	To   string `json:"to" binding:"required"`
	Text string `json:"text" binding:"required"`
}

type singleUserRequest struct {
	UserUUID string `json:"user_uuid" binding:"required"`
	Text     string `json:"text" binding:"required"`
}

type userListRequest struct {
	UserUUIDs []string `json:"user_uuids" binding:"required,min=1"`
	Text      string   `json:"text" binding:"required"`
}

type allUsersRequest struct {
	Text string `json:"text" binding:"required"`
}

// asTask reads the as_task query flag, falling back to def.
func asTask(c *gin.Context, def bool) (bool, error) {
	raw, ok := c.GetQuery("as_task")
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("as_task: %q is not a boolean", raw)
	}
	return v, nil
}

// dispatchJob builds the job for p and either queues it or runs it in the
// request, depending on as_task.
func (s *Server) dispatchJob(c *gin.Context, p queue.Payload, taskByDefault bool) {
	queued, err := asTask(c, taskByDefault)
	if err != nil {
		badRequest(c, err)
		return
	}
	job, err := queue.NewJob(p)
	if err != nil {
		writeError(c, err)
		return
	}

	ctx := c.Request.Context()
	if queued {
		if err := s.queue.Submit(ctx, job); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"detail": "ok", "task_id": job.ID})
		return
	}
	if err := s.runner.Run(ctx, job); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"detail": "ok"})
}

func (s *Server) handleSendEmail(c *gin.Context) {
	var req sendEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.dispatchJob(c, queue.EmailPayload{To: req.To, Text: req.Text}, false)
}

func (s *Server) handleSendImmediate(c *gin.Context) {
	var req singleUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.dispatchJob(c, queue.ImmediatePayload{UserUUID: req.UserUUID, Text: req.Text}, false)
}

func (s *Server) handleSendPending(c *gin.Context) {
	var req singleUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.dispatchJob(c, queue.PendingPayload{UserUUID: req.UserUUID, Text: req.Text}, false)
}

func (s *Server) handleSendToUsers(c *gin.Context) {
	var req userListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.dispatchJob(c, queue.UserListPayload{UserUUIDs: req.UserUUIDs, Text: req.Text}, true)
}

func (s *Server) handleSendToAll(c *gin.Context) {
	var req allUsersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.dispatchJob(c, queue.AllUsersPayload{Text: req.Text}, true)
}

func (s *Server) handleRescan(c *gin.Context) {
	s.dispatchJob(c, queue.RescanAllPayload{}, true)
}
