package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yanqian/faq-pipeline/internal/domain/faq"
	"github.com/yanqian/faq-pipeline/internal/domain/inbox"
	"github.com/yanqian/faq-pipeline/internal/domain/pipeline"
)

const maxFAQPageSize = 200

// Handler wires the HTTP transport to domain services.
type Handler struct {
	pipelineSvc pipeline.Service
	faqSvc      faq.Service
	inboxSvc    inbox.Service
	logger      *slog.Logger
}

// NewHandler constructs the root HTTP handler.
func NewHandler(pipelineSvc pipeline.Service, faqSvc faq.Service, inboxSvc inbox.Service, logger *slog.Logger) *Handler {
	return &Handler{
		pipelineSvc: pipelineSvc,
		faqSvc:      faqSvc,
		inboxSvc:    inboxSvc,
		logger:      logger.With("component", "http.handler"),
	}
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// TriggerRun queues a pipeline run. An empty body runs every stage.
func (h *Handler) TriggerRun(c *gin.Context) {
	var req pipeline.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	// Run ids are always generated server side.
	req.RunID = ""

	status, err := h.pipelineSvc.Trigger(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, fromAppError(err, "trigger_failed"))
		return
	}
	c.JSON(http.StatusAccepted, status)
}

// PipelineStatus returns the latest run snapshot.
func (h *Handler) PipelineStatus(c *gin.Context) {
	status, err := h.pipelineSvc.Status(c.Request.Context())
	if err != nil {
		abortWithError(c, fromAppError(err, "status_failed"))
		return
	}
	c.JSON(http.StatusOK, status)
}

// ListFAQs returns FAQ groups ordered by frequency score.
func (h *Handler) ListFAQs(c *gin.Context) {
	filter := faq.GroupFilter{Limit: 50}
	if raw := c.Query("published"); raw != "" {
		published, err := strconv.ParseBool(raw)
		if err != nil {
			abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "published must be a boolean", err))
			return
		}
		filter.PublishedOnly = published
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxFAQPageSize {
			abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "limit must be between 1 and 200", err))
			return
		}
		filter.Limit = limit
	}

	groups, err := h.faqSvc.ListGroups(c.Request.Context(), filter)
	if err != nil {
		abortWithError(c, fromAppError(err, "faq_failed"))
		return
	}
	if groups == nil {
		groups = []faq.Group{}
	}
	c.JSON(http.StatusOK, gin.H{"faqs": groups})
}

// SubmitEmail queues an email for the next extraction run.
func (h *Handler) SubmitEmail(c *gin.Context) {
	var req inbox.NewEmail
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	email, err := h.inboxSvc.Submit(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, fromAppError(err, "submit_failed"))
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         email.ID,
		"receivedAt": email.ReceivedAt,
		"offloaded":  email.BodyKey != "",
	})
}
