package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"lead-assistant/internal/usecase"
	"lead-assistant/internal/webhook"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

type handlers struct {
	deps Deps
	log  zerolog.Logger
}

func (h *handlers) ingest(profile usecase.LeadProfile) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			h.fail(c, usecase.AsError(err))
			return
		}
		leadID, err := webhook.LeadID(c.ContentType(), body)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: err.Error()})
			return
		}
		out, err := h.deps.Leads.Ingest(c.Request.Context(), leadID, profile)
		if err != nil {
			h.fail(c, usecase.AsError(err))
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func (h *handlers) sandbox(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "invalid JSON body"})
		return
	}
	out, err := h.deps.Sandbox.Chat(c.Request.Context(), req.Message, req.ConversationID)
	if err != nil {
		h.fail(c, usecase.AsError(err))
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) fail(c *gin.Context, err *usecase.Error) {
	status := err.Code.HTTPStatus()
	ev := h.log.Warn()
	if status >= http.StatusInternalServerError {
		ev = h.log.Error()
	}
	ev.Err(err).Str("path", c.FullPath()).Str(correlationKey, c.GetString(correlationKey)).Msg("request failed")

	c.JSON(status, errorResponse{Error: string(err.Code), Message: err.Reason})
}
