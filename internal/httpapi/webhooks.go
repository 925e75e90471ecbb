package httpapi

import (
	"errors"
	"net/http"

	"callflow/internal/agents"
	"callflow/internal/pipeline"
	"callflow/internal/telephony"
	"callflow/pkg/logger"

	"github.com/gin-gonic/gin"
)

// PostCallWebhook accepts the provider's post-call transcription webhook.
// The analysis runs on the call-processing queue; this handler only acknowledges.
func (h Handlers) PostCallWebhook(c *gin.Context) {
	if h.Webhooks == nil {
		abortError(c, http.StatusInternalServerError, "webhooks not configured")
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		abortError(c, http.StatusBadRequest, "unreadable body")
		return
	}

	res, err := h.Webhooks.HandlePostCall(c.Request.Context(), body, c.GetHeader(telephony.SignatureHeader))
	switch {
	case err == nil:
	case errors.Is(err, telephony.ErrBadSignature), errors.Is(err, telephony.ErrStaleWebhook):
		abortError(c, http.StatusUnauthorized, err.Error())
		return
	case errors.Is(err, telephony.ErrInvalidEvent):
		abortError(c, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, agents.ErrUnknownAgent):
		abortError(c, http.StatusNotFound, "agent not registered")
		return
	default:
		logger.FromGin(c).Error("post-call webhook failed", "err", err)
		_ = c.Error(err)
		abortError(c, http.StatusInternalServerError, "webhook processing failed")
		return
	}

	status := http.StatusOK
	if res.Status == pipeline.IngestAccepted {
		status = http.StatusAccepted
	}
	c.JSON(status, res)
}
