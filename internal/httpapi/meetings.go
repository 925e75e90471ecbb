package httpapi

import (
	"errors"
	"net/http"

	"callflow/internal/calendar"
	"callflow/internal/meetings"
	"callflow/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ConfirmBooking records a booking request and returns 202 with the meeting id.
// The confirmation outcome is read later via GetMeeting.
func (h Handlers) ConfirmBooking(c *gin.Context) {
	if h.Meetings == nil {
		abortError(c, http.StatusInternalServerError, "meetings not configured")
		return
	}
	tenantID, ok := tenantFrom(c)
	if !ok {
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		abortError(c, http.StatusBadRequest, "unreadable body")
		return
	}
	req, err := meetings.ParseBookingRequest(body)
	if err != nil {
		abortError(c, http.StatusBadRequest, err.Error())
		return
	}

	acc, err := h.Meetings.RequestBooking(c.Request.Context(), tenantID, req)
	if err != nil {
		h.meetingError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, acc)
}

func (h Handlers) CheckAvailability(c *gin.Context) {
	if h.Meetings == nil {
		abortError(c, http.StatusInternalServerError, "meetings not configured")
		return
	}
	tenantID, ok := tenantFrom(c)
	if !ok {
		return
	}
	var req meetings.AvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid json")
		return
	}
	av, err := h.Meetings.CheckAvailability(c.Request.Context(), tenantID, req)
	if err != nil {
		h.meetingError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slots": av.Slots, "available": av.Flatten()})
}

func (h Handlers) GetMeeting(c *gin.Context) {
	if h.Meetings == nil {
		abortError(c, http.StatusInternalServerError, "meetings not configured")
		return
	}
	tenantID, ok := tenantFrom(c)
	if !ok {
		return
	}
	m, err := h.Meetings.Get(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		h.meetingError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h Handlers) ListMeetings(c *gin.Context) {
	if h.Meetings == nil {
		abortError(c, http.StatusInternalServerError, "meetings not configured")
		return
	}
	tenantID, ok := tenantFrom(c)
	if !ok {
		return
	}
	from, to, ok := parseRange(c)
	if !ok {
		return
	}
	limit, offset, ok := parsePage(c)
	if !ok {
		return
	}
	out, err := h.Meetings.List(c.Request.Context(), meetings.ListFilter{
		TenantID: tenantID,
		Status:   meetings.Status(c.Query("status")),
		From:     from,
		To:       to,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.meetingError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"meetings": out})
}

func (h Handlers) meetingError(c *gin.Context, err error) {
	var dup *meetings.DuplicateBookingError
	var herr *calendar.HTTPError
	switch {
	case errors.As(err, &dup):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error":               "an active meeting already exists for this conversation",
			"existing_meeting_id": dup.ExistingID,
			"existing_status":     dup.ExistingStatus,
		})
	case errors.Is(err, meetings.ErrInvalidRequest), errors.Is(err, meetings.ErrInvalidArgument):
		abortError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, meetings.ErrNoCredentials):
		abortError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, meetings.ErrNotFound):
		abortError(c, http.StatusNotFound, "meeting not found")
	case errors.As(err, &herr):
		logger.FromGin(c).Warn("calendar request failed", "status", herr.StatusCode, "err", err)
		abortError(c, http.StatusBadGateway, "calendar provider error")
	default:
		logger.FromGin(c).Error("meetings request failed", "err", err)
		_ = c.Error(err)
		abortError(c, http.StatusInternalServerError, "internal error")
	}
}
