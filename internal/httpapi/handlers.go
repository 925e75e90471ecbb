package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"callflow/internal/auth"
	"callflow/internal/calendar"
	"callflow/internal/calls"
	"callflow/internal/meetings"
	"callflow/internal/pipeline"
	"callflow/internal/queue"
	"callflow/internal/rbac"
	"callflow/internal/reporting"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth     *auth.Manager
	Webhooks WebhookIngestor
	Meetings MeetingService
	Calls    CallReader
	Stats    StatsService
	// Queues is keyed by queue name.
	Queues map[string]QueueInspector
}

type WebhookIngestor interface {
	HandlePostCall(ctx context.Context, body []byte, signature string) (pipeline.IngestResult, error)
}

type MeetingService interface {
	RequestBooking(ctx context.Context, tenantID string, req meetings.BookingRequest) (meetings.Accepted, error)
	Get(ctx context.Context, tenantID, id string) (meetings.Meeting, error)
	List(ctx context.Context, f meetings.ListFilter) ([]meetings.Meeting, error)
	CheckAvailability(ctx context.Context, tenantID string, req meetings.AvailabilityRequest) (calendar.Availability, error)
}

// CallReader is satisfied by calls.Repository implementations.
type CallReader interface {
	Get(ctx context.Context, id string) (calls.Record, error)
	List(ctx context.Context, f calls.ListFilter) ([]calls.Record, error)
}

type StatsService interface {
	Overview(ctx context.Context, req reporting.OverviewRequest) (reporting.Overview, error)
}

type QueueInspector interface {
	Counts(ctx context.Context) (queue.Counts, error)
	DeadLetters(ctx context.Context, limit int64) ([]queue.Job, error)
}

func abortError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// tenantFrom returns the caller's tenant or aborts with 401.
func tenantFrom(c *gin.Context) (string, bool) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil || tenantID == "" {
		abortError(c, http.StatusUnauthorized, "tenant_id required")
		return "", false
	}
	return tenantID, true
}

// parseRange reads optional RFC3339 "from" and "to" query parameters.
func parseRange(c *gin.Context) (from, to time.Time, ok bool) {
	var err error
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			abortError(c, http.StatusBadRequest, "from must be RFC3339")
			return time.Time{}, time.Time{}, false
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			abortError(c, http.StatusBadRequest, "to must be RFC3339")
			return time.Time{}, time.Time{}, false
		}
	}
	return from, to, true
}

func parsePage(c *gin.Context) (limit, offset int, ok bool) {
	var err error
	if v := c.Query("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			abortError(c, http.StatusBadRequest, "limit must be a non-negative integer")
			return 0, 0, false
		}
	}
	if v := c.Query("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			abortError(c, http.StatusBadRequest, "offset must be a non-negative integer")
			return 0, 0, false
		}
	}
	return limit, offset, true
}

// --- Auth ---

type issueTokenRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// IssueToken mints a token pair for a tenant user or an agent tool.
// RBAC: super_admin only.
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Auth == nil {
		abortError(c, http.StatusInternalServerError, "auth not configured")
		return
	}
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID == "" || req.TenantID == "" || req.Role == "" {
		abortError(c, http.StatusBadRequest, "user_id, tenant_id, role required")
		return
	}
	if !rbac.IsKnownRole(req.Role) {
		abortError(c, http.StatusBadRequest, "unknown role")
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.TenantID, req.Role)
	if err != nil {
		abortError(c, http.StatusInternalServerError, "token issuance failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}
