package httpapi

import (
	"errors"
	"net/http"

	"callflow/internal/calls"
	"callflow/internal/reporting"
	"callflow/pkg/logger"

	"github.com/gin-gonic/gin"
)

func (h Handlers) GetCall(c *gin.Context) {
	if h.Calls == nil {
		abortError(c, http.StatusInternalServerError, "calls not configured")
		return
	}
	tenantID, ok := tenantFrom(c)
	if !ok {
		return
	}
	rec, err := h.Calls.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, calls.ErrNotFound) || (err == nil && rec.TenantID != tenantID) {
		abortError(c, http.StatusNotFound, "call not found")
		return
	}
	if err != nil {
		logger.FromGin(c).Error("call lookup failed", "err", err)
		abortError(c, http.StatusInternalServerError, "internal error")
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) ListCalls(c *gin.Context) {
	if h.Calls == nil {
		abortError(c, http.StatusInternalServerError, "calls not configured")
		return
	}
	tenantID, ok := tenantFrom(c)
	if !ok {
		return
	}
	status := calls.Status(c.Query("status"))
	if status != "" && !status.Valid() {
		abortError(c, http.StatusBadRequest, "unknown status")
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
	out, err := h.Calls.List(c.Request.Context(), calls.ListFilter{
		TenantID: tenantID,
		Status:   status,
		From:     from,
		To:       to,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		logger.FromGin(c).Error("call list failed", "err", err)
		abortError(c, http.StatusInternalServerError, "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": out})
}

// StatsOverview returns call and meeting counts for the caller's tenant.
func (h Handlers) StatsOverview(c *gin.Context) {
	if h.Stats == nil {
		abortError(c, http.StatusInternalServerError, "stats not configured")
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
	out, err := h.Stats.Overview(c.Request.Context(), reporting.OverviewRequest{
		TenantID: tenantID,
		Range:    reporting.TimeRange{From: from, To: to},
	})
	if errors.Is(err, reporting.ErrInvalidRequest) {
		abortError(c, http.StatusBadRequest, "invalid range")
		return
	}
	if err != nil {
		logger.FromGin(c).Error("stats overview failed", "err", err)
		abortError(c, http.StatusInternalServerError, "internal error")
		return
	}
	c.JSON(http.StatusOK, out)
}
