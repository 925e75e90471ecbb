package httpapi

import (
	"net/http"
	"strconv"

	"callflow/pkg/logger"

	"github.com/gin-gonic/gin"
)

const defaultDeadLetterLimit = 50

// QueueStatus returns scheduled/active/dead counts for one queue.
// RBAC: admin or super_admin.
func (h Handlers) QueueStatus(c *gin.Context) {
	q, ok := h.Queues[c.Param("queue")]
	if !ok {
		abortError(c, http.StatusNotFound, "unknown queue")
		return
	}
	counts, err := q.Counts(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("queue counts failed", "err", err)
		abortError(c, http.StatusInternalServerError, "internal error")
		return
	}
	c.JSON(http.StatusOK, counts)
}

// DeadLetters lists jobs whose attempts are exhausted or that failed permanently.
func (h Handlers) DeadLetters(c *gin.Context) {
	q, ok := h.Queues[c.Param("queue")]
	if !ok {
		abortError(c, http.StatusNotFound, "unknown queue")
		return
	}
	limit := int64(defaultDeadLetterLimit)
	if v := c.Query("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			abortError(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	jobs, err := q.DeadLetters(c.Request.Context(), limit)
	if err != nil {
		logger.FromGin(c).Error("dead letter listing failed", "err", err)
		abortError(c, http.StatusInternalServerError, "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": c.Param("queue"), "jobs": jobs})
}
