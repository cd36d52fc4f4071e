// Package health exposes the liveness probe. The relay has no external
// dependencies to check: if the process answers, it is healthy.
package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler serves health probes.
type Handler struct{}

// NewHandler creates a new health Handler.
func NewHandler() *Handler {
	return &Handler{}
}

// Health responds 200 "ok" while the process is up.
func (h *Handler) Health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
