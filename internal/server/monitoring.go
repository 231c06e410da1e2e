package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetMonitoringSignals accepts window as a Go duration ("6h") or seconds.
func (s *Server) GetMonitoringSignals(c *gin.Context) {
	window, err := parseOptionalDuration(c.Query("window"))
	if err != nil {
		AbortWithError(c, newValidationError("window", "invalid_window", "invalid window"))
		return
	}

	signals, err := s.monitoringSvc.Signals(c.Request.Context(), window)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, signals)
}
