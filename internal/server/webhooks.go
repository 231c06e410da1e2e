package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	webhookdomain "github.com/smallbiznis/dashvault/internal/webhook/domain"
)

// maxWebhookBody bounds a single provider delivery.
const maxWebhookBody = 1 << 20

// HandleWebhook verifies and ingests one provider delivery. Only a bad
// signature (401) or an unreadable body (400) is surfaced; everything else
// is acknowledged so the provider stops retrying.
func (s *Server) HandleWebhook(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
		if err != nil || len(body) > maxWebhookBody {
			AbortWithError(c, webhookdomain.ErrInvalidPayload)
			return
		}

		outcome, err := s.webhookSvc.Handle(c.Request.Context(), service, body, c.Request.Header)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, outcome)
	}
}
