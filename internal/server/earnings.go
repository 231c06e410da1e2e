package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	earningsdomain "github.com/smallbiznis/dashvault/internal/earnings/domain"
)

type calculateEarningsRequest struct {
	ForceRecalculate bool     `json:"force_recalculate"`
	QualityScore     *float64 `json:"quality_score"`
}

type updatePaymentStatusRequest struct {
	PaymentStatus earningsdomain.PaymentStatus `json:"payment_status"`
}

func (s *Server) CalculateEarnings(c *gin.Context) {
	var req calculateEarningsRequest
	// An empty body means a plain calculation.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	earning, err := s.earningsSvc.CalculateForSubmission(c.Request.Context(), c.Param("id"), earningsdomain.Options{
		ForceRecalculate: req.ForceRecalculate,
		QualityScore:     req.QualityScore,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, earning)
}

func (s *Server) UpdateEarningPaymentStatus(c *gin.Context) {
	var req updatePaymentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	earning, err := s.earningsSvc.UpdatePaymentStatus(c.Request.Context(), c.Param("id"), req.PaymentStatus)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, earning)
}

func (s *Server) GetDriverEarnings(c *gin.Context) {
	summary, err := s.earningsSvc.DriverSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}
