package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	recoverydomain "github.com/smallbiznis/dashvault/internal/recovery/domain"
)

func (s *Server) ListStuckSubmissions(c *gin.Context) {
	var filter recoverydomain.Filter
	if err := c.ShouldBindQuery(&filter); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.recoverySvc.ListStuck(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Items, "page_info": resp.PageInfo})
}

func (s *Server) ApplyRecoveryAction(c *gin.Context) {
	var req recoverydomain.ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.SubmissionID = c.Param("id")

	result, err := s.recoverySvc.Apply(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
