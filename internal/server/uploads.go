package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	submissiondomain "github.com/smallbiznis/dashvault/internal/submission/domain"
)

func (s *Server) InitiateUpload(c *gin.Context) {
	var req submissiondomain.UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.submissionSvc.InitiateUpload(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (s *Server) GetSubmissionStatus(c *gin.Context) {
	resp, err := s.submissionSvc.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
