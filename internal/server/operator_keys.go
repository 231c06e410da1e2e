package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	operatorkeydomain "github.com/smallbiznis/dashvault/internal/operatorkey/domain"
)

func (s *Server) ListOperatorKeys(c *gin.Context) {
	keys, err := s.operatorKeySvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": keys})
}

func (s *Server) CreateOperatorKey(c *gin.Context) {
	var req operatorkeydomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.operatorKeySvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (s *Server) RevokeOperatorKey(c *gin.Context) {
	if err := s.operatorKeySvc.Revoke(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
