package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stencilflow/stencilflow/internal/authorization"
)

type memberTargetRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) ListMembers(c *gin.Context) {
	org := organizationFromContext(c)
	if org == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	members, err := s.membershipSvc.ListMembers(c.Request.Context(), org.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": members})
}

// RemoveMember serves both leaving (target is the caller) and owner removal.
func (s *Server) RemoveMember(c *gin.Context) {
	org := organizationFromContext(c)
	if org == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	var req memberTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	target := strings.TrimSpace(req.UserID)
	if target == "" {
		AbortWithError(c, newValidationError("userId", "required", "userId is required"))
		return
	}

	ctx := c.Request.Context()
	actorID := caller(c).UserID
	action := authorization.ActionMemberRemove
	if target == actorID {
		action = authorization.ActionMemberLeave
	}
	if err := s.authzSvc.Authorize(ctx, actorID, org.ID, authorization.ObjectMember, action); err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.membershipSvc.RemoveMember(ctx, actorID, org.ID, target); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"org_id": org.ID, "user_id": target, "removed": true})
}

func (s *Server) TransferOwnership(c *gin.Context) {
	org := organizationFromContext(c)
	if org == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	var req memberTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	target := strings.TrimSpace(req.UserID)
	if target == "" {
		AbortWithError(c, newValidationError("userId", "required", "userId is required"))
		return
	}

	if err := s.membershipSvc.TransferOwnership(c.Request.Context(), caller(c).UserID, org.ID, target); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"org_id": org.ID, "owner_id": target})
}
