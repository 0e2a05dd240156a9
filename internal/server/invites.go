package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type createInviteRequest struct {
	Email string `json:"email"`
}

type cancelInviteRequest struct {
	InviteID string `json:"inviteId"`
}

func (s *Server) CreateInvite(c *gin.Context) {
	org := organizationFromContext(c)
	if org == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	var req createInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.inviteSvc.Create(c.Request.Context(), caller(c).UserID, org.ID, req.Email)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (s *Server) ListInvites(c *gin.Context) {
	org := organizationFromContext(c)
	if org == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	views, err := s.inviteSvc.ListByOrg(c.Request.Context(), caller(c).UserID, org.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (s *Server) CancelInvite(c *gin.Context) {
	org := organizationFromContext(c)
	if org == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	var req cancelInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	inviteID, err := snowflake.ParseString(strings.TrimSpace(req.InviteID))
	if err != nil || inviteID <= 0 {
		AbortWithError(c, newValidationError("inviteId", "invalid_invite_id", "invalid inviteId"))
		return
	}

	view, err := s.inviteSvc.Cancel(c.Request.Context(), caller(c).UserID, org.ID, inviteID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// GetInvite is public so the invitee can see which organization they were invited to.
func (s *Server) GetInvite(c *gin.Context) {
	view, err := s.inviteSvc.GetByToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (s *Server) AcceptInvite(c *gin.Context) {
	id := caller(c)
	result, err := s.inviteSvc.Accept(c.Request.Context(), c.Param("token"), id.UserID, id.Email)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
