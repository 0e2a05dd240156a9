package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	orgdomain "github.com/stencilflow/stencilflow/internal/organization/domain"
	"github.com/stencilflow/stencilflow/pkg/db/pagination"
)

type createOrganizationRequest struct {
	Name     string         `json:"name"`
	Tier     string         `json:"tier"`
	Metadata map[string]any `json:"metadata"`
}

type updateOrganizationRequest struct {
	Name     *string        `json:"name"`
	Tier     *string        `json:"tier"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) ListOrganizations(c *gin.Context) {
	items, err := s.organizationSvc.ListByUser(c.Request.Context(), caller(c).UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) CreateOrganization(c *gin.Context) {
	var req createOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	id := caller(c)
	org, err := s.organizationSvc.Create(c.Request.Context(), id.UserID, orgdomain.CreateOrganizationRequest{
		Name:       req.Name,
		Tier:       req.Tier,
		OwnerEmail: id.Email,
		Metadata:   req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, org)
}

func (s *Server) GetOrganization(c *gin.Context) {
	org := organizationFromContext(c)
	if org == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, org)
}

func (s *Server) UpdateOrganization(c *gin.Context) {
	org := organizationFromContext(c)
	if org == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	var req updateOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	updated, err := s.organizationSvc.Update(c.Request.Context(), caller(c).UserID, org.ID, orgdomain.UpdateOrganizationRequest{
		Name:     req.Name,
		Tier:     req.Tier,
		Metadata: req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, updated)
}

func (s *Server) ArchiveOrganization(c *gin.Context) {
	org := organizationFromContext(c)
	if org == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	result, err := s.organizationSvc.Archive(c.Request.Context(), caller(c).UserID, org.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) AdminListOrganizations(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.organizationSvc.ListAll(c.Request.Context(), page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Organizations, "page_info": resp.PageInfo})
}
