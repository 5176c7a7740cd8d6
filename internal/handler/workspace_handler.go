package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/workspace-hub-api/internal/service"
	appErrors "github.com/noah-isme/workspace-hub-api/pkg/errors"
	"github.com/noah-isme/workspace-hub-api/pkg/response"
)

// WorkspaceHandler exposes workspace and membership endpoints.
type WorkspaceHandler struct {
	service *service.WorkspaceService
}

// NewWorkspaceHandler constructs a workspace handler.
func NewWorkspaceHandler(svc *service.WorkspaceService) *WorkspaceHandler {
	return &WorkspaceHandler{service: svc}
}

// Create godoc
// @Summary Create workspace
// @Tags Workspaces
// @Accept json
// @Produce json
// @Param payload body service.CreateWorkspaceRequest true "Workspace payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /workspaces [post]
func (h *WorkspaceHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.CreateWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	ws, err := h.service.Create(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, ws)
}

// Get godoc
// @Summary Get workspace
// @Tags Workspaces
// @Produce json
// @Param id path int true "Workspace ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /workspaces/{id} [get]
func (h *WorkspaceHandler) Get(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	ws, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ws, nil)
}

// ListMembers godoc
// @Summary List workspace members
// @Tags Workspaces
// @Produce json
// @Param id path int true "Workspace ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /workspaces/{id}/members [get]
func (h *WorkspaceHandler) ListMembers(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	id, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	members, err := h.service.ListMembers(c.Request.Context(), claims.UserID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, members, nil)
}

// AddMember godoc
// @Summary Add workspace member
// @Tags Workspaces
// @Accept json
// @Produce json
// @Param id path int true "Workspace ID"
// @Param payload body service.AddMemberRequest true "Member payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /workspaces/{id}/members [post]
func (h *WorkspaceHandler) AddMember(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	id, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	member, err := h.service.AddMember(c.Request.Context(), claims.UserID, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, member)
}

// UpdateMemberRole godoc
// @Summary Update member role
// @Tags Workspaces
// @Accept json
// @Produce json
// @Param id path int true "Workspace ID"
// @Param userId path string true "User ID"
// @Param payload body service.UpdateMemberRoleRequest true "Role payload"
// @Success 204
// @Security BearerAuth
// @Router /workspaces/{id}/members/{userId}/role [put]
func (h *WorkspaceHandler) UpdateMemberRole(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	id, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.UpdateMemberRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.service.UpdateMemberRole(c.Request.Context(), claims.UserID, id, c.Param("userId"), req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// RemoveMember godoc
// @Summary Remove workspace member
// @Tags Workspaces
// @Produce json
// @Param id path int true "Workspace ID"
// @Param userId path string true "User ID"
// @Success 204
// @Security BearerAuth
// @Router /workspaces/{id}/members/{userId} [delete]
func (h *WorkspaceHandler) RemoveMember(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	id, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.service.RemoveMember(c.Request.Context(), claims.UserID, id, c.Param("userId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// UpdateStorageUsed godoc
// @Summary Report storage usage
// @Tags Workspaces
// @Accept json
// @Produce json
// @Param id path int true "Workspace ID"
// @Param payload body service.UpdateStorageUsedRequest true "Usage payload"
// @Success 204
// @Security BearerAuth
// @Router /workspaces/{id}/storage [put]
func (h *WorkspaceHandler) UpdateStorageUsed(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	id, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.UpdateStorageUsedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.service.UpdateStorageUsed(c.Request.Context(), claims.UserID, id, req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
