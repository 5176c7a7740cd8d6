package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/workspace-hub-api/internal/models"
	"github.com/noah-isme/workspace-hub-api/internal/service"
	appErrors "github.com/noah-isme/workspace-hub-api/pkg/errors"
	"github.com/noah-isme/workspace-hub-api/pkg/response"
)

// DocumentHandler exposes the versioned document registry endpoints.
type DocumentHandler struct {
	service *service.DocumentService
}

// NewDocumentHandler constructs a document handler.
func NewDocumentHandler(svc *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{service: svc}
}

// Create godoc
// @Summary Create document
// @Tags Documents
// @Accept json
// @Produce json
// @Param payload body service.CreateDocumentRequest true "Document payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /documents [post]
func (h *DocumentHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	doc, err := h.service.Create(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, doc)
}

// Get godoc
// @Summary Get document
// @Tags Documents
// @Produce json
// @Param id path int true "Document ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /documents/{id} [get]
func (h *DocumentHandler) Get(c *gin.Context) {
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
	doc, err := h.service.Get(c.Request.Context(), claims.UserID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// History godoc
// @Summary Document revision history
// @Tags Documents
// @Produce json
// @Param id path int true "Document ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /documents/{id}/history [get]
func (h *DocumentHandler) History(c *gin.Context) {
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
	revisions, err := h.service.History(c.Request.Context(), claims.UserID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, revisions, nil)
}

// Update godoc
// @Summary Update document content
// @Tags Documents
// @Accept json
// @Produce json
// @Param id path int true "Document ID"
// @Param payload body service.UpdateDocumentRequest true "Revision payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /documents/{id} [put]
func (h *DocumentHandler) Update(c *gin.Context) {
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
	var req service.UpdateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	doc, err := h.service.Update(c.Request.Context(), claims.UserID, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// Delete godoc
// @Summary Delete document
// @Tags Documents
// @Produce json
// @Param id path int true "Document ID"
// @Success 204
// @Security BearerAuth
// @Router /documents/{id} [delete]
func (h *DocumentHandler) Delete(c *gin.Context) {
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
	if err := h.service.Delete(c.Request.Context(), claims.UserID, id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// GrantPermission godoc
// @Summary Grant document permission
// @Tags Documents
// @Accept json
// @Produce json
// @Param id path int true "Document ID"
// @Param payload body service.GrantPermissionRequest true "Permission payload"
// @Success 204
// @Security BearerAuth
// @Router /documents/{id}/permissions [put]
func (h *DocumentHandler) GrantPermission(c *gin.Context) {
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
	var req service.GrantPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.service.GrantPermission(c.Request.Context(), claims.UserID, id, req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// RevokePermission godoc
// @Summary Revoke document permission
// @Tags Documents
// @Produce json
// @Param id path int true "Document ID"
// @Param userId path string true "User ID"
// @Success 204
// @Security BearerAuth
// @Router /documents/{id}/permissions/{userId} [delete]
func (h *DocumentHandler) RevokePermission(c *gin.Context) {
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
	if err := h.service.RevokePermission(c.Request.Context(), claims.UserID, id, c.Param("userId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CheckAccess godoc
// @Summary Check effective document permission
// @Tags Documents
// @Produce json
// @Param id path int true "Document ID"
// @Param userId query string false "User to check, defaults to caller"
// @Param level query string true "Required level"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /documents/{id}/access [get]
func (h *DocumentHandler) CheckAccess(c *gin.Context) {
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
	userID := c.DefaultQuery("userId", claims.UserID)
	level := models.PermissionLevel(c.Query("level"))
	if !models.ValidPermissionLevel(level) {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown permission level"))
		return
	}
	allowed, err := h.service.CheckAccess(c.Request.Context(), id, userID, level)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"allowed": allowed}, nil)
}
