package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/workspace-hub-api/internal/service"
	appErrors "github.com/noah-isme/workspace-hub-api/pkg/errors"
	"github.com/noah-isme/workspace-hub-api/pkg/response"
)

// SubscriptionHandler exposes plan catalog and subscription endpoints.
type SubscriptionHandler struct {
	service *service.SubscriptionService
}

// NewSubscriptionHandler constructs a subscription handler.
func NewSubscriptionHandler(svc *service.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{service: svc}
}

// CreatePlan godoc
// @Summary Create storage plan
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param payload body service.CreatePlanRequest true "Plan payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /plans [post]
func (h *SubscriptionHandler) CreatePlan(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	plan, err := h.service.CreatePlan(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, plan)
}

// ListPlans godoc
// @Summary List storage plans
// @Tags Subscriptions
// @Produce json
// @Param activeOnly query bool false "Only active plans"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /plans [get]
func (h *SubscriptionHandler) ListPlans(c *gin.Context) {
	activeOnly := true
	if raw := c.Query("activeOnly"); raw != "" {
		if val, err := strconv.ParseBool(raw); err == nil {
			activeOnly = val
		}
	}
	plans, err := h.service.ListPlans(c.Request.Context(), activeOnly)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plans, nil)
}

// GetPlan godoc
// @Summary Get storage plan
// @Tags Subscriptions
// @Produce json
// @Param id path int true "Plan ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /plans/{id} [get]
func (h *SubscriptionHandler) GetPlan(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	plan, err := h.service.GetPlan(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plan, nil)
}

// DeactivatePlan godoc
// @Summary Deactivate storage plan
// @Tags Subscriptions
// @Produce json
// @Param id path int true "Plan ID"
// @Success 204
// @Security BearerAuth
// @Router /plans/{id} [delete]
func (h *SubscriptionHandler) DeactivatePlan(c *gin.Context) {
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
	if err := h.service.DeactivatePlan(c.Request.Context(), claims.UserID, id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Subscribe godoc
// @Summary Subscribe workspace to a plan
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param payload body service.SubscribeRequest true "Subscription payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /subscriptions [post]
func (h *SubscriptionHandler) Subscribe(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	sub, err := h.service.Subscribe(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, sub)
}

// Renew godoc
// @Summary Renew workspace subscription
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param payload body service.RenewRequest true "Renewal payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /subscriptions/renew [post]
func (h *SubscriptionHandler) Renew(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.RenewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	sub, err := h.service.Renew(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sub, nil)
}

// Status godoc
// @Summary Workspace subscription status
// @Tags Subscriptions
// @Produce json
// @Param workspaceId path int true "Workspace ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /subscriptions/{workspaceId} [get]
func (h *SubscriptionHandler) Status(c *gin.Context) {
	id, err := int64Param(c, "workspaceId")
	if err != nil {
		response.Error(c, err)
		return
	}
	status, err := h.service.Status(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}
