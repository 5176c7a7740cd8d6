package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/workspace-hub-api/internal/service"
	appErrors "github.com/noah-isme/workspace-hub-api/pkg/errors"
	"github.com/noah-isme/workspace-hub-api/pkg/response"
)

// ReportHandler exposes downloadable exports.
type ReportHandler struct {
	service *service.ReportService
}

// NewReportHandler constructs a report handler.
func NewReportHandler(svc *service.ReportService) *ReportHandler {
	return &ReportHandler{service: svc}
}

// ExportProjectTasks godoc
// @Summary Export project task board
// @Tags Reports
// @Produce text/csv
// @Produce application/pdf
// @Param id path int true "Project ID"
// @Param format query string false "Export format (csv or pdf)" default(csv)
// @Success 200 {file} binary
// @Security BearerAuth
// @Router /projects/{id}/export [get]
func (h *ReportHandler) ExportProjectTasks(c *gin.Context) {
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
	format := c.DefaultQuery("format", service.ReportFormatCSV)

	report, err := h.service.ExportProjectTasks(c.Request.Context(), claims.UserID, id, format)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename))
	c.Data(http.StatusOK, report.ContentType, report.Data)
}
