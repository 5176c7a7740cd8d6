package handler

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/workspace-hub-api/internal/service"
	appErrors "github.com/noah-isme/workspace-hub-api/pkg/errors"
	"github.com/noah-isme/workspace-hub-api/pkg/response"
)

// TaskHandler exposes project and task workflow endpoints.
type TaskHandler struct {
	service *service.TaskService
}

// NewTaskHandler constructs a task handler.
func NewTaskHandler(svc *service.TaskService) *TaskHandler {
	return &TaskHandler{service: svc}
}

// CreateProject godoc
// @Summary Create project
// @Tags Tasks
// @Accept json
// @Produce json
// @Param payload body service.CreateProjectRequest true "Project payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /projects [post]
func (h *TaskHandler) CreateProject(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	p, err := h.service.CreateProject(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, p)
}

// GetProject godoc
// @Summary Get project
// @Tags Tasks
// @Produce json
// @Param id path int true "Project ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /projects/{id} [get]
func (h *TaskHandler) GetProject(c *gin.Context) {
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
	p, err := h.service.GetProject(c.Request.Context(), claims.UserID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, p, nil)
}

// ListTasks godoc
// @Summary List project tasks
// @Tags Tasks
// @Produce json
// @Param id path int true "Project ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /projects/{id}/tasks [get]
func (h *TaskHandler) ListTasks(c *gin.Context) {
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
	tasks, err := h.service.ListTasks(c.Request.Context(), claims.UserID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tasks, nil)
}

// CreateTask godoc
// @Summary Create task
// @Tags Tasks
// @Accept json
// @Produce json
// @Param payload body service.CreateTaskRequest true "Task payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /tasks [post]
func (h *TaskHandler) CreateTask(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	t, err := h.service.CreateTask(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, t)
}

// GetTask godoc
// @Summary Get task
// @Tags Tasks
// @Produce json
// @Param id path int true "Task ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /tasks/{id} [get]
func (h *TaskHandler) GetTask(c *gin.Context) {
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
	t, err := h.service.GetTask(c.Request.Context(), claims.UserID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, t, nil)
}

// UpdateStatus godoc
// @Summary Update task status
// @Tags Tasks
// @Accept json
// @Produce json
// @Param id path int true "Task ID"
// @Param payload body service.UpdateTaskStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /tasks/{id}/status [put]
func (h *TaskHandler) UpdateStatus(c *gin.Context) {
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
	var req service.UpdateTaskStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	t, err := h.service.UpdateStatus(c.Request.Context(), claims.UserID, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, t, nil)
}

// Assign godoc
// @Summary Assign task
// @Tags Tasks
// @Accept json
// @Produce json
// @Param id path int true "Task ID"
// @Param payload body service.AssignTaskRequest true "Assignment payload"
// @Success 204
// @Security BearerAuth
// @Router /tasks/{id}/assignee [put]
func (h *TaskHandler) Assign(c *gin.Context) {
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
	var req service.AssignTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.service.Assign(c.Request.Context(), claims.UserID, id, req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// AddDependency godoc
// @Summary Add task dependency
// @Tags Tasks
// @Accept json
// @Produce json
// @Param id path int true "Task ID"
// @Param payload body service.AddDependencyRequest true "Dependency payload"
// @Success 204
// @Security BearerAuth
// @Router /tasks/{id}/dependencies [post]
func (h *TaskHandler) AddDependency(c *gin.Context) {
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
	var req service.AddDependencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.service.AddDependency(c.Request.Context(), claims.UserID, id, req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// AddSubtask godoc
// @Summary Link subtask
// @Tags Tasks
// @Accept json
// @Produce json
// @Param id path int true "Task ID"
// @Param payload body service.AddSubtaskRequest true "Subtask payload"
// @Success 204
// @Security BearerAuth
// @Router /tasks/{id}/subtasks [post]
func (h *TaskHandler) AddSubtask(c *gin.Context) {
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
	var req service.AddSubtaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.service.AddSubtask(c.Request.Context(), claims.UserID, id, req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// UploadAttachment godoc
// @Summary Upload task attachment
// @Tags Tasks
// @Accept multipart/form-data
// @Produce json
// @Param id path int true "Task ID"
// @Param file formData file true "Attachment file"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /tasks/{id}/attachments [post]
func (h *TaskHandler) UploadAttachment(c *gin.Context) {
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
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file field is required"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open upload"))
		return
	}
	defer file.Close() //nolint:errcheck

	ref, err := h.service.AddAttachment(c.Request.Context(), claims.UserID, id, fileHeader.Filename, fileHeader.Size, file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, gin.H{"content_ref": ref})
}

// AttachmentURL godoc
// @Summary Issue signed attachment download URL
// @Tags Tasks
// @Produce json
// @Param id path int true "Task ID"
// @Param ref query string true "Attachment content ref"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /tasks/{id}/attachments/url [get]
func (h *TaskHandler) AttachmentURL(c *gin.Context) {
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
	ref := c.Query("ref")
	if ref == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "ref query parameter is required"))
		return
	}
	token, expiresAt, err := h.service.AttachmentURL(c.Request.Context(), claims.UserID, id, ref)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"url":        fmt.Sprintf("/downloads/%s", token),
		"expires_at": expiresAt,
	}, nil)
}

// DownloadAttachment streams an attachment referenced by a signed token.
// The token itself authenticates the request.
func (h *TaskHandler) DownloadAttachment(c *gin.Context) {
	reader, filename, err := h.service.ResolveAttachment(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer reader.Close() //nolint:errcheck

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("Content-Type", "application/octet-stream")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, reader); err != nil {
		_ = c.Error(err)
	}
}
