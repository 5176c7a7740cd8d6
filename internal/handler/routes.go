package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/workspace-hub-api/internal/middleware"
	"github.com/noah-isme/workspace-hub-api/internal/models"
	"github.com/noah-isme/workspace-hub-api/internal/service"
)

// Handlers groups the HTTP handlers registered on the API.
type Handlers struct {
	Auth          *AuthHandler
	Workspaces    *WorkspaceHandler
	Documents     *DocumentHandler
	Tasks         *TaskHandler
	Subscriptions *SubscriptionHandler
	Events        *EventHandler
	Reports       *ReportHandler
}

// RegisterRoutes wires all API routes under the configured prefix.
// Attachment downloads and the metrics endpoint live outside the prefix:
// downloads are authenticated by their signed token, and metrics are scraped
// internally.
func RegisterRoutes(r *gin.Engine, prefix string, authSvc *service.AuthService, metricsSvc *service.MetricsService, h Handlers) {
	r.GET("/downloads/:token", h.Tasks.DownloadAttachment)
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	api := r.Group(prefix)

	auth := api.Group("/auth")
	auth.POST("/register", h.Auth.Register)
	auth.POST("/login", h.Auth.Login)
	auth.POST("/refresh", h.Auth.Refresh)
	auth.POST("/logout", middleware.JWT(authSvc), h.Auth.Logout)
	auth.GET("/me", middleware.JWT(authSvc), h.Auth.Me)

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))

	workspaces := protected.Group("/workspaces")
	workspaces.POST("", h.Workspaces.Create)
	workspaces.GET("/:id", h.Workspaces.Get)
	workspaces.GET("/:id/members", h.Workspaces.ListMembers)
	workspaces.POST("/:id/members", h.Workspaces.AddMember)
	workspaces.PUT("/:id/members/:userId/role", h.Workspaces.UpdateMemberRole)
	workspaces.DELETE("/:id/members/:userId", h.Workspaces.RemoveMember)
	workspaces.PUT("/:id/storage", h.Workspaces.UpdateStorageUsed)

	documents := protected.Group("/documents")
	documents.POST("", h.Documents.Create)
	documents.GET("/:id", h.Documents.Get)
	documents.PUT("/:id", h.Documents.Update)
	documents.DELETE("/:id", h.Documents.Delete)
	documents.GET("/:id/history", h.Documents.History)
	documents.GET("/:id/access", h.Documents.CheckAccess)
	documents.PUT("/:id/permissions", h.Documents.GrantPermission)
	documents.DELETE("/:id/permissions/:userId", h.Documents.RevokePermission)

	projects := protected.Group("/projects")
	projects.POST("", h.Tasks.CreateProject)
	projects.GET("/:id", h.Tasks.GetProject)
	projects.GET("/:id/tasks", h.Tasks.ListTasks)
	projects.GET("/:id/export", h.Reports.ExportProjectTasks)

	tasks := protected.Group("/tasks")
	tasks.POST("", h.Tasks.CreateTask)
	tasks.GET("/:id", h.Tasks.GetTask)
	tasks.PUT("/:id/status", h.Tasks.UpdateStatus)
	tasks.PUT("/:id/assignee", h.Tasks.Assign)
	tasks.POST("/:id/dependencies", h.Tasks.AddDependency)
	tasks.POST("/:id/subtasks", h.Tasks.AddSubtask)
	tasks.POST("/:id/attachments", h.Tasks.UploadAttachment)
	tasks.GET("/:id/attachments/url", h.Tasks.AttachmentURL)

	plans := protected.Group("/plans")
	plans.GET("", h.Subscriptions.ListPlans)
	plans.GET("/:id", h.Subscriptions.GetPlan)
	plans.POST("", middleware.RequireGlobalRoles(models.GlobalRoleSuperAdmin), h.Subscriptions.CreatePlan)
	plans.DELETE("/:id", middleware.RequireGlobalRoles(models.GlobalRoleSuperAdmin), h.Subscriptions.DeactivatePlan)

	subscriptions := protected.Group("/subscriptions")
	subscriptions.POST("", h.Subscriptions.Subscribe)
	subscriptions.POST("/renew", h.Subscriptions.Renew)
	subscriptions.GET("/:workspaceId", h.Subscriptions.Status)

	protected.GET("/events", h.Events.List)
}
