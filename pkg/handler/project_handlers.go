package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cipherstudio/cipherstudio/pkg/models"
	"github.com/cipherstudio/cipherstudio/pkg/service"
	"github.com/cipherstudio/cipherstudio/pkg/storage"
	"github.com/cipherstudio/cipherstudio/pkg/utils"
	"github.com/cipherstudio/cipherstudio/pkg/vfs"
)

type ProjectHandler struct {
	svc    *service.ProjectService
	logger *slog.Logger
}

func NewProjectHandler(svc *service.ProjectService, logger *slog.Logger) *ProjectHandler {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &ProjectHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers project and file routes
func (h *ProjectHandler) RegisterRoutes(r *gin.RouterGroup) {
	projects := r.Group("/projects")
	{
		projects.GET("", h.List)
		projects.POST("", h.Create)
		projects.GET("/:id", h.Get)
		projects.PUT("/:id", h.Update)
		projects.DELETE("/:id", h.Delete)
		projects.POST("/:id/save", h.Save)
		projects.PUT("/:id/autosave", h.SetAutoSave)
		projects.GET("/:id/tree", h.Tree)

		projects.GET("/:id/files", h.GetFile)
		projects.POST("/:id/files", h.CreateFile)
		projects.PUT("/:id/files", h.UpdateFile)
		projects.DELETE("/:id/files", h.DeleteFile)
		projects.POST("/:id/files/rename", h.RenameFile)
		projects.PUT("/:id/active", h.SetActive)

		projects.POST("/:id/folders", h.CreateFolder)
		projects.DELETE("/:id/folders", h.DeleteFolder)
		projects.POST("/:id/folders/rename", h.RenameFolder)
	}
}

func (h *ProjectHandler) List(c *gin.Context) {
	items, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: models.ProjectListResponse{Projects: items, Total: len(items)}})
}

func (h *ProjectHandler) Create(c *gin.Context) {
	var req models.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: "Invalid request: " + err.Error()})
		return
	}
	p, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.Response{Code: 0, Message: "created", Data: p})
}

// Get returns the project. The ETag is the content digest, so an unchanged
// project answers If-None-Match with 304.
func (h *ProjectHandler) Get(c *gin.Context) {
	bootstrap, _ := strconv.ParseBool(c.Query("bootstrap"))
	p, err := h.svc.Open(c.Request.Context(), c.Param("id"), bootstrap)
	if err != nil {
		h.fail(c, err)
		return
	}
	etag := `"` + p.Digest + `"`
	c.Header("ETag", etag)
	if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
		c.Status(http.StatusNotModified)
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: p})
}

func (h *ProjectHandler) Update(c *gin.Context) {
	var req models.UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: "Invalid request: " + err.Error()})
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		h.fail(c, service.ErrInvalidName)
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")

	// Files go first: a rejected layout leaves the project untouched.
	p, err := h.svc.Open(ctx, id, false)
	if err == nil && req.Files != nil {
		p, err = h.svc.ReplaceFiles(ctx, id, *req.Files, req.ActivePath)
	} else if err == nil && req.ActivePath != nil {
		if _, err = h.svc.SetActive(ctx, id, *req.ActivePath); err == nil {
			p, err = h.svc.Open(ctx, id, false)
		}
	}
	if err == nil && (req.Name != nil || req.Description != nil) {
		p, err = h.svc.UpdateDetails(ctx, id, req.Name, req.Description)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: p})
}

func (h *ProjectHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "deleted"})
}

func (h *ProjectHandler) Save(c *gin.Context) {
	p, err := h.svc.Save(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "saved", Data: p})
}

func (h *ProjectHandler) SetAutoSave(c *gin.Context) {
	var req models.AutoSaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: "Invalid request: " + err.Error()})
		return
	}
	p, err := h.svc.SetAutoSave(c.Request.Context(), c.Param("id"), req.Enabled)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: p})
}

func (h *ProjectHandler) Tree(c *gin.Context) {
	tree, err := h.svc.Tree(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: tree})
}

func (h *ProjectHandler) GetFile(c *gin.Context) {
	p, ok := queryPath(c)
	if !ok {
		return
	}
	f, err := h.svc.GetFile(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: f})
}

func (h *ProjectHandler) CreateFile(c *gin.Context) {
	var req models.CreateFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: "Invalid request: " + err.Error()})
		return
	}
	activate := req.Activate == nil || *req.Activate
	resp, err := h.svc.CreateFile(c.Request.Context(), c.Param("id"), req.Path, req.Content, activate)
	h.reply(c, resp, err, true)
}

func (h *ProjectHandler) UpdateFile(c *gin.Context) {
	var req models.UpdateFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: "Invalid request: " + err.Error()})
		return
	}
	resp, err := h.svc.UpdateFile(c.Request.Context(), c.Param("id"), req.Path, req.Content)
	h.reply(c, resp, err, false)
}

func (h *ProjectHandler) DeleteFile(c *gin.Context) {
	p, ok := queryPath(c)
	if !ok {
		return
	}
	resp, err := h.svc.DeleteFile(c.Request.Context(), c.Param("id"), p)
	h.reply(c, resp, err, true)
}

func (h *ProjectHandler) RenameFile(c *gin.Context) {
	var req models.RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: "Invalid request: " + err.Error()})
		return
	}
	resp, err := h.svc.RenameFile(c.Request.Context(), c.Param("id"), req.From, req.To)
	h.reply(c, resp, err, false)
}

func (h *ProjectHandler) SetActive(c *gin.Context) {
	var req models.PathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: "Invalid request: " + err.Error()})
		return
	}
	resp, err := h.svc.SetActive(c.Request.Context(), c.Param("id"), req.Path)
	h.reply(c, resp, err, true)
}

func (h *ProjectHandler) CreateFolder(c *gin.Context) {
	var req models.PathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: "Invalid request: " + err.Error()})
		return
	}
	resp, err := h.svc.CreateFolder(c.Request.Context(), c.Param("id"), req.Path)
	h.reply(c, resp, err, true)
}

func (h *ProjectHandler) DeleteFolder(c *gin.Context) {
	p, ok := queryPath(c)
	if !ok {
		return
	}
	resp, err := h.svc.DeleteFolder(c.Request.Context(), c.Param("id"), p)
	h.reply(c, resp, err, true)
}

func (h *ProjectHandler) RenameFolder(c *gin.Context) {
	var req models.RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: "Invalid request: " + err.Error()})
		return
	}
	resp, err := h.svc.RenameFolder(c.Request.Context(), c.Param("id"), req.From, req.To)
	h.reply(c, resp, err, false)
}

func queryPath(c *gin.Context) (string, bool) {
	p := c.Query("path")
	if strings.TrimSpace(p) == "" {
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: "path is required"})
		return "", false
	}
	return p, true
}

// reply maps a store result to a status code. missingOK marks operations for
// which a missing target is a successful no-op.
func (h *ProjectHandler) reply(c *gin.Context, resp *models.FileOpResponse, err error, missingOK bool) {
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusOK
	switch resp.Result {
	case vfs.ResultCreated:
		status = http.StatusCreated
	case vfs.ResultConflict:
		status = http.StatusConflict
	case vfs.ResultInvalid:
		status = http.StatusBadRequest
	case vfs.ResultNotFound:
		if !missingOK {
			status = http.StatusNotFound
		}
	}
	if status >= http.StatusBadRequest {
		c.JSON(status, models.Response{Code: status, Message: resp.Result.String(), Data: resp})
		return
	}
	c.JSON(status, models.Response{Code: 0, Message: resp.Result.String(), Data: resp})
}

func (h *ProjectHandler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrProjectNotFound), errors.Is(err, service.ErrFileNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidID), errors.Is(err, service.ErrInvalidName), errors.Is(err, service.ErrInvalidLayout):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrLastFile):
		status = http.StatusConflict
	default:
		h.logger.Error("Project request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	c.JSON(status, models.Response{Code: status, Message: err.Error()})
}
