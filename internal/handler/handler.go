package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/getcharzp/sam2-vision/internal/logger"
	"github.com/getcharzp/sam2-vision/internal/service"
)

// Handler HTTP 接口
type Handler struct {
	svc *service.Service
}

// New 创建 Handler
func New(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register 注册路由
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health-check", h.HealthCheck)

	api := r.Group("/api")
	{
		api.POST("/upload", h.Upload)
		api.POST("/masks/generate", h.GenerateMasks)
		api.POST("/masks/points", h.MasksByPoints)
		api.POST("/image/apply-colors", h.ApplyColors)
	}
}

// HealthCheck 存活检查
func (h *Handler) HealthCheck(c *gin.Context) {
	if err := h.svc.Ping(c.Request.Context()); err != nil {
		log, _ := logger.GetZapLogger(c.Request.Context())
		log.Warn("dependency check failed", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"success": "Ok"})
}

// Upload 上传图片, 表单字段 image
func (h *Handler) Upload(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		abort(c, http.StatusBadRequest, "Image file required")
		return
	}
	f, err := file.Open()
	if err != nil {
		abort(c, http.StatusBadRequest, "Failed to read image")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		abort(c, http.StatusBadRequest, "Failed to read image")
		return
	}

	res, err := h.svc.Upload(c.Request.Context(), file.Filename, data)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GenerateMasks 自动生成整图 Mask
func (h *Handler) GenerateMasks(c *gin.Context) {
	var req service.GenerateRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.svc.GenerateMasks(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// MasksByPoints 点提示分割
func (h *Handler) MasksByPoints(c *gin.Context) {
	var req service.PointsRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.svc.MasksByPoints(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ApplyColors 按 Mask 上色
func (h *Handler) ApplyColors(c *gin.Context) {
	var req service.ColorRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.svc.ApplyColors(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		abort(c, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

func abort(c *gin.Context, code int, detail string) {
	c.AbortWithStatusJSON(code, gin.H{"detail": detail})
}

// writeError 业务错误映射为 400/404, 其余为 500
func writeError(c *gin.Context, err error) {
	log, _ := logger.GetZapLogger(c.Request.Context())

	var svcErr *service.Error
	switch {
	case errors.As(err, &svcErr) && errors.Is(err, service.ErrNotFound):
		abort(c, http.StatusNotFound, svcErr.Message)
	case errors.As(err, &svcErr):
		log.Info("bad request", zap.String("path", c.FullPath()), zap.Error(err))
		abort(c, http.StatusBadRequest, svcErr.Message)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		log.Warn("request canceled", zap.String("path", c.FullPath()), zap.Error(err))
		abort(c, http.StatusServiceUnavailable, "Request canceled")
	default:
		// 内部错误只写日志, 不返回给客户端
		log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		abort(c, http.StatusInternalServerError, "Internal Server Error")
	}
	_ = c.Error(err)
}
