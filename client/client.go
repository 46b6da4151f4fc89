// Package client SAM2 服务的 HTTP 客户端
package client

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/getcharzp/sam2-vision/internal/service"
)

const (
	reqTimeout    = 10 * time.Minute
	maxRetryCount = 2
	retryDelay    = 500 * time.Millisecond
)

// Re-exported request and response types.
type (
	UploadResult   = service.UploadResult
	MaskInfo       = service.MaskInfo
	GenerateResult = service.GenerateResult
	PromptPoint    = service.PromptPoint
	PointsResult   = service.PointsResult
	ColorOperation = service.ColorOperation
	ColorRequest   = service.ColorRequest
	ColorResult    = service.ColorResult
)

// APIError 服务端返回的错误
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sam2 api: %d %s", e.StatusCode, e.Detail)
}

type errorBody struct {
	Detail string `json:"detail"`
}

// Client SAM2 服务客户端
type Client struct {
	*resty.Client
}

// New 创建客户端
//
// # Params:
//
//	baseURL: 服务地址, 如 http://localhost:8000
func New(baseURL string) *Client {
	r := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(reqTimeout).
		SetRetryCount(maxRetryCount).
		SetRetryWaitTime(retryDelay).
		AddRetryCondition(retryIdempotent).
		SetError(&errorBody{})
	return &Client{Client: r}
}

// retryIdempotent 只重试 GET/HEAD, POST 的请求体已被消费且可能重复执行推理
func retryIdempotent(resp *resty.Response, err error) bool {
	if resp == nil || resp.Request == nil {
		return false
	}
	switch resp.Request.Method {
	case http.MethodGet, http.MethodHead:
		return err != nil || resp.StatusCode() >= http.StatusInternalServerError
	}
	return false
}

// Health 存活检查
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.R().SetContext(ctx).Get("/health-check")
	return check(resp, err)
}

// Upload 上传图片
func (c *Client) Upload(ctx context.Context, filename string, data []byte) (*UploadResult, error) {
	var res UploadResult
	resp, err := c.R().
		SetContext(ctx).
		SetFileReader("image", filename, bytes.NewReader(data)).
		SetResult(&res).
		Post("/api/upload")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &res, nil
}

// GenerateMasks 自动生成整图 Mask
func (c *Client) GenerateMasks(ctx context.Context, filename string) (*GenerateResult, error) {
	var res GenerateResult
	resp, err := c.R().
		SetContext(ctx).
		SetBody(service.GenerateRequest{Filename: filename}).
		SetResult(&res).
		Post("/api/masks/generate")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &res, nil
}

// MasksByPoints 点提示分割
func (c *Client) MasksByPoints(ctx context.Context, filename string, points []PromptPoint) (*PointsResult, error) {
	var res PointsResult
	resp, err := c.R().
		SetContext(ctx).
		SetBody(service.PointsRequest{Filename: filename, Points: points}).
		SetResult(&res).
		Post("/api/masks/points")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &res, nil
}

// ApplyColors 按 Mask 上色
func (c *Client) ApplyColors(ctx context.Context, req ColorRequest) (*ColorResult, error) {
	var res ColorResult
	resp, err := c.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&res).
		Post("/api/image/apply-colors")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &res, nil
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("sam2 api: %w", err)
	}
	if !resp.IsError() {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode()}
	if body, ok := resp.Error().(*errorBody); ok && body.Detail != "" {
		apiErr.Detail = body.Detail
	} else {
		apiErr.Detail = resp.Status()
	}
	return apiErr
}
