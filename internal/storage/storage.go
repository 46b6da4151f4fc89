package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/getcharzp/sam2-vision/internal/config"
)

var (
	// ErrNotFound 文件不存在
	ErrNotFound = errors.New("file not found")
	// ErrInvalidName 文件名不合法
	ErrInvalidName = errors.New("invalid file name")
	// ErrInvalidFileType 不支持的文件类型
	ErrInvalidFileType = errors.New("invalid file type")
)

// URLPrefix 上传文件的访问路径前缀
const URLPrefix = "/uploads/"

// allowedExtensions 允许上传的扩展名
var allowedExtensions = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
}

// allowedMIME 允许上传的实际内容类型
var allowedMIME = []string{"image/png", "image/jpeg"}

// Store 上传图片的存储
type Store interface {
	// Save 保存文件并返回访问 URL
	Save(ctx context.Context, name string, data []byte) (string, error)
	// Open 读取文件内容, 不存在时返回 ErrNotFound
	Open(ctx context.Context, name string) ([]byte, error)
	// Handler 以去掉 URLPrefix 后的路径提供文件下载
	Handler() http.Handler
}

// New 根据配置创建存储
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocal(cfg.Dir)
	case "minio":
		return NewMinio(ctx, cfg.Minio)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// AllowedExt 扩展名是否为 png/jpg/jpeg
func AllowedExt(name string) bool {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return false
	}
	_, ok := allowedExtensions[strings.ToLower(name[i+1:])]
	return ok
}

// CleanName 去掉目录部分, 只保留文件名
func CleanName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	base := path.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == ".." || base == "/" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return base, nil
}

// URL 文件的访问地址
func URL(name string) string {
	return URLPrefix + filepath.ToSlash(name)
}

// DetectImage 根据内容判断是否为允许的图片类型
func DetectImage(data []byte) (string, error) {
	mtype := mimetype.Detect(data)
	if !mimetype.EqualsAny(mtype.String(), allowedMIME...) {
		return "", fmt.Errorf("%w: %s", ErrInvalidFileType, mtype.String())
	}
	return mtype.String(), nil
}

// contentType 根据内容识别 MIME 类型, 无法识别时为 application/octet-stream
func contentType(data []byte) string {
	return mimetype.Detect(data).String()
}
