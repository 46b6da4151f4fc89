package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/getcharzp/sam2-vision/internal/config"
	"github.com/getcharzp/sam2-vision/internal/logger"
)

// Minio MinIO 存储, 文件以原文件名作为对象名
type Minio struct {
	client *minio.Client
	bucket string
}

// NewMinio 连接 MinIO 并确保 bucket 存在
func NewMinio(ctx context.Context, cfg config.MinioConfig) (*Minio, error) {
	log, _ := logger.GetZapLogger(ctx)
	log.Info("Initializing Minio client and bucket...")

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		log.Error("cannot connect to minio", zap.String("endpoint", cfg.Endpoint), zap.Error(err))
		return nil, err
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		log.Error("failed in checking BucketExists", zap.Error(err))
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			log.Error("creating Bucket failed", zap.Error(err))
			return nil, err
		}
		log.Info("Successfully created bucket", zap.String("bucket", cfg.Bucket))
	}

	return &Minio{client: client, bucket: cfg.Bucket}, nil
}

// Save 上传文件
func (m *Minio) Save(ctx context.Context, name string, data []byte) (string, error) {
	clean, err := CleanName(name)
	if err != nil {
		return "", err
	}
	if _, err := m.client.PutObject(ctx, m.bucket, clean, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType(data)}); err != nil {
		return "", fmt.Errorf("upload %s to minio: %w", clean, err)
	}
	return URL(clean), nil
}

// Open 下载文件
func (m *Minio) Open(ctx context.Context, name string) ([]byte, error) {
	clean, err := CleanName(name)
	if err != nil {
		return nil, err
	}
	obj, err := m.client.GetObject(ctx, m.bucket, clean, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioError(err, clean)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapMinioError(err, clean)
	}
	return data, nil
}

// Handler 代理下载对象
func (m *Minio) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		data, err := m.Open(r.Context(), name)
		switch {
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidName):
			http.NotFound(w, r)
			return
		case err != nil:
			http.Error(w, "storage unavailable", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", contentType(data))
		_, _ = w.Write(data)
	})
}

func mapMinioError(err error, name string) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return err
}
