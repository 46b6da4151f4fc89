package weights

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/getcharzp/sam2-vision/internal/logger"
)

const (
	reqTimeout    = 30 * time.Minute
	maxRetryCount = 3
	retryDelay    = 2 * time.Second
)

// ErrMissing 模型文件不存在且未配置下载地址
var ErrMissing = errors.New("model file missing")

// File 模型文件及其下载地址
type File struct {
	Path string
	URL  string
}

// Downloader 下载缺失的模型文件
type Downloader struct {
	client *resty.Client
}

// NewDownloader 创建下载器
func NewDownloader(ctx context.Context) *Downloader {
	log, _ := logger.GetZapLogger(ctx)
	client := resty.New().
		SetLogger(log.Sugar()).
		SetTimeout(reqTimeout).
		SetRetryCount(maxRetryCount).
		SetRetryWaitTime(retryDelay)
	return &Downloader{client: client}
}

// Ensure 逐个检查模型文件, 缺失时下载到临时文件后重命名
func (d *Downloader) Ensure(ctx context.Context, files ...File) error {
	for _, f := range files {
		if err := d.ensure(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

func (d *Downloader) ensure(ctx context.Context, f File) error {
	log, _ := logger.GetZapLogger(ctx)

	if _, err := os.Stat(f.Path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if f.URL == "" {
		return fmt.Errorf("%w: %s", ErrMissing, f.Path)
	}

	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return err
	}

	log.Info("downloading model", zap.String("url", f.URL), zap.String("path", f.Path))
	start := time.Now()

	resp, err := d.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(f.URL)
	if err != nil {
		return fmt.Errorf("download %s: %w", f.URL, err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.StatusCode() != 200 {
		return fmt.Errorf("download %s: unexpected status %d", f.URL, resp.StatusCode())
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.Path), filepath.Base(f.Path)+".*.part")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", f.Path, err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return err
	}

	log.Info("model downloaded",
		zap.String("path", f.Path),
		zap.Int64("bytes", n),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}
