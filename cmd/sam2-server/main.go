package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	vision "github.com/getcharzp/sam2-vision"
	"github.com/getcharzp/sam2-vision/internal/cache"
	"github.com/getcharzp/sam2-vision/internal/config"
	"github.com/getcharzp/sam2-vision/internal/logger"
	"github.com/getcharzp/sam2-vision/internal/metrics"
	"github.com/getcharzp/sam2-vision/internal/server"
	"github.com/getcharzp/sam2-vision/internal/service"
	"github.com/getcharzp/sam2-vision/internal/storage"
	"github.com/getcharzp/sam2-vision/internal/weights"
	"github.com/getcharzp/sam2-vision/sam2"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.Init(config.ParseConfigFlag()); err != nil {
		panic(err)
	}

	log, _ := logger.GetZapLogger(ctx)
	defer func() {
		// can't handle the error due to https://github.com/uber-go/zap/issues/880
		_ = log.Sync()
	}()

	if err := run(ctx); err != nil {
		log.Fatal("sam2 server exited", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	log, _ := logger.GetZapLogger(ctx)
	cfg := config.Config

	if err := weights.NewDownloader(ctx).Ensure(ctx,
		weights.File{Path: cfg.Model.EncoderPath, URL: cfg.Model.EncoderURL},
		weights.File{Path: cfg.Model.DecoderPath, URL: cfg.Model.DecoderURL},
	); err != nil {
		return err
	}

	libPath := cfg.Model.OnnxRuntimeLibPath
	if libPath == "" {
		libPath = vision.DefaultLibraryPath()
	}
	engine, err := sam2.NewEngine(sam2.Config{
		OnnxRuntimeLibPath: libPath,
		EncodeModelPath:    cfg.Model.EncoderPath,
		DecodeModelPath:    cfg.Model.DecoderPath,
		UseCuda:            cfg.Model.UseCuda,
		CudaDeviceID:       cfg.Model.CudaDeviceID,
		NumThreads:         cfg.Model.NumThreads,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Destroy(); err != nil {
			log.Warn("destroy engine", zap.Error(err))
		}
	}()

	g := cfg.Generator
	segmenter, err := service.NewSAM2Segmenter(engine, sam2.GeneratorConfig{
		PointsPerSide:        g.PointsPerSide,
		PredIoUThresh:        g.PredIoUThresh,
		StabilityScoreThresh: g.StabilityScoreThresh,
		StabilityScoreOffset: g.StabilityScoreOffset,
		BoxNMSThresh:         g.BoxNMSThresh,
		CropNMSThresh:        g.CropNMSThresh,
		CropNLayers:          g.CropNLayers,
		CropOverlapRatio:     g.CropOverlapRatio,
		CropPointsDownscale:  g.CropPointsDownscale,
		MinMaskRegionArea:    g.MinMaskRegionArea,
	})
	if err != nil {
		return err
	}
	log.Info("sam2 model loaded", zap.String("encoder", cfg.Model.EncoderPath), zap.Bool("cuda", cfg.Model.UseCuda))

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	m := metrics.New()
	opts := []service.Option{
		service.WithMetrics(m),
		service.WithMaxConcurrent(cfg.Model.MaxConcurrent),
		service.WithMaskAlpha(cfg.Model.MaskAlpha),
	}

	if cfg.Cache.Enabled {
		c := cache.New(redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		}), cfg.Cache.TTL)
		defer c.Close()
		if err := c.Ping(ctx); err != nil {
			log.Warn("redis unreachable, mask cache degraded", zap.String("addr", cfg.Cache.Addr), zap.Error(err))
		}
		opts = append(opts, service.WithCache(c))
	}

	if cfg.Server.FontPath != "" {
		drawer, err := vision.NewTextDrawer(cfg.Server.FontPath)
		if err != nil {
			return err
		}
		defer drawer.Close()
		opts = append(opts, service.WithTextDrawer(drawer))
	}

	svc := service.New(store, segmenter, opts...)
	return server.New(cfg.Server, svc, store, m).Run(ctx)
}
