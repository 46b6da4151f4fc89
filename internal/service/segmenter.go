package service

import (
	"context"
	"image"

	"github.com/getcharzp/sam2-vision/sam2"
)

// Segmenter 分割模型
type Segmenter interface {
	// GenerateMasks 自动生成整图 Mask
	GenerateMasks(ctx context.Context, img image.Image) ([]sam2.AutoMask, error)
	// PredictPoints 点提示分割, 返回全部候选 Mask
	PredictPoints(ctx context.Context, img image.Image, points []sam2.Point) ([]*sam2.Result, error)
	// Settings 影响输出的参数, 用于缓存键
	Settings() any
}

// SAM2Segmenter 基于 sam2.Engine 的 Segmenter
type SAM2Segmenter struct {
	engine    *sam2.Engine
	generator *sam2.Generator
}

// NewSAM2Segmenter 创建 Segmenter
func NewSAM2Segmenter(engine *sam2.Engine, cfg sam2.GeneratorConfig) (*SAM2Segmenter, error) {
	gen, err := sam2.NewGenerator(engine, cfg)
	if err != nil {
		return nil, err
	}
	return &SAM2Segmenter{engine: engine, generator: gen}, nil
}

// GenerateMasks 实现 Segmenter
func (s *SAM2Segmenter) GenerateMasks(ctx context.Context, img image.Image) ([]sam2.AutoMask, error) {
	return s.generator.Generate(ctx, img)
}

// PredictPoints 实现 Segmenter
func (s *SAM2Segmenter) PredictPoints(ctx context.Context, img image.Image, points []sam2.Point) ([]*sam2.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	imgCtx, err := s.engine.EncodeImage(img)
	if err != nil {
		return nil, err
	}
	defer imgCtx.Destroy()
	return imgCtx.DecodeMulti(points)
}

// Settings 实现 Segmenter
func (s *SAM2Segmenter) Settings() any {
	return s.generator.Config()
}
