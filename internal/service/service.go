package service

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	vision "github.com/getcharzp/sam2-vision"
	"github.com/getcharzp/sam2-vision/internal/cache"
	"github.com/getcharzp/sam2-vision/internal/logger"
	"github.com/getcharzp/sam2-vision/internal/metrics"
	"github.com/getcharzp/sam2-vision/internal/storage"
	"github.com/getcharzp/sam2-vision/paint"
	"github.com/getcharzp/sam2-vision/sam2"
)

// DefaultMaskAlpha 自动生成 Mask 预览的透明度
const DefaultMaskAlpha = 128

// Service 上传, 分割与上色
type Service struct {
	store     storage.Store
	segmenter Segmenter
	cache     *cache.Cache
	metrics   *metrics.Metrics
	drawer    *vision.TextDrawer
	sem       *semaphore.Weighted
	maskAlpha uint8

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option 可选配置
type Option func(*Service)

// WithCache 缓存自动生成结果
func WithCache(c *cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithMetrics 记录指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTextDrawer 支持在合成图上标注 Mask 序号
func WithTextDrawer(d *vision.TextDrawer) Option {
	return func(s *Service) { s.drawer = d }
}

// WithMaxConcurrent 限制同时进行的推理数量
func WithMaxConcurrent(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithMaskAlpha 自动生成 Mask 预览的透明度
func WithMaskAlpha(a uint8) Option {
	return func(s *Service) { s.maskAlpha = a }
}

// WithRand 指定随机颜色来源
func WithRand(rng *rand.Rand) Option {
	return func(s *Service) { s.rng = rng }
}

// New 创建 Service
func New(store storage.Store, segmenter Segmenter, opts ...Option) *Service {
	s := &Service{
		store:     store,
		segmenter: segmenter,
		sem:       semaphore.NewWeighted(1),
		maskAlpha: DefaultMaskAlpha,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload 保存上传的图片
func (s *Service) Upload(ctx context.Context, filename string, data []byte) (*UploadResult, error) {
	name, err := storage.CleanName(filename)
	if err != nil || !storage.AllowedExt(name) {
		return nil, badRequest("Invalid file type", err)
	}
	if _, err := storage.DetectImage(data); err != nil {
		return nil, badRequest("Invalid file type", err)
	}

	url, err := s.store.Save(ctx, name, data)
	if err != nil {
		return nil, err
	}

	log, _ := logger.GetZapLogger(ctx)
	log.Info("image uploaded", zap.String("filename", name), zap.Int("bytes", len(data)))

	return &UploadResult{Message: "Uploaded", Filename: name, URL: url}, nil
}

// GenerateMasks 自动生成全部 Mask, 每个 Mask 使用随机颜色
func (s *Service) GenerateMasks(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if req.Filename == "" {
		return nil, badRequest("Filename required", nil)
	}
	data, img, err := s.loadImage(ctx, req.Filename)
	if err != nil {
		return nil, err
	}

	log, _ := logger.GetZapLogger(ctx)
	key, err := cache.Key(data, struct {
		Model    any
		Alpha    uint8
		Annotate bool
	}{s.segmenter.Settings(), s.maskAlpha, req.Annotate && s.drawer != nil})
	if err != nil {
		return nil, err
	}

	var cached GenerateResult
	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		log.Warn("mask cache lookup failed", zap.Error(err))
	}
	if s.cache != nil {
		s.metrics.ObserveCache(hit)
	}
	if hit {
		return &cached, nil
	}

	var masks []sam2.AutoMask
	err = s.infer(ctx, "generate", func() error {
		var err error
		masks, err = s.segmenter.GenerateMasks(ctx, img)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveMasks(len(masks))

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	result := &GenerateResult{
		Masks:     make([]MaskInfo, 0, len(masks)),
		ImageSize: [2]int{h, w},
	}

	layers := make([]*paint.Mask, 0, len(masks))
	colors := make([]color.NRGBA, 0, len(masks))
	for i, m := range masks {
		pm := paint.MaskFromBytes(m.Mask, m.Width, m.Height)
		col := s.randomColor()

		encoded, err := paint.EncodeBase64PNG(paint.ColoredMask(pm, col))
		if err != nil {
			return nil, err
		}
		result.Masks = append(result.Masks, MaskInfo{ID: i, Score: float64(m.PredictedIoU), Mask: encoded})
		layers = append(layers, pm)
		colors = append(colors, col)
	}

	composite, err := paint.Composite(w, h, layers, colors)
	if err != nil {
		return nil, err
	}
	if req.Annotate && s.drawer != nil {
		s.annotate(composite, layers)
	}
	if result.CompositeMask, err = paint.EncodeBase64PNG(composite); err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, key, result); err != nil {
		log.Warn("mask cache store failed", zap.Error(err))
	}
	log.Info("masks generated", zap.String("filename", req.Filename), zap.Int("count", len(masks)))
	return result, nil
}

// annotate 在每个 Mask 的重心处绘制序号
func (s *Service) annotate(img *image.NRGBA, layers []*paint.Mask) {
	fg := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	bg := color.NRGBA{A: 160}
	for i, m := range layers {
		if p, ok := m.Centroid(); ok {
			s.drawer.DrawLabel(img, strconv.Itoa(i), p, fg, bg)
		}
	}
}

// MasksByPoints 根据提示点分割, 返回全部候选 Mask 的并集
func (s *Service) MasksByPoints(ctx context.Context, req PointsRequest) (*PointsResult, error) {
	if req.Filename == "" || len(req.Points) == 0 {
		return nil, badRequest("Filename & points required", nil)
	}
	_, img, err := s.loadImage(ctx, req.Filename)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	points := make([]sam2.Point, 0, len(req.Points))
	for _, p := range req.Points {
		label := sam2.LabelBackground
		if p.Positive() {
			label = sam2.LabelForeground
		}
		points = append(points, sam2.Point{
			X:     float32(int(p.X * float64(w))),
			Y:     float32(int(p.Y * float64(h))),
			Label: label,
		})
	}

	var results []*sam2.Result
	err = s.infer(ctx, "points", func() error {
		var err error
		results, err = s.segmenter.PredictPoints(ctx, img, points)
		return err
	})
	if err != nil {
		return nil, err
	}

	combined := paint.NewMask(w, h)
	for _, r := range results {
		if err := combined.Union(paint.MaskFromBytes(r.Mask, r.Width, r.Height)); err != nil {
			return nil, err
		}
	}
	if !combined.Any() {
		return &PointsResult{Mask: "", Combined: true, Warning: "No valid mask found"}, nil
	}

	encoded, err := paint.EncodeBase64PNG(combined.Gray())
	if err != nil {
		return nil, err
	}
	return &PointsResult{Mask: encoded, Combined: true}, nil
}

// ApplyColors 依次将颜色叠加到图片的 Mask 区域
//
// 优先使用 previous_image, 否则读取已上传的原图
func (s *Service) ApplyColors(ctx context.Context, req ColorRequest) (*ColorResult, error) {
	var (
		img image.Image
		err error
	)
	if req.PreviousImage != "" {
		img, err = paint.DecodeBase64Image(req.PreviousImage)
		if err != nil {
			return nil, badRequest("Invalid previous_image", err)
		}
	} else {
		if req.Filename == "" {
			return nil, badRequest("Filename required", nil)
		}
		if _, img, err = s.loadImage(ctx, req.Filename); err != nil {
			return nil, err
		}
	}

	canvas := paint.ToNRGBA(img)
	for i, op := range req.Operations {
		mask, err := paint.DecodeBase64Mask(op.Mask)
		if err != nil {
			return nil, badRequest("Invalid mask in operation "+strconv.Itoa(i), err)
		}
		col, err := paint.ParseColor(op.Color)
		if err != nil {
			return nil, badRequest("Invalid color in operation "+strconv.Itoa(i), err)
		}
		if err := paint.Apply(canvas, mask, col); err != nil {
			return nil, badRequest("Mask size mismatch in operation "+strconv.Itoa(i), err)
		}
	}

	encoded, err := paint.EncodeBase64PNG(canvas)
	if err != nil {
		return nil, err
	}
	return &ColorResult{ColoredImage: encoded}, nil
}

// Ping 检查依赖
func (s *Service) Ping(ctx context.Context) error {
	return s.cache.Ping(ctx)
}

// loadImage 读取并解码已上传的图片
func (s *Service) loadImage(ctx context.Context, filename string) ([]byte, image.Image, error) {
	data, err := s.store.Open(ctx, filename)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidName) {
		return nil, nil, notFound("Not found", err)
	}
	if err != nil {
		return nil, nil, err
	}
	img, err := paint.DecodeBytes(data)
	if err != nil {
		return nil, nil, badRequest("Invalid image", err)
	}
	return data, img, nil
}

// infer 在并发限制内执行推理并记录耗时
func (s *Service) infer(ctx context.Context, op string, fn func() error) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	start := time.Now()
	err := fn()
	s.metrics.ObserveInference(op, time.Since(start))
	return err
}

func (s *Service) randomColor() color.NRGBA {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return paint.RandomColor(s.rng, s.maskAlpha)
}
