package sam2

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"math"
	"sort"
)

// Predictor 单张图片的 Mask 解码器, *ImageContext 实现了该接口
type Predictor interface {
	DecodeLogits(points []Point) ([]MaskLogits, error)
	Size() (int, int)
	Destroy()
}

// Encoder 图片编码器, *Engine 实现了该接口
type Encoder interface {
	Encode(img image.Image) (Predictor, error)
}

// Encode 实现 Encoder
func (e *Engine) Encode(img image.Image) (Predictor, error) {
	ctx, err := e.EncodeImage(img)
	if err != nil {
		return nil, err
	}
	return ctx, nil
}

// cropEdgeTolerance 判断 Mask 是否贴近裁剪边缘的像素容差
const cropEdgeTolerance = 20

// AutoMask 自动生成的单个 Mask
type AutoMask struct {
	Mask           []uint8 // 0 or 255, 原图尺寸
	Width, Height  int
	Area           int
	Box            image.Rectangle
	PredictedIoU   float32
	StabilityScore float32
	PointCoord     [2]float32      // 生成该 Mask 的采样点 (原图坐标)
	CropBox        image.Rectangle // 生成该 Mask 的裁剪区域
}

// Gray 转换为灰度图
func (m *AutoMask) Gray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	copy(img.Pix, m.Mask)
	return img
}

// candidate 生成过程中的候选 Mask
//
// 去重前只保留低分辨率的 low, 去重后才展开为原图尺寸的 mask
type candidate struct {
	low       *bitMask
	mask      []uint8 // 原图尺寸, 去重后填充
	box       image.Rectangle
	area      int
	iou       float32
	stability float32
	point     [2]float32
	cropBox   image.Rectangle
	rank      float32 // NMS 排序依据
}

// Generator 基于网格采样点的自动 Mask 生成器
type Generator struct {
	encoder Encoder
	config  GeneratorConfig
}

// NewGenerator 创建自动 Mask 生成器
func NewGenerator(encoder Encoder, cfg GeneratorConfig) (*Generator, error) {
	if encoder == nil {
		return nil, fmt.Errorf("encoder 不能为空")
	}
	if cfg.PointsPerSide <= 0 {
		return nil, fmt.Errorf("PointsPerSide 必须大于 0: %d", cfg.PointsPerSide)
	}
	if cfg.CropNLayers < 0 {
		return nil, fmt.Errorf("CropNLayers 不能为负数: %d", cfg.CropNLayers)
	}
	if cfg.CropPointsDownscale <= 0 {
		cfg.CropPointsDownscale = 1
	}
	return &Generator{encoder: encoder, config: cfg}, nil
}

// Config 返回生成参数
func (g *Generator) Config() GeneratorConfig {
	return g.config
}

// Generate 对整张图片生成全部 Mask, 结果按面积降序排列
func (g *Generator) Generate(ctx context.Context, img image.Image) ([]AutoMask, error) {
	bounds := img.Bounds()
	imW, imH := bounds.Dx(), bounds.Dy()
	if imW == 0 || imH == 0 {
		return nil, ErrEmptyImage
	}

	cropBoxes, layerIdxs := generateCropBoxes(imW, imH, g.config.CropNLayers, g.config.CropOverlapRatio)

	var all []*candidate
	for i, cropBox := range cropBoxes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cands, err := g.processCrop(ctx, img, cropBox, layerIdxs[i])
		if err != nil {
			return nil, fmt.Errorf("处理裁剪区域 %v 失败: %w", cropBox, err)
		}
		all = append(all, cands...)
	}

	// 跨裁剪去重, 优先保留来自更小裁剪区域的 Mask
	if len(cropBoxes) > 1 {
		for _, c := range all {
			c.rank = 1 / float32(max(1, c.cropBox.Dx()*c.cropBox.Dy()))
		}
		all = nms(all, g.config.CropNMSThresh)
	}

	for _, c := range all {
		c.mask = uncropMask(c.low.upscale(c.cropBox.Dx(), c.cropBox.Dy()), c.cropBox, imW, imH)
		c.low = nil
	}

	if g.config.MinMaskRegionArea > 0 {
		all = g.postprocessSmallRegions(all, imW, imH)
	}

	masks := make([]AutoMask, 0, len(all))
	for _, c := range all {
		if c.area == 0 {
			continue
		}
		masks = append(masks, AutoMask{
			Mask:           c.mask,
			Width:          imW,
			Height:         imH,
			Area:           c.area,
			Box:            c.box,
			PredictedIoU:   c.iou,
			StabilityScore: c.stability,
			PointCoord:     c.point,
			CropBox:        c.cropBox,
		})
	}
	sort.SliceStable(masks, func(i, j int) bool {
		return masks[i].Area > masks[j].Area
	})
	return masks, nil
}

// processCrop 编码裁剪区域并对网格点逐个解码
func (g *Generator) processCrop(ctx context.Context, img image.Image, cropBox image.Rectangle, layer int) ([]*candidate, error) {
	bounds := img.Bounds()
	imW, imH := bounds.Dx(), bounds.Dy()
	cropW, cropH := cropBox.Dx(), cropBox.Dy()

	cropImg := image.NewRGBA(image.Rect(0, 0, cropW, cropH))
	draw.Draw(cropImg, cropImg.Bounds(), img, bounds.Min.Add(cropBox.Min), draw.Src)

	pred, err := g.encoder.Encode(cropImg)
	if err != nil {
		return nil, err
	}
	defer pred.Destroy()

	nPerSide := max(1, g.config.PointsPerSide/intPow(g.config.CropPointsDownscale, layer))
	fullBox := image.Rect(0, 0, imW, imH)

	var cands []*candidate
	for _, p := range buildPointGrid(nPerSide) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		px, py := p[0]*float32(cropW), p[1]*float32(cropH)
		logits, err := pred.DecodeLogits([]Point{{X: px, Y: py, Label: LabelForeground}})
		if err != nil {
			return nil, err
		}

		for _, m := range logits {
			if m.Score < g.config.PredIoUThresh {
				continue
			}
			stability := stabilityScore(m, maskThreshold, g.config.StabilityScoreOffset)
			if stability < g.config.StabilityScoreThresh {
				continue
			}

			low := binarizeLogits(m, maskThreshold)
			area, box := low.upscaledStats(cropW, cropH)
			if area == 0 {
				continue
			}
			box = box.Add(cropBox.Min)
			if isBoxNearCropEdge(box, cropBox, fullBox, cropEdgeTolerance) {
				continue
			}

			cands = append(cands, &candidate{
				low:       low,
				box:       box,
				area:      area,
				iou:       m.Score,
				stability: stability,
				point:     [2]float32{px + float32(cropBox.Min.X), py + float32(cropBox.Min.Y)},
				cropBox:   cropBox,
				rank:      m.Score,
			})
		}
	}

	return nms(cands, g.config.BoxNMSThresh), nil
}

// postprocessSmallRegions 清理小孤岛和空洞, 并对修改过的 Mask 重新去重
func (g *Generator) postprocessSmallRegions(cands []*candidate, imW, imH int) []*candidate {
	for _, c := range cands {
		changedHoles := removeSmallRegions(c.mask, imW, imH, g.config.MinMaskRegionArea, modeHoles)
		changedIslands := removeSmallRegions(c.mask, imW, imH, g.config.MinMaskRegionArea, modeIslands)
		c.area, c.box = maskStats(c.mask, imW, imH)
		// 未修改的 Mask 优先保留
		if changedHoles || changedIslands {
			c.rank = 0
		} else {
			c.rank = 1
		}
	}
	return nms(cands, g.config.BoxNMSThresh)
}

// generateCropBoxes 生成多层裁剪区域, 第 0 层为整图
func generateCropBoxes(imW, imH, nLayers int, overlapRatio float32) ([]image.Rectangle, []int) {
	boxes := []image.Rectangle{image.Rect(0, 0, imW, imH)}
	layers := []int{0}
	shortSide := min(imW, imH)

	for layer := 0; layer < nLayers; layer++ {
		nPerSide := 1 << (layer + 1)
		overlap := int(overlapRatio * float32(shortSide) * (2 / float32(nPerSide)))

		cropW := int(math.Ceil(float64(overlap*(nPerSide-1)+imW) / float64(nPerSide)))
		cropH := int(math.Ceil(float64(overlap*(nPerSide-1)+imH) / float64(nPerSide)))

		for i := 0; i < nPerSide; i++ {
			x0 := (cropW - overlap) * i
			for j := 0; j < nPerSide; j++ {
				y0 := (cropH - overlap) * j
				boxes = append(boxes, image.Rect(x0, y0, min(x0+cropW, imW), min(y0+cropH, imH)))
				layers = append(layers, layer+1)
			}
		}
	}
	return boxes, layers
}

// buildPointGrid 生成 [0,1] 范围内均匀分布的 n*n 采样点
func buildPointGrid(n int) [][2]float32 {
	offset := 1 / (2 * float32(n))
	step := (1 - 2*offset) / float32(max(1, n-1))
	points := make([][2]float32, 0, n*n)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			x, y := offset, offset
			if n > 1 {
				x = offset + float32(i)*step
				y = offset + float32(j)*step
			}
			points = append(points, [2]float32{x, y})
		}
	}
	return points
}

// isBoxNearCropEdge Mask 贴近裁剪的内部边缘 (非原图边缘) 时返回 true
func isBoxNearCropEdge(box, cropBox, origBox image.Rectangle, tol int) bool {
	b := [4]int{box.Min.X, box.Min.Y, box.Max.X, box.Max.Y}
	c := [4]int{cropBox.Min.X, cropBox.Min.Y, cropBox.Max.X, cropBox.Max.Y}
	o := [4]int{origBox.Min.X, origBox.Min.Y, origBox.Max.X, origBox.Max.Y}
	for i := range b {
		nearCrop := abs(b[i]-c[i]) <= tol
		nearImage := abs(b[i]-o[i]) <= tol
		if nearCrop && !nearImage {
			return true
		}
	}
	return false
}

// uncropMask 将裁剪区域内的 Mask 放回原图尺寸
func uncropMask(local []uint8, cropBox image.Rectangle, imW, imH int) []uint8 {
	cropW := cropBox.Dx()
	if cropBox.Min.X == 0 && cropBox.Min.Y == 0 && cropW == imW && cropBox.Dy() == imH {
		return local
	}
	full := make([]uint8, imW*imH)
	for y := 0; y < cropBox.Dy(); y++ {
		dst := (cropBox.Min.Y+y)*imW + cropBox.Min.X
		copy(full[dst:dst+cropW], local[y*cropW:(y+1)*cropW])
	}
	return full
}

func intPow(base, exp int) int {
	out := 1
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
