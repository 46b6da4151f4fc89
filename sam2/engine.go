package sam2

import (
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"

	vision "github.com/getcharzp/sam2-vision"
	"github.com/up-zero/gotool/convertutil"
	"github.com/up-zero/gotool/imageutil"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	// ErrContextDestroyed 图片特征已被释放
	ErrContextDestroyed = errors.New("图片特征已销毁")
	// ErrNoPoints 未传入提示点
	ErrNoPoints = errors.New("提示点不能为空")
	// ErrEmptyImage 图片尺寸为 0
	ErrEmptyImage = errors.New("图片尺寸不能为 0")
)

// Engine 持有 ONNX Session，负责创建 ImageContext
type Engine struct {
	encoderSession *ort.DynamicAdvancedSession
	decoderSession *ort.DynamicAdvancedSession
	onnxConfig     *vision.OnnxConfig
	config         Config
}

// NewEngine 初始化 sam2 引擎
func NewEngine(cfg Config) (*Engine, error) {
	onnxConfig := new(vision.OnnxConfig)
	if err := convertutil.CopyProperties(cfg, onnxConfig); err != nil {
		return nil, fmt.Errorf("复制参数失败: %w", err)
	}
	// 初始化 ONNX
	if err := onnxConfig.New(); err != nil {
		return nil, err
	}

	// encoder session
	encInputs := []string{"pixel_values"}
	encOutputs := []string{"image_embeddings.0", "image_embeddings.1", "image_embeddings.2"}
	encSession, err := ort.NewDynamicAdvancedSession(cfg.EncodeModelPath, encInputs, encOutputs, onnxConfig.SessionOptions)
	if err != nil {
		onnxConfig.Release()
		return nil, fmt.Errorf("创建 Encoder ONNX 会话失败: %w", err)
	}

	// decoder session
	decInputs := []string{
		"input_points", "input_labels", "input_boxes",
		"image_embeddings.0", "image_embeddings.1", "image_embeddings.2",
	}
	decOutputs := []string{"iou_scores", "pred_masks", "object_score_logits"}
	decSession, err := ort.NewDynamicAdvancedSession(cfg.DecodeModelPath, decInputs, decOutputs, onnxConfig.SessionOptions)
	if err != nil {
		encSession.Destroy()
		onnxConfig.Release()
		return nil, fmt.Errorf("创建 Decoder ONNX 会话失败: %w", err)
	}

	return &Engine{
		encoderSession: encSession,
		decoderSession: decSession,
		onnxConfig:     onnxConfig,
		config:         cfg,
	}, nil
}

// Destroy 释放相关资源
func (e *Engine) Destroy() error {
	var errs []error
	if e.encoderSession != nil {
		if err := e.encoderSession.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("销毁 Encoder ONNX 会话失败: %w", err))
		}
		e.encoderSession = nil
	}
	if e.decoderSession != nil {
		if err := e.decoderSession.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("销毁 Decoder ONNX 会话失败: %w", err))
		}
		e.decoderSession = nil
	}
	if e.onnxConfig != nil {
		e.onnxConfig.Release()
		e.onnxConfig = nil
	}
	return errors.Join(errs...)
}

// ImageContext 包含特定图像的特征缓存和参数
type ImageContext struct {
	engine          *Engine
	imageEmbeddings []ort.Value

	origW, origH int
	scale        float32
	newW, newH   int

	mu          sync.Mutex
	isDestroyed bool
}

// EncodeImage 图像特征提取
func (e *Engine) EncodeImage(img image.Image) (*ImageContext, error) {
	// 预处理
	bounds := img.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()
	if origW == 0 || origH == 0 {
		return nil, ErrEmptyImage
	}

	scale := float32(inputSize) / float32(max(origW, origH))
	newW := max(1, int(float32(origW)*scale))
	newH := max(1, int(float32(origH)*scale))

	resizedImg := imageutil.Resize(img, newW, newH)
	tensorData := normalizeAndPad(resizedImg, inputSize, inputSize)

	// 创建 Input Tensor
	inputShape := ort.NewShape(1, 3, int64(inputSize), int64(inputSize))
	inputTensor, err := ort.NewTensor(inputShape, tensorData)
	if err != nil {
		return nil, fmt.Errorf("创建图片 Input Tensor 失败: %w", err)
	}
	defer inputTensor.Destroy()

	// Encoder 推理
	outputs := make([]ort.Value, 3)
	if err := e.encoderSession.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("encoder 推理失败: %w", err)
	}

	ctx := &ImageContext{
		engine:          e,
		imageEmbeddings: outputs,
		origW:           origW,
		origH:           origH,
		scale:           scale,
		newW:            newW,
		newH:            newH,
	}

	// 设置 Finalizer 以防用户忘记 Destroy
	runtime.SetFinalizer(ctx, func(c *ImageContext) { c.Destroy() })

	return ctx, nil
}

// Size 原图宽高
func (ctx *ImageContext) Size() (int, int) {
	return ctx.origW, ctx.origH
}

// Destroy 释放图像特征缓存
func (ctx *ImageContext) Destroy() {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.isDestroyed {
		return
	}
	for _, v := range ctx.imageEmbeddings {
		if v != nil {
			v.Destroy()
		}
	}
	ctx.imageEmbeddings = nil
	ctx.isDestroyed = true
}

// Result Mask 预测结果
type Result struct {
	Mask   []uint8 // 0 or 255
	Score  float32
	Width  int
	Height int
}

// MaskLogits 单个候选 Mask 的低分辨率 logits
type MaskLogits struct {
	Logits []float32 // Dim*Dim, 有效区域为 ValidW*ValidH
	Dim    int
	ValidW int
	ValidH int
	Score  float32 // 预测 IoU
}

// DecodeLogits 执行 Decoder, 返回全部候选 Mask 的 logits
func (ctx *ImageContext) DecodeLogits(points []Point) ([]MaskLogits, error) {
	if len(points) == 0 {
		return nil, ErrNoPoints
	}

	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.isDestroyed {
		return nil, ErrContextDestroyed
	}

	// 坐标转换
	coords := make([]float32, 0, len(points)*2)
	labels := make([]int64, 0, len(points))

	for _, pt := range points {
		coords = append(coords, pt.X*ctx.scale, pt.Y*ctx.scale)
		labels = append(labels, int64(pt.Label))
	}

	numPoints := int64(len(points))

	// 准备 Decoder Tensors
	tPoints, err := ort.NewTensor(ort.NewShape(1, 1, numPoints, 2), coords)
	if err != nil {
		return nil, fmt.Errorf("创建 Decoder Points Tensor 失败: %w", err)
	}
	defer tPoints.Destroy()

	tLabels, err := ort.NewTensor(ort.NewShape(1, 1, numPoints), labels)
	if err != nil {
		return nil, fmt.Errorf("创建 Decoder Labels Tensor 失败: %w", err)
	}
	defer tLabels.Destroy()

	// box 通过 point 控制
	var emptyFloat []float32
	tBoxes, err := ort.NewTensor(ort.NewShape(1, 0, 4), emptyFloat)
	if err != nil {
		return nil, fmt.Errorf("创建 Decoder Boxes Tensor 失败: %w", err)
	}
	defer tBoxes.Destroy()

	inputs := []ort.Value{
		tPoints,
		tLabels,
		tBoxes,
		ctx.imageEmbeddings[0],
		ctx.imageEmbeddings[1],
		ctx.imageEmbeddings[2],
	}
	outputs := make([]ort.Value, 3)

	// Decoder 推理
	if err := ctx.engine.decoderSession.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("decoder 推理失败: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	scoresTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("iou_scores 类型错误: %T", outputs[0])
	}
	masksTensor, ok := outputs[1].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("pred_masks 类型错误: %T", outputs[1])
	}

	// pred_masks [1, 1, 3, 256, 256]
	shape := masksTensor.GetShape()
	if len(shape) < 2 {
		return nil, fmt.Errorf("pred_masks 形状错误: %v", shape)
	}
	dim := int(shape[len(shape)-1])

	return splitMaskLogits(scoresTensor.GetData(), masksTensor.GetData(), dim, ctx.newW, ctx.newH)
}

// splitMaskLogits 将 Decoder 输出拆分为候选列表
func splitMaskLogits(rawScores, rawMasks []float32, dim, newW, newH int) ([]MaskLogits, error) {
	pixelsPerMask := dim * dim
	if pixelsPerMask == 0 || len(rawMasks) < len(rawScores)*pixelsPerMask {
		return nil, fmt.Errorf("decoder 输出尺寸不匹配: scores=%d masks=%d", len(rawScores), len(rawMasks))
	}

	// 输入图片按 1024 填充, Mask 有效区域同比例缩放
	ratio := float32(dim) / float32(inputSize)
	validW := min(dim, max(1, int(float32(newW)*ratio)))
	validH := min(dim, max(1, int(float32(newH)*ratio)))

	out := make([]MaskLogits, len(rawScores))
	for i, score := range rawScores {
		logits := make([]float32, pixelsPerMask)
		copy(logits, rawMasks[i*pixelsPerMask:(i+1)*pixelsPerMask])
		out[i] = MaskLogits{
			Logits: logits,
			Dim:    dim,
			ValidW: validW,
			ValidH: validH,
			Score:  score,
		}
	}
	return out, nil
}

// bestIndex 选出预测 IoU 最高的候选
func bestIndex(cands []MaskLogits) int {
	bestIdx := 0
	bestScore := float32(-100.0)
	for i, c := range cands {
		if c.Score > bestScore {
			bestScore = c.Score
			bestIdx = i
		}
	}
	return bestIdx
}

// toResult 将 logits 放大到原图尺寸
func (ctx *ImageContext) toResult(m MaskLogits) *Result {
	return &Result{
		Mask:   upscaleMaskLogits(m.Logits, m.Dim, m.ValidW, m.ValidH, ctx.origW, ctx.origH, maskThreshold),
		Score:  m.Score,
		Width:  ctx.origW,
		Height: ctx.origH,
	}
}

// DecodeRaw Mask解码并返回得分最高的原始结果
func (ctx *ImageContext) DecodeRaw(points []Point) (*Result, error) {
	cands, err := ctx.DecodeLogits(points)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return nil, fmt.Errorf("decoder 未输出任何 Mask")
	}
	return ctx.toResult(cands[bestIndex(cands)]), nil
}

// DecodeMulti Mask解码并返回全部候选结果 (multimask)
func (ctx *ImageContext) DecodeMulti(points []Point) ([]*Result, error) {
	cands, err := ctx.DecodeLogits(points)
	if err != nil {
		return nil, err
	}
	results := make([]*Result, 0, len(cands))
	for _, c := range cands {
		results = append(results, ctx.toResult(c))
	}
	return results, nil
}

// Decode Mask解码并返回图片
func (ctx *ImageContext) Decode(points []Point) (image.Image, float32, error) {
	result, err := ctx.DecodeRaw(points)
	if err != nil {
		return nil, 0, err
	}
	return result.Gray(), result.Score, nil
}

// Gray 转换为灰度图
func (r *Result) Gray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, r.Width, r.Height))
	copy(img.Pix, r.Mask)
	return img
}
