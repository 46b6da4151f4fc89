package sam2

import vision "github.com/getcharzp/sam2-vision"

type Label int

const (
	LabelBackground  Label = 0 // 背景/排除
	LabelForeground  Label = 1 // 前景/点击
	LabelBoxTopLeft  Label = 2 // 框选左上
	LabelBoxBotRight Label = 3 // 框选右下
)

// 均值和方差常量
const (
	MeanG = 0.456
	MeanB = 0.406
	MeanR = 0.485

	StdG = 0.224
	StdB = 0.225
	StdR = 0.229
)

const (
	// inputSize 输入图片的长边尺寸
	inputSize = 1024
	// lowResSize Decoder 输出的低分辨率 Mask 边长
	lowResSize = 256
	// maskThreshold 阈值
	maskThreshold = 0.0
	// numMultiMask Decoder 每次输出的候选 Mask 数量
	numMultiMask = 3
)

type Point struct {
	X, Y  float32
	Label Label
}

// Config 配置项
type Config struct {
	// 必填参数
	OnnxRuntimeLibPath string // onnxruntime.dll (或 .so, .dylib) 的路径
	EncodeModelPath    string // 图片特征提取模型
	DecodeModelPath    string // Mask解码模型

	// 可选参数
	UseCuda      bool // (可选) 是否启用 CUDA
	CudaDeviceID int  // (可选) CUDA 设备号
	NumThreads   int  // (可选) ONNX 线程数, 默认由CPU核心数决定
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		OnnxRuntimeLibPath: vision.DefaultLibraryPath(),
		EncodeModelPath:    "./sam2_weights/vision_encoder.onnx",
		DecodeModelPath:    "./sam2_weights/prompt_encoder_mask_decoder.onnx",
	}
}

// GeneratorConfig 自动 Mask 生成参数
type GeneratorConfig struct {
	PointsPerSide        int     // 每边采样点数 (默认 32)
	PredIoUThresh        float32 // 预测 IoU 阈值 (默认 0.56)
	StabilityScoreThresh float32 // 稳定性阈值 (默认 0.92)
	StabilityScoreOffset float32 // 稳定性计算时的 logits 偏移 (默认 1.0)
	BoxNMSThresh         float32 // 同一裁剪内的 NMS 阈值 (默认 0.7)
	CropNMSThresh        float32 // 跨裁剪的 NMS 阈值 (默认 0.7)
	CropNLayers          int     // 裁剪层数, 0 表示只处理整图 (默认 1)
	CropOverlapRatio     float32 // 裁剪重叠比例 (默认 512/1500)
	CropPointsDownscale  int     // 每层采样点缩减倍数 (默认 2)
	MinMaskRegionArea    int     // 小于该面积的孤岛和空洞会被清理 (默认 100)
}

// DefaultGeneratorConfig 返回默认生成参数
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		PointsPerSide:        32,
		PredIoUThresh:        0.56,
		StabilityScoreThresh: 0.92,
		StabilityScoreOffset: 1.0,
		BoxNMSThresh:         0.7,
		CropNMSThresh:        0.7,
		CropNLayers:          1,
		CropOverlapRatio:     512.0 / 1500.0,
		CropPointsDownscale:  2,
		MinMaskRegionArea:    100,
	}
}
