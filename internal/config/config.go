package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
)

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port"`
	Debug          bool          `koanf:"debug"`
	AllowOrigins   []string      `koanf:"alloworigins"`
	MaxUploadBytes int64         `koanf:"maxuploadbytes"`
	ReadTimeout    time.Duration `koanf:"readtimeout"`
	WriteTimeout   time.Duration `koanf:"writetimeout"`
	FontPath       string        `koanf:"fontpath"`
}

// ModelConfig SAM2 模型配置
type ModelConfig struct {
	OnnxRuntimeLibPath string `koanf:"onnxruntimelibpath"`
	EncoderPath        string `koanf:"encoderpath"`
	DecoderPath        string `koanf:"decoderpath"`
	EncoderURL         string `koanf:"encoderurl"`
	DecoderURL         string `koanf:"decoderurl"`
	UseCuda            bool   `koanf:"usecuda"`
	CudaDeviceID       int    `koanf:"cudadeviceid"`
	NumThreads         int    `koanf:"numthreads"`
	MaxConcurrent      int64  `koanf:"maxconcurrent"`
	MaskAlpha          uint8  `koanf:"maskalpha"`
}

// GeneratorConfig 自动 Mask 生成参数
type GeneratorConfig struct {
	PointsPerSide        int     `koanf:"pointsperside"`
	PredIoUThresh        float32 `koanf:"prediouthresh"`
	StabilityScoreThresh float32 `koanf:"stabilityscorethresh"`
	StabilityScoreOffset float32 `koanf:"stabilityscoreoffset"`
	BoxNMSThresh         float32 `koanf:"boxnmsthresh"`
	CropNMSThresh        float32 `koanf:"cropnmsthresh"`
	CropNLayers          int     `koanf:"cropnlayers"`
	CropOverlapRatio     float32 `koanf:"cropoverlapratio"`
	CropPointsDownscale  int     `koanf:"croppointsdownscale"`
	MinMaskRegionArea    int     `koanf:"minmaskregionarea"`
}

// MinioConfig MinIO 存储配置
type MinioConfig struct {
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"accesskey"`
	SecretKey string `koanf:"secretkey"`
	Bucket    string `koanf:"bucket"`
	Region    string `koanf:"region"`
	Secure    bool   `koanf:"secure"`
}

// StorageConfig 上传文件存储配置
type StorageConfig struct {
	Backend string      `koanf:"backend"` // local 或 minio
	Dir     string      `koanf:"dir"`
	Minio   MinioConfig `koanf:"minio"`
}

// CacheConfig 结果缓存配置
type CacheConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	TTL      time.Duration `koanf:"ttl"`
}

// AppConfig 应用配置
type AppConfig struct {
	Server    ServerConfig    `koanf:"server"`
	Model     ModelConfig     `koanf:"model"`
	Generator GeneratorConfig `koanf:"generator"`
	Storage   StorageConfig   `koanf:"storage"`
	Cache     CacheConfig     `koanf:"cache"`
}

// Config 全局配置
var Config AppConfig

// defaults 默认值
var defaults = map[string]any{
	"server.host":           "0.0.0.0",
	"server.port":           8000,
	"server.alloworigins":   []string{"*"},
	"server.maxuploadbytes": 32 << 20,
	"server.readtimeout":    "30s",
	"server.writetimeout":   "10m",

	"model.onnxruntimelibpath": "./lib/onnxruntime_amd64.so",
	"model.encoderpath":        "./sam2_weights/vision_encoder.onnx",
	"model.decoderpath":        "./sam2_weights/prompt_encoder_mask_decoder.onnx",
	"model.maxconcurrent":      2,
	"model.maskalpha":          128,

	"generator.pointsperside":        32,
	"generator.prediouthresh":        0.56,
	"generator.stabilityscorethresh": 0.92,
	"generator.stabilityscoreoffset": 1.0,
	"generator.boxnmsthresh":         0.7,
	"generator.cropnmsthresh":        0.7,
	"generator.cropnlayers":          1,
	"generator.cropoverlapratio":     512.0 / 1500.0,
	"generator.croppointsdownscale":  2,
	"generator.minmaskregionarea":    100,

	"storage.backend":      "local",
	"storage.dir":          "uploads",
	"storage.minio.region": "us-east-1",

	"cache.addr": "localhost:6379",
	"cache.ttl":  "24h",
}

// Init 加载配置: 默认值 -> YAML 文件 -> CFG_ 环境变量
//
// filePath 为空或文件不存在时跳过文件加载. 当前目录下的 .env 会先被读入环境变量
func Init(filePath string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return err
	}

	if filePath != "" {
		if _, err := os.Stat(filePath); err == nil {
			if err := k.Load(file.Provider(filePath), yaml.Parser()); err != nil {
				return fmt.Errorf("load config file %s: %w", filePath, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	if err := k.Load(env.ProviderWithValue("CFG_", ".", func(s string, v string) (string, any) {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "CFG_")), "_", ".")
		if strings.Contains(v, ",") {
			return key, strings.Split(strings.TrimSpace(v), ",")
		}
		return key, v
	}), nil); err != nil {
		return err
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return err
	}
	if err := ValidateConfig(&cfg); err != nil {
		return err
	}
	Config = cfg
	return nil
}

// ValidateConfig 校验配置
func ValidateConfig(cfg *AppConfig) error {
	var errs []error
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", cfg.Server.Port))
	}
	if cfg.Model.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("model.maxconcurrent must be positive: %d", cfg.Model.MaxConcurrent))
	}
	if cfg.Generator.PointsPerSide <= 0 {
		errs = append(errs, fmt.Errorf("generator.pointsperside must be positive: %d", cfg.Generator.PointsPerSide))
	}
	switch cfg.Storage.Backend {
	case "local":
		if cfg.Storage.Dir == "" {
			errs = append(errs, errors.New("storage.dir is required for local backend"))
		}
	case "minio":
		if cfg.Storage.Minio.Endpoint == "" || cfg.Storage.Minio.Bucket == "" {
			errs = append(errs, errors.New("storage.minio.endpoint and storage.minio.bucket are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", cfg.Storage.Backend))
	}
	if cfg.Cache.Enabled && cfg.Cache.Addr == "" {
		errs = append(errs, errors.New("cache.addr is required when cache is enabled"))
	}
	return errors.Join(errs...)
}

var defaultConfigPath = "config/config.yaml"

// ParseConfigFlag 解析 -file 参数, 返回配置文件路径
func ParseConfigFlag() string {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configPath := fs.String("file", defaultConfigPath, "configuration file")
	_ = fs.Parse(os.Args[1:])

	return *configPath
}
