package vision

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ErrLibraryPathEmpty 未指定 onnxruntime 动态库
var ErrLibraryPathEmpty = errors.New("OnnxRuntimeLibPath 不能为空")

// OnnxConfig ONNX Runtime 会话配置
type OnnxConfig struct {
	SessionOptions *ort.SessionOptions

	// 必填参数
	OnnxRuntimeLibPath string // onnxruntime.dll (或 .so, .dylib) 的路径
	// 可选参数
	UseCuda      bool // (可选) 是否启用 CUDA
	CudaDeviceID int  // (可选) CUDA 设备号
	NumThreads   int  // (可选) ONNX 线程数, 默认由CPU核心数决定
}

var (
	envMu   sync.Mutex
	envRefs int
)

// New 初始化 ONNX 环境并创建会话选项
//
// 环境在进程内只初始化一次, 每次成功调用都需要对应一次 Release
func (cfg *OnnxConfig) New() error {
	if cfg.OnnxRuntimeLibPath == "" {
		return ErrLibraryPathEmpty
	}

	envMu.Lock()
	if envRefs == 0 && !ort.IsInitialized() {
		ort.SetSharedLibraryPath(cfg.OnnxRuntimeLibPath)
		if err := ort.InitializeEnvironment(); err != nil {
			envMu.Unlock()
			return fmt.Errorf("初始化 ONNX Runtime 环境失败: %w", err)
		}
	}
	envRefs++
	envMu.Unlock()

	options, err := cfg.sessionOptions()
	if err != nil {
		cfg.Release()
		return err
	}
	cfg.SessionOptions = options
	return nil
}

func (cfg *OnnxConfig) sessionOptions() (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("创建 SessionOptions 失败: %w", err)
	}
	if cfg.NumThreads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			options.Destroy()
			return nil, err
		}
	}

	// 启用CUDA
	if cfg.UseCuda {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			options.Destroy()
			return nil, fmt.Errorf("创建 CUDAProviderOptions 失败: %w", err)
		}
		defer cudaOptions.Destroy()
		if err := cudaOptions.Update(map[string]string{
			"device_id": fmt.Sprint(cfg.CudaDeviceID),
		}); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("设置 CUDA 设备失败: %w", err)
		}
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("添加 CUDA 执行提供者失败: %w", err)
		}
	}
	return options, nil
}

// Release 释放会话选项, 最后一个使用者释放时销毁 ONNX 环境
func (cfg *OnnxConfig) Release() {
	if cfg.SessionOptions != nil {
		cfg.SessionOptions.Destroy()
		cfg.SessionOptions = nil
	}

	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		return
	}
	envRefs--
	if envRefs == 0 && ort.IsInitialized() {
		ort.DestroyEnvironment()
	}
}

// DefaultLibraryPath 根据运行时环境判断加载哪个库文件
func DefaultLibraryPath() string {
	return libraryPath("./lib/", runtime.GOOS, runtime.GOARCH)
}

func libraryPath(baseDir, goos, goarch string) string {
	libName := "onnxruntime"

	// windows onnxruntime.dll
	if goos == "windows" {
		return baseDir + libName + ".dll"
	}

	var ext string
	switch goos {
	case "darwin":
		ext = "dylib"
	case "linux":
		ext = "so"
	default:
		return baseDir + libName + "_amd64.so" // 默认返回 linux amd64
	}

	// 拼接完整路径: ./lib/onnxruntime + _ + amd64/arm64 + . + so/dylib
	return fmt.Sprintf("%s%s_%s.%s", baseDir, libName, goarch, ext)
}
