package vision

import (
	"errors"
	"testing"
)

func TestLibraryPath(t *testing.T) {
	tests := []struct {
		goos, goarch string
		want         string
	}{
		{"windows", "amd64", "./lib/onnxruntime.dll"},
		{"linux", "amd64", "./lib/onnxruntime_amd64.so"},
		{"linux", "arm64", "./lib/onnxruntime_arm64.so"},
		{"darwin", "arm64", "./lib/onnxruntime_arm64.dylib"},
		{"freebsd", "amd64", "./lib/onnxruntime_amd64.so"},
	}
	for _, tt := range tests {
		if got := libraryPath("./lib/", tt.goos, tt.goarch); got != tt.want {
			t.Errorf("libraryPath(%q, %q) = %q, want %q", tt.goos, tt.goarch, got, tt.want)
		}
	}
}

func TestOnnxConfig_EmptyLibPath(t *testing.T) {
	cfg := new(OnnxConfig)
	if err := cfg.New(); !errors.Is(err, ErrLibraryPathEmpty) {
		t.Fatalf("want ErrLibraryPathEmpty, got %v", err)
	}
}
