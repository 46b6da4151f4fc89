package paint

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"io"
	"strings"

	"github.com/disintegration/imaging"
)

var pngEncoder = &png.Encoder{CompressionLevel: png.BestSpeed}

// Decode 解码图片, 按 EXIF 方向自动旋转
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// ToNRGBA 转换为非预乘 alpha 的 RGBA 图片, 原点移到 (0, 0)
func ToNRGBA(img image.Image) *image.NRGBA {
	return imaging.Clone(img)
}

// EncodePNG 编码为 PNG
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := pngEncoder.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeBase64PNG 编码为 base64 格式的 PNG
func EncodeBase64PNG(img image.Image) (string, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeBase64 解码 base64, 兼容 data URL 前缀和缺失的填充
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[i+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return data, nil
}

// DecodeBase64Image 解码 base64 格式的图片
func DecodeBase64Image(s string) (image.Image, error) {
	data, err := DecodeBase64(s)
	if err != nil {
		return nil, err
	}
	return Decode(bytes.NewReader(data))
}

// DecodeBase64Mask 解码 base64 格式的 Mask 图片
func DecodeBase64Mask(s string) (*Mask, error) {
	img, err := DecodeBase64Image(s)
	if err != nil {
		return nil, err
	}
	return MaskFromImage(img), nil
}

// DecodeBytes 解码内存中的图片
func DecodeBytes(data []byte) (image.Image, error) {
	return Decode(bytes.NewReader(data))
}
