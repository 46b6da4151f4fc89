package paint

import (
	"errors"
	"fmt"
	"image/color"
	"math/rand"
	"strconv"
	"strings"
)

// ErrInvalidColor 颜色格式无法识别
var ErrInvalidColor = errors.New("invalid color")

// ParseColor 解析颜色字符串
//
// 支持的格式:
//
//	#rrggbb, rrggbb, #rgb, #rrggbbaa
//	rgb(r, g, b)
//	rgba(r, g, b, a) a 为 0~1 的透明度, 大于 1 时按 0~255 处理
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch {
	case strings.HasPrefix(s, "rgba(") && strings.HasSuffix(s, ")"):
		return parseFunc(s[len("rgba("):len(s)-1], 4)
	case strings.HasPrefix(s, "rgb(") && strings.HasSuffix(s, ")"):
		return parseFunc(s[len("rgb("):len(s)-1], 3)
	default:
		return parseHex(strings.TrimLeft(s, "#"))
	}
}

// parseFunc 解析 rgb()/rgba() 括号内的参数
func parseFunc(body string, n int) (color.NRGBA, error) {
	parts := strings.Split(body, ",")
	if len(parts) != n {
		return color.NRGBA{}, fmt.Errorf("%w: expected %d components, got %d", ErrInvalidColor, n, len(parts))
	}

	var ch [3]uint8
	for i := 0; i < 3; i++ {
		v, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil || v < 0 || v > 255 {
			return color.NRGBA{}, fmt.Errorf("%w: channel %q", ErrInvalidColor, parts[i])
		}
		ch[i] = uint8(v)
	}

	c := color.NRGBA{R: ch[0], G: ch[1], B: ch[2], A: 255}
	if n == 4 {
		a, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
		if err != nil || a < 0 {
			return color.NRGBA{}, fmt.Errorf("%w: alpha %q", ErrInvalidColor, parts[3])
		}
		if a <= 1 {
			a *= 255
		}
		c.A = uint8(min(a, 255))
	}
	return c, nil
}

// parseHex 解析 rrggbb / rgb / rrggbbaa
func parseHex(h string) (color.NRGBA, error) {
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 && len(h) != 8 {
		return color.NRGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, h)
	}

	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, h)
	}
	if len(h) == 6 {
		return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

// RandomColor 随机颜色, 各通道取值 [0, 255)
func RandomColor(rng *rand.Rand, alpha uint8) color.NRGBA {
	return color.NRGBA{
		R: uint8(rng.Intn(255)),
		G: uint8(rng.Intn(255)),
		B: uint8(rng.Intn(255)),
		A: alpha,
	}
}
