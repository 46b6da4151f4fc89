package paint

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// ErrMaskSize Mask 与图片尺寸不一致
var ErrMaskSize = errors.New("mask size does not match image")

// maskLumaThreshold 亮度大于该值的像素属于 Mask
const maskLumaThreshold = 128

// Mask 二值 Mask
type Mask struct {
	Width, Height int
	Pix           []bool
}

// NewMask 创建空 Mask
func NewMask(w, h int) *Mask {
	return &Mask{Width: w, Height: h, Pix: make([]bool, w*h)}
}

// MaskFromBytes 由 0/255 像素数组创建 Mask, 非 0 即前景
func MaskFromBytes(pix []uint8, w, h int) *Mask {
	m := NewMask(w, h)
	for i, v := range pix[:w*h] {
		m.Pix[i] = v != 0
	}
	return m
}

// MaskFromImage 将任意图片按亮度转换为 Mask
//
// 亮度按 ITU-R 601-2 的定点近似计算, 与 PIL 的 convert("L") 一致, 忽略 alpha 通道
func MaskFromImage(img image.Image) *Mask {
	b := img.Bounds()
	m := NewMask(b.Dx(), b.Dy())

	if g, ok := img.(*image.Gray); ok {
		for y := 0; y < m.Height; y++ {
			row := g.Pix[y*g.Stride : y*g.Stride+m.Width]
			for x, v := range row {
				m.Pix[y*m.Width+x] = v > maskLumaThreshold
			}
		}
		return m
	}

	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			m.Pix[y*m.Width+x] = luma(c) > maskLumaThreshold
		}
	}
	return m
}

// luma 定点亮度, 16 位系数之和为 65536
func luma(c color.NRGBA) int {
	return (int(c.R)*19595 + int(c.G)*38470 + int(c.B)*7471 + 0x8000) >> 16
}

// Any 是否存在前景像素
func (m *Mask) Any() bool {
	for _, v := range m.Pix {
		if v {
			return true
		}
	}
	return false
}

// Area 前景像素数量
func (m *Mask) Area() int {
	n := 0
	for _, v := range m.Pix {
		if v {
			n++
		}
	}
	return n
}

// Union 就地合并另一个 Mask
func (m *Mask) Union(o *Mask) error {
	if m.Width != o.Width || m.Height != o.Height {
		return fmt.Errorf("%w: %dx%d vs %dx%d", ErrMaskSize, m.Width, m.Height, o.Width, o.Height)
	}
	for i, v := range o.Pix {
		m.Pix[i] = m.Pix[i] || v
	}
	return nil
}

// Gray 前景为 255, 背景为 0 的灰度图
func (m *Mask) Gray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, v := range m.Pix {
		if v {
			img.Pix[i] = 255
		}
	}
	return img
}

// Centroid Mask 前景的重心, 空 Mask 返回 false
func (m *Mask) Centroid() (image.Point, bool) {
	var sx, sy, n int
	for i, v := range m.Pix {
		if !v {
			continue
		}
		sx += i % m.Width
		sy += i / m.Width
		n++
	}
	if n == 0 {
		return image.Point{}, false
	}
	return image.Pt(sx/n, sy/n), true
}

// ColoredMask Mask 内为指定颜色, Mask 外完全透明
func ColoredMask(m *Mask, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	fillMask(img, m, c)
	return img
}

// Composite 将多个 Mask 叠加到一张透明图上, 后面的 Mask 覆盖前面的
func Composite(w, h int, masks []*Mask, colors []color.NRGBA) (*image.NRGBA, error) {
	if len(masks) != len(colors) {
		return nil, fmt.Errorf("masks(%d) and colors(%d) length mismatch", len(masks), len(colors))
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i, m := range masks {
		if m.Width != w || m.Height != h {
			return nil, fmt.Errorf("%w: mask %d is %dx%d, want %dx%d", ErrMaskSize, i, m.Width, m.Height, w, h)
		}
		fillMask(img, m, colors[i])
	}
	return img, nil
}

func fillMask(img *image.NRGBA, m *Mask, c color.NRGBA) {
	for y := 0; y < m.Height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < m.Width; x++ {
			if !m.Pix[y*m.Width+x] {
				continue
			}
			p := row[x*4 : x*4+4 : x*4+4]
			p[0], p[1], p[2], p[3] = c.R, c.G, c.B, c.A
		}
	}
}

// Apply 将颜色按其 alpha 混合到图片中 Mask 覆盖的区域
//
// 四个通道都按 out = base*(1-a) + col*a 计算并截断, 其中 col 的 alpha 通道即 a*255
func Apply(img *image.NRGBA, m *Mask, c color.NRGBA) error {
	b := img.Bounds()
	if m.Width != b.Dx() || m.Height != b.Dy() {
		return fmt.Errorf("%w: mask %dx%d, image %dx%d", ErrMaskSize, m.Width, m.Height, b.Dx(), b.Dy())
	}

	alpha := float64(c.A) / 255.0
	src := [4]float64{float64(c.R), float64(c.G), float64(c.B), float64(c.A)}
	for y := 0; y < m.Height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < m.Width; x++ {
			if !m.Pix[y*m.Width+x] {
				continue
			}
			p := row[x*4 : x*4+4 : x*4+4]
			for ch := 0; ch < 4; ch++ {
				p[ch] = uint8(float64(p[ch])*(1-alpha) + src[ch]*alpha)
			}
		}
	}
	return nil
}
