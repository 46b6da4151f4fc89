package vision

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// TextDrawer 文本绘制工具, 可并发使用
type TextDrawer struct {
	mu       sync.Mutex
	font     *opentype.Font
	face     font.Face
	fontSize float64
}

// NewTextDrawer 从字体文件创建文本绘制工具
//
// # Params:
//
//	fontPath: 字体路径
func NewTextDrawer(fontPath string) (*TextDrawer, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("打开字体文件失败：%w", err)
	}
	return NewTextDrawerFromBytes(fontBytes)
}

// NewTextDrawerFromBytes 从字体数据创建文本绘制工具
func NewTextDrawerFromBytes(fontBytes []byte) (*TextDrawer, error) {
	ttFont, err := opentype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("解析字体文件失败：%w", err)
	}

	d := &TextDrawer{font: ttFont}
	if err := d.SetSize(12); err != nil {
		return nil, err
	}
	return d, nil
}

// SetSize 动态调整字体大小
//
// # Params:
//
//	fontSize: 字体大小
func (d *TextDrawer) SetSize(fontSize float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setSize(fontSize)
}

func (d *TextDrawer) setSize(fontSize float64) error {
	if d.face != nil && d.fontSize == fontSize {
		return nil
	}

	nf, err := opentype.NewFace(d.font, &opentype.FaceOptions{
		Size:    fontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return err
	}

	// 释放旧 Face 内存
	if d.face != nil {
		d.face.Close()
	}
	d.face = nf
	d.fontSize = fontSize
	return nil
}

// DrawText 绘制文本, (x, y) 为基线起点
//
// # Params:
//
//	img: 被绘制的图像
//	text: 绘制的文本
//	x, y: 绘制的坐标
//	c: 绘制的颜色
func (d *TextDrawer) DrawText(img draw.Image, text string, x, y int, c color.Color) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drawText(img, text, x, y, c)
}

func (d *TextDrawer) drawText(img draw.Image, text string, x, y int, c color.Color) {
	d1 := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c), // 文字颜色源
		Face: d.face,
		Dot:  fixed.P(x, y), // 开始绘制的点
	}
	d1.DrawString(text)
}

// DrawLabel 以 center 为中心绘制带背景框的标签
//
// # Params:
//
//	img: 被绘制的图像
//	text: 标签文本
//	center: 标签中心
//	fg, bg: 文字颜色与背景颜色
func (d *TextDrawer) DrawLabel(img draw.Image, text string, center image.Point, fg, bg color.Color) {
	d.mu.Lock()
	defer d.mu.Unlock()

	bounds, advance := font.BoundString(d.face, text)
	w := advance.Ceil()
	h := (bounds.Max.Y - bounds.Min.Y).Ceil()
	pad := 2

	x := center.X - w/2
	y := center.Y + h/2
	box := image.Rect(x-pad, y+bounds.Min.Y.Floor()-pad, x+w+pad, y+bounds.Max.Y.Ceil()+pad)
	draw.Draw(img, box.Intersect(img.Bounds()), image.NewUniform(bg), image.Point{}, draw.Over)
	d.drawText(img, text, x, y, fg)
}

// Close 释放资源
func (d *TextDrawer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.face != nil {
		d.face.Close()
		d.face = nil
	}
}
