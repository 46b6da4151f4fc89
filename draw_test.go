package vision

import (
	"image"
	"image/color"
	"testing"

	"golang.org/x/image/font/gofont/goregular"
)

func TestTextDrawer_DrawLabel(t *testing.T) {
	d, err := NewTextDrawerFromBytes(goregular.TTF)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if err := d.SetSize(16); err != nil {
		t.Fatal(err)
	}

	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	d.DrawLabel(img, "12", image.Pt(32, 32), color.White, color.Black)

	// 背景框覆盖中心点
	if got := img.RGBAAt(32, 32); got.A == 0 {
		t.Fatalf("中心点未被绘制: %v", got)
	}
	// 角落保持透明
	if got := img.RGBAAt(0, 0); got.A != 0 {
		t.Fatalf("角落不应被绘制: %v", got)
	}
}

func TestTextDrawer_DrawTextClipped(t *testing.T) {
	d, err := NewTextDrawerFromBytes(goregular.TTF)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	// 超出边界的绘制不应 panic
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	d.DrawText(img, "Hello World", -20, 100, color.Black)
	d.DrawLabel(img, "99", image.Pt(0, 0), color.White, color.Black)
}

func TestNewTextDrawer_MissingFile(t *testing.T) {
	if _, err := NewTextDrawer("./fonts/missing.ttf"); err == nil {
		t.Fatal("缺失字体文件应返回错误")
	}
}
