package sam2

import (
	"context"
	"errors"
	"image"
	"image/draw"
	"math/rand"
	"testing"
)

// fakePredictor 对落在矩形内的采样点返回该矩形作为 Mask
type fakePredictor struct {
	w, h      int
	rects     []image.Rectangle
	calls     int
	destroyed bool
}

func (p *fakePredictor) Size() (int, int) { return p.w, p.h }

func (p *fakePredictor) Destroy() { p.destroyed = true }

func (p *fakePredictor) DecodeLogits(points []Point) ([]MaskLogits, error) {
	p.calls++
	dim := max(p.w, p.h)
	pt := image.Pt(int(points[0].X), int(points[0].Y))

	logits := make([]float32, dim*dim)
	for i := range logits {
		logits[i] = -10
	}
	hit := false
	for _, r := range p.rects {
		if !pt.In(r) {
			continue
		}
		hit = true
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				logits[y*dim+x] = 10
			}
		}
		break
	}

	score := float32(0.2)
	if hit {
		score = 0.95
	}
	low := make([]float32, dim*dim)
	copy(low, logits)
	return []MaskLogits{
		{Logits: logits, Dim: dim, ValidW: p.w, ValidH: p.h, Score: score},
		// 低分候选总是被过滤
		{Logits: low, Dim: dim, ValidW: p.w, ValidH: p.h, Score: 0.1},
	}, nil
}

type fakeEncoder struct {
	rects    []image.Rectangle
	encoded  []*fakePredictor
	encodeFn func(img image.Image) error
}

func (e *fakeEncoder) Encode(img image.Image) (Predictor, error) {
	if e.encodeFn != nil {
		if err := e.encodeFn(img); err != nil {
			return nil, err
		}
	}
	b := img.Bounds()
	p := &fakePredictor{w: b.Dx(), h: b.Dy(), rects: e.rects}
	e.encoded = append(e.encoded, p)
	return p, nil
}

func testGeneratorConfig() GeneratorConfig {
	cfg := DefaultGeneratorConfig()
	cfg.PointsPerSide = 8
	cfg.CropNLayers = 0
	return cfg
}

func TestGenerator_Generate(t *testing.T) {
	enc := &fakeEncoder{rects: []image.Rectangle{
		image.Rect(4, 4, 20, 20),
		image.Rect(30, 10, 60, 40),
	}}
	g, err := NewGenerator(enc, testGeneratorConfig())
	if err != nil {
		t.Fatal(err)
	}

	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	masks, err := g.Generate(context.Background(), img)
	if err != nil {
		t.Fatalf("生成失败: %v", err)
	}
	if len(masks) != 2 {
		t.Fatalf("期望 2 个 Mask, 得到 %d", len(masks))
	}

	// 按面积降序
	if masks[0].Area != 30*30 || masks[0].Box != image.Rect(30, 10, 60, 40) {
		t.Fatalf("第一个 Mask 错误: area=%d box=%v", masks[0].Area, masks[0].Box)
	}
	if masks[1].Area != 16*16 || masks[1].Box != image.Rect(4, 4, 20, 20) {
		t.Fatalf("第二个 Mask 错误: area=%d box=%v", masks[1].Area, masks[1].Box)
	}
	if masks[0].PredictedIoU != 0.95 || masks[0].StabilityScore != 1 {
		t.Fatalf("得分错误: %+v", masks[0].PredictedIoU)
	}
	if len(masks[0].Mask) != 64*48 || masks[0].Mask[10*64+30] != 255 || masks[0].Mask[0] != 0 {
		t.Fatal("Mask 像素错误")
	}
	if gray := masks[1].Gray(); gray.GrayAt(5, 5).Y != 255 {
		t.Fatal("Gray 转换错误")
	}

	if len(enc.encoded) != 1 || !enc.encoded[0].destroyed {
		t.Fatal("裁剪特征应被释放")
	}
	if enc.encoded[0].calls != 64 {
		t.Fatalf("采样点数量错误: %d", enc.encoded[0].calls)
	}
}

func TestGenerator_CropLayers(t *testing.T) {
	enc := &fakeEncoder{rects: []image.Rectangle{image.Rect(40, 40, 60, 60)}}
	cfg := testGeneratorConfig()
	cfg.CropNLayers = 1
	g, err := NewGenerator(enc, cfg)
	if err != nil {
		t.Fatal(err)
	}

	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	masks, err := g.Generate(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}
	// 整图 + 4 个裁剪
	if len(enc.encoded) != 5 {
		t.Fatalf("编码次数 = %d", len(enc.encoded))
	}
	for _, m := range masks {
		if m.Width != 100 || m.Height != 100 || len(m.Mask) != 100*100 {
			t.Fatalf("Mask 尺寸错误: %dx%d", m.Width, m.Height)
		}
	}
}

func TestGenerator_ContextCanceled(t *testing.T) {
	g, err := NewGenerator(&fakeEncoder{}, testGeneratorConfig())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = g.Generate(ctx, image.NewRGBA(image.Rect(0, 0, 8, 8)))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled, 得到 %v", err)
	}
}

func TestGenerator_EncodeError(t *testing.T) {
	boom := errors.New("boom")
	g, err := NewGenerator(&fakeEncoder{encodeFn: func(image.Image) error { return boom }}, testGeneratorConfig())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Generate(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8))); !errors.Is(err, boom) {
		t.Fatalf("期望 boom, 得到 %v", err)
	}
	if _, err := g.Generate(context.Background(), image.NewRGBA(image.Rect(0, 0, 0, 0))); !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("期望 ErrEmptyImage, 得到 %v", err)
	}
}

func TestNewGenerator_InvalidConfig(t *testing.T) {
	cfg := DefaultGeneratorConfig()
	cfg.PointsPerSide = 0
	if _, err := NewGenerator(&fakeEncoder{}, cfg); err == nil {
		t.Fatal("PointsPerSide 为 0 应返回错误")
	}
	if _, err := NewGenerator(nil, DefaultGeneratorConfig()); err == nil {
		t.Fatal("encoder 为空应返回错误")
	}
}

func TestGenerateCropBoxes(t *testing.T) {
	boxes, layers := generateCropBoxes(100, 100, 1, 512.0/1500.0)
	want := []image.Rectangle{
		image.Rect(0, 0, 100, 100),
		image.Rect(0, 0, 67, 67),
		image.Rect(0, 33, 67, 100),
		image.Rect(33, 0, 100, 67),
		image.Rect(33, 33, 100, 100),
	}
	if len(boxes) != len(want) {
		t.Fatalf("len = %d", len(boxes))
	}
	for i := range want {
		if boxes[i] != want[i] {
			t.Errorf("box %d = %v, want %v", i, boxes[i], want[i])
		}
	}
	if layers[0] != 0 || layers[4] != 1 {
		t.Fatalf("layers = %v", layers)
	}

	boxes, _ = generateCropBoxes(30, 20, 0, 0.5)
	if len(boxes) != 1 || boxes[0] != image.Rect(0, 0, 30, 20) {
		t.Fatalf("单层裁剪错误: %v", boxes)
	}
}

func TestBuildPointGrid(t *testing.T) {
	pts := buildPointGrid(2)
	want := [][2]float32{{0.25, 0.25}, {0.75, 0.25}, {0.25, 0.75}, {0.75, 0.75}}
	for i := range want {
		if pts[i] != want[i] {
			t.Fatalf("point %d = %v, want %v", i, pts[i], want[i])
		}
	}
	if one := buildPointGrid(1); len(one) != 1 || one[0] != [2]float32{0.5, 0.5} {
		t.Fatalf("单点网格错误: %v", one)
	}
}

func TestIsBoxNearCropEdge(t *testing.T) {
	orig := image.Rect(0, 0, 100, 100)
	crop := image.Rect(0, 0, 67, 67)

	// 贴近右侧内部裁剪边缘
	if !isBoxNearCropEdge(image.Rect(10, 10, 60, 30), crop, orig, 20) {
		t.Fatal("应判定为贴近裁剪边缘")
	}
	// 仅贴近原图边缘
	if isBoxNearCropEdge(image.Rect(0, 0, 30, 30), crop, orig, 20) {
		t.Fatal("原图边缘不应被过滤")
	}
	// 整图裁剪永远不过滤
	if isBoxNearCropEdge(image.Rect(0, 0, 100, 100), orig, orig, 20) {
		t.Fatal("整图裁剪不应过滤")
	}
}

func TestUncropMask(t *testing.T) {
	local := []uint8{255, 0, 0, 255}
	full := uncropMask(local, image.Rect(1, 1, 3, 3), 4, 4)
	if full[1*4+1] != 255 || full[2*4+2] != 255 || full[1*4+2] != 0 || full[0] != 0 {
		t.Fatalf("uncrop 错误: %v", full)
	}
}

// contentPredictor 采样点落在白色像素上时, 返回裁剪图中全部白色像素作为 Mask
type contentPredictor struct {
	w, h  int
	white []bool
}

func (p *contentPredictor) Size() (int, int) { return p.w, p.h }

func (p *contentPredictor) Destroy() {}

func (p *contentPredictor) DecodeLogits(points []Point) ([]MaskLogits, error) {
	dim := max(p.w, p.h)
	logits := make([]float32, dim*dim)
	for i := range logits {
		logits[i] = -10
	}
	x, y := int(points[0].X), int(points[0].Y)
	if x >= p.w || y >= p.h || !p.white[y*p.w+x] {
		return []MaskLogits{{Logits: logits, Dim: dim, ValidW: p.w, ValidH: p.h, Score: 0.1}}, nil
	}
	for i, v := range p.white {
		if v {
			logits[(i/p.w)*dim+i%p.w] = 10
		}
	}
	return []MaskLogits{{Logits: logits, Dim: dim, ValidW: p.w, ValidH: p.h, Score: 0.95}}, nil
}

type contentEncoder struct {
	crops []image.Rectangle
}

func (e *contentEncoder) Encode(img image.Image) (Predictor, error) {
	b := img.Bounds()
	e.crops = append(e.crops, b)
	p := &contentPredictor{w: b.Dx(), h: b.Dy(), white: make([]bool, b.Dx()*b.Dy())}
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			r, _, _, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			p.white[y*p.w+x] = r > 0x8000
		}
	}
	return p, nil
}

func paintRects(w, h int, rects ...image.Rectangle) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for _, r := range rects {
		draw.Draw(img, r, image.White, image.Point{}, draw.Src)
	}
	return img
}

func TestGenerator_CrossCropPrefersSmallerCrop(t *testing.T) {
	cfg := testGeneratorConfig()
	cfg.CropNLayers = 1
	g, err := NewGenerator(&contentEncoder{}, cfg)
	if err != nil {
		t.Fatal(err)
	}

	object := image.Rect(25, 25, 38, 38)
	masks, err := g.Generate(context.Background(), paintRects(100, 100, object))
	if err != nil {
		t.Fatal(err)
	}
	if len(masks) != 1 {
		t.Fatalf("跨裁剪去重后应只剩 1 个 Mask, 得到 %d", len(masks))
	}
	if masks[0].CropBox != image.Rect(0, 0, 67, 67) {
		t.Fatalf("应保留较小裁剪区域的 Mask, 得到 %v", masks[0].CropBox)
	}
	if masks[0].Box != object || masks[0].Area != 13*13 {
		t.Fatalf("Mask 错误: box=%v area=%d", masks[0].Box, masks[0].Area)
	}
	if masks[0].Mask[30*100+30] != 255 || masks[0].Mask[50*100+50] != 0 {
		t.Fatal("Mask 未正确放回原图坐标")
	}
}

func TestGenerator_RemovesSmallIslands(t *testing.T) {
	g, err := NewGenerator(&contentEncoder{}, testGeneratorConfig())
	if err != nil {
		t.Fatal(err)
	}

	region := image.Rect(10, 10, 50, 50)
	island := image.Rect(60, 60, 63, 63)
	masks, err := g.Generate(context.Background(), paintRects(100, 100, region, island))
	if err != nil {
		t.Fatal(err)
	}
	if len(masks) != 1 {
		t.Fatalf("期望 1 个 Mask, 得到 %d", len(masks))
	}
	m := masks[0]
	if m.Mask[61*100+61] != 0 {
		t.Fatal("小于 MinMaskRegionArea 的孤岛应被移除")
	}
	if m.Area != 40*40 || m.Box != region {
		t.Fatalf("清理后面积或外接矩形错误: area=%d box=%v", m.Area, m.Box)
	}
}

func TestProcessCrop_CandidatesStayLowRes(t *testing.T) {
	enc := &fakeEncoder{rects: []image.Rectangle{image.Rect(100, 50, 300, 250)}}
	g, err := NewGenerator(enc, testGeneratorConfig())
	if err != nil {
		t.Fatal(err)
	}

	img := image.NewRGBA(image.Rect(0, 0, 400, 300))
	cands, err := g.processCrop(context.Background(), img, img.Bounds(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) == 0 {
		t.Fatal("应产生候选")
	}
	for _, c := range cands {
		if c.mask != nil {
			t.Fatal("去重前不应展开原图尺寸的 Mask")
		}
		if c.low == nil || len(c.low.bits) != (400*300+63)/64 {
			t.Fatal("候选应以低分辨率位图保存")
		}
	}
}

func TestBitMask_MatchesUpscaleLogits(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	cases := []struct{ dim, validW, validH, dstW, dstH int }{
		{8, 5, 3, 17, 11},
		{8, 8, 8, 8, 8},
		{16, 16, 9, 7, 4},
		{4, 3, 4, 1000, 1333},
	}
	for _, tc := range cases {
		logits := make([]float32, tc.dim*tc.dim)
		for i := range logits {
			logits[i] = rng.Float32()*2 - 1
		}
		m := MaskLogits{Logits: logits, Dim: tc.dim, ValidW: tc.validW, ValidH: tc.validH}

		want := upscaleMaskLogits(logits, tc.dim, tc.validW, tc.validH, tc.dstW, tc.dstH, 0)
		low := binarizeLogits(m, 0)
		got := low.upscale(tc.dstW, tc.dstH)
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%+v: index %d got %d want %d", tc, i, got[i], want[i])
			}
		}

		wantArea, wantBox := maskStats(want, tc.dstW, tc.dstH)
		gotArea, gotBox := low.upscaledStats(tc.dstW, tc.dstH)
		if gotArea != wantArea || gotBox != wantBox {
			t.Fatalf("%+v: stats got (%d, %v) want (%d, %v)", tc, gotArea, gotBox, wantArea, wantBox)
		}
	}
}
