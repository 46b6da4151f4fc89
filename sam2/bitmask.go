package sam2

import "image"

// bitMask 按位存储的低分辨率二值 Mask
type bitMask struct {
	w, h int
	bits []uint64
}

func newBitMask(w, h int) *bitMask {
	return &bitMask{w: w, h: h, bits: make([]uint64, (w*h+63)/64)}
}

func (b *bitMask) set(x, y int) {
	i := y*b.w + x
	b.bits[i>>6] |= 1 << (uint(i) & 63)
}

func (b *bitMask) get(x, y int) bool {
	i := y*b.w + x
	return b.bits[i>>6]&(1<<(uint(i)&63)) != 0
}

// binarizeLogits 将有效区域内大于 threshold 的 logits 记为前景
func binarizeLogits(m MaskLogits, threshold float32) *bitMask {
	b := newBitMask(m.ValidW, m.ValidH)
	for y := 0; y < m.ValidH; y++ {
		row := m.Logits[y*m.Dim : y*m.Dim+m.ValidW]
		for x, v := range row {
			if v > threshold {
				b.set(x, y)
			}
		}
	}
	return b
}

// nearestSource 最近邻放大时目标坐标对应的源坐标, 与 upscaleMaskLogits 的采样一致
func nearestSource(srcN, dstN int) []int {
	ratio := float32(srcN) / float32(dstN)
	out := make([]int, dstN)
	for d := range out {
		s := int(float32(d) * ratio)
		if s >= srcN {
			s = srcN - 1
		}
		out[d] = s
	}
	return out
}

// upscaledStats 不展开像素, 计算放大到 dstW*dstH 后的面积与外接矩形
func (b *bitMask) upscaledStats(dstW, dstH int) (int, image.Rectangle) {
	// 源坐标在目标上覆盖的起点与数量, 映射单调不减
	span := func(src []int, srcN int) (first, count []int) {
		first = make([]int, srcN)
		count = make([]int, srcN)
		for d, s := range src {
			if count[s] == 0 {
				first[s] = d
			}
			count[s]++
		}
		return first, count
	}
	xFirst, xCount := span(nearestSource(b.w, dstW), b.w)
	yFirst, yCount := span(nearestSource(b.h, dstH), b.h)

	area := 0
	minX, minY, maxX, maxY := dstW, dstH, -1, -1
	for y := 0; y < b.h; y++ {
		if yCount[y] == 0 {
			continue
		}
		for x := 0; x < b.w; x++ {
			if xCount[x] == 0 || !b.get(x, y) {
				continue
			}
			area += xCount[x] * yCount[y]
			minX = min(minX, xFirst[x])
			maxX = max(maxX, xFirst[x]+xCount[x]-1)
			minY = min(minY, yFirst[y])
			maxY = max(maxY, yFirst[y]+yCount[y]-1)
		}
	}
	if area == 0 {
		return 0, image.Rectangle{}
	}
	return area, image.Rect(minX, minY, maxX+1, maxY+1)
}

// upscale 最近邻放大为 0/255 像素数组
func (b *bitMask) upscale(dstW, dstH int) []uint8 {
	xs := nearestSource(b.w, dstW)
	ys := nearestSource(b.h, dstH)
	out := make([]uint8, dstW*dstH)
	for y, sy := range ys {
		row := out[y*dstW : (y+1)*dstW]
		for x, sx := range xs {
			if b.get(sx, sy) {
				row[x] = 255
			}
		}
	}
	return out
}
