package sam2

import (
	"image"
	"sort"
)

// normalizeAndPad 归一化和填充
func normalizeAndPad(src image.Image, targetW, targetH int) []float32 {
	bounds := src.Bounds()
	w, h := min(bounds.Dx(), targetW), min(bounds.Dy(), targetH)
	data := make([]float32, 3*targetW*targetH)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := src.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// RGBA returns 0-65535
			rf := float32(r) / 65535.0
			gf := float32(g) / 65535.0
			bf := float32(b) / 65535.0

			rf = (rf - MeanR) / StdR
			gf = (gf - MeanG) / StdG
			bf = (bf - MeanB) / StdB

			// 目标索引 (CHW)
			idx := y*targetW + x
			data[idx] = rf
			data[targetW*targetH+idx] = gf
			data[2*targetW*targetH+idx] = bf
		}
	}
	return data
}

// upscaleMaskLogits 最近邻放大到原图尺寸并二值化
//
// # Params:
//
//	logits: 低分辨率 logits, 行宽为 logitsDim
//	validW, validH: logits 中对应原图的有效区域
//	dstW, dstH: 目标尺寸
//	threshold: 大于该值视为前景
func upscaleMaskLogits(logits []float32, logitsDim, validW, validH, dstW, dstH int, threshold float32) []uint8 {
	output := make([]uint8, dstW*dstH)
	xRatio := float32(validW) / float32(dstW)
	yRatio := float32(validH) / float32(dstH)

	for y := 0; y < dstH; y++ {
		srcY := int(float32(y) * yRatio)
		if srcY >= validH {
			srcY = validH - 1
		}
		for x := 0; x < dstW; x++ {
			srcX := int(float32(x) * xRatio)
			if srcX >= validW {
				srcX = validW - 1
			}

			val := logits[srcY*logitsDim+srcX]
			if val > threshold {
				output[y*dstW+x] = 255
			}
		}
	}
	return output
}

// stabilityScore 计算 Mask 在阈值上下浮动 offset 时的 IoU
func stabilityScore(m MaskLogits, threshold, offset float32) float32 {
	var inter, union int
	for y := 0; y < m.ValidH; y++ {
		row := m.Logits[y*m.Dim : y*m.Dim+m.ValidW]
		for _, v := range row {
			if v > threshold+offset {
				inter++
			}
			if v > threshold-offset {
				union++
			}
		}
	}
	if union == 0 {
		return 0
	}
	return float32(inter) / float32(union)
}

// maskStats 统计 Mask 面积与外接矩形
func maskStats(mask []uint8, w, h int) (int, image.Rectangle) {
	area := 0
	minX, minY, maxX, maxY := w, h, -1, -1
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if mask[y*w+x] == 0 {
				continue
			}
			area++
			minX = min(minX, x)
			minY = min(minY, y)
			maxX = max(maxX, x)
			maxY = max(maxY, y)
		}
	}
	if area == 0 {
		return 0, image.Rectangle{}
	}
	return area, image.Rect(minX, minY, maxX+1, maxY+1)
}

// nms 非极大值抑制，过滤掉重叠度过高的检测框
//
// # Params:
//
//	cands: 候选 Mask, 会按 rank 降序重新排列
//	iouThresh: IOU 阈值
func nms(cands []*candidate, iouThresh float32) []*candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].rank > cands[j].rank
	})

	keep := make([]*candidate, 0, len(cands))
	suppressed := make([]bool, len(cands))

	for i := 0; i < len(cands); i++ {
		if suppressed[i] {
			continue
		}
		keep = append(keep, cands[i])

		for j := i + 1; j < len(cands); j++ {
			if suppressed[j] {
				continue
			}
			if computeIOU(cands[i].box, cands[j].box) > iouThresh {
				suppressed[j] = true
			}
		}
	}
	return keep
}

func computeIOU(r1, r2 image.Rectangle) float32 {
	intersect := r1.Intersect(r2)
	if intersect.Empty() {
		return 0.0
	}

	interArea := intersect.Dx() * intersect.Dy()
	area1 := r1.Dx() * r1.Dy()
	area2 := r2.Dx() * r2.Dy()

	return float32(interArea) / float32(area1+area2-interArea)
}
