package sam2

// regionMode 清理模式
type regionMode int

const (
	modeIslands regionMode = iota // 移除前景孤岛
	modeHoles                     // 填充背景空洞
)

var neighbours8 = [8][2]int{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// connectedRegions 返回值等于 target 的所有 8 邻域连通区域
func connectedRegions(mask []uint8, w, h int, target uint8) [][]int {
	visited := make([]bool, len(mask))
	var regions [][]int
	stack := make([]int, 0, 64)

	for start := range mask {
		if visited[start] || mask[start] != target {
			continue
		}

		var region []int
		stack = append(stack[:0], start)
		visited[start] = true
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			region = append(region, idx)

			x, y := idx%w, idx/w
			for _, d := range neighbours8 {
				nx, ny := x+d[0], y+d[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				n := ny*w + nx
				if !visited[n] && mask[n] == target {
					visited[n] = true
					stack = append(stack, n)
				}
			}
		}
		regions = append(regions, region)
	}
	return regions
}

// removeSmallRegions 就地清理面积小于 areaThresh 的连通区域
//
// 孤岛模式下若所有区域都过小, 保留最大的一个. 返回 Mask 是否被修改
func removeSmallRegions(mask []uint8, w, h, areaThresh int, mode regionMode) bool {
	if areaThresh <= 0 || len(mask) == 0 {
		return false
	}

	target, fill := uint8(255), uint8(0)
	if mode == modeHoles {
		target, fill = 0, 255
	}

	regions := connectedRegions(mask, w, h, target)
	small := make([]int, 0, len(regions))
	largest := -1
	for i, r := range regions {
		if largest < 0 || len(r) > len(regions[largest]) {
			largest = i
		}
		if len(r) < areaThresh {
			small = append(small, i)
		}
	}
	if len(small) == 0 {
		return false
	}
	if mode == modeIslands && len(small) == len(regions) {
		small = removeIndex(small, largest)
	}

	for _, i := range small {
		for _, idx := range regions[i] {
			mask[idx] = fill
		}
	}
	return len(small) > 0
}

func removeIndex(s []int, v int) []int {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
