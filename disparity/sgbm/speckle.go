package sgbm

import "go.viam.com/stereodepth/disparity"

type speckleBuffers struct {
	visited []bool
	stack   []int32
	region  []int32
}

func newSpeckleBuffers(n int) speckleBuffers {
	return speckleBuffers{
		visited: make([]bool, n),
		stack:   make([]int32, 0, 256),
		region:  make([]int32, 0, 256),
	}
}

// filterSpeckles invalidates 4-connected regions of at most maxSize pixels, where neighbours
// belong to the same region if their disparities differ by at most maxDiff.
func filterSpeckles(disp []int16, width, height, maxSize, maxDiff int, buf *speckleBuffers) {
	visited := buf.visited[:width*height]
	for i := range visited {
		visited[i] = false
	}

	for start := range disp {
		if visited[start] || !disparity.IsValid(disp[start]) {
			continue
		}
		visited[start] = true
		stack := append(buf.stack[:0], int32(start))
		region := buf.region[:0]
		for len(stack) > 0 {
			p := int(stack[len(stack)-1])
			stack = stack[:len(stack)-1]
			region = append(region, int32(p))
			v := int(disp[p])
			x, y := p%width, p/width

			neighbours := [4]int{-1, -1, -1, -1}
			if x > 0 {
				neighbours[0] = p - 1
			}
			if x+1 < width {
				neighbours[1] = p + 1
			}
			if y > 0 {
				neighbours[2] = p - width
			}
			if y+1 < height {
				neighbours[3] = p + width
			}
			for _, q := range neighbours {
				if q < 0 || visited[q] || !disparity.IsValid(disp[q]) || absInt(int(disp[q])-v) > maxDiff {
					continue
				}
				visited[q] = true
				stack = append(stack, int32(q))
			}
		}
		if len(region) <= maxSize {
			for _, p := range region {
				disp[p] = disparity.InvalidDisparity
			}
		}
		buf.stack, buf.region = stack, region
	}
}
