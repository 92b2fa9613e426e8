package sgbm

import (
	"math"

	"go.viam.com/stereodepth/disparity"
)

// path is an aggregation direction. A pixel's predecessor along the path is (x-dx, y-dy).
type path struct {
	dx, dy int
}

var (
	pathsSGBM = []path{{1, 0}, {-1, 0}, {1, 1}, {0, 1}, {-1, 1}}
	pathsHH   = []path{{1, 0}, {-1, 0}, {1, 1}, {0, 1}, {-1, 1}, {1, -1}, {0, -1}, {-1, -1}}
	paths3Way = []path{{1, 0}, {-1, 0}, {0, 1}}
	pathsHH4  = []path{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
)

func pathsFor(mode disparity.Mode) []path {
	switch mode {
	case disparity.ModeHH:
		return pathsHH
	case disparity.ModeSGBM3Way:
		return paths3Way
	case disparity.ModeHH4:
		return pathsHH4
	default:
		return pathsSGBM
	}
}

// matcher holds the semi-global matching state for one frame size. Volumes are indexed
// (y*width+x)*numDisparities+d and are only reallocated when the disparity count grows.
type matcher struct {
	width, height int
	params        disparity.SGBMParams
	p1, p2        int32

	// prefiltered images
	preL, preR []byte

	// cost is the block-aggregated matching cost, sum the path-aggregated cost.
	cost []uint16
	sum  []uint32
	// hrows is a ring of BlockSize rows of horizontally summed costs feeding the vertical pass.
	// Image row y lives in slot y % BlockSize.
	hrows []uint16

	// row scratch
	pixRow   []uint16
	run      []uint32
	colSum   []uint32
	lrPrev   []int32
	lrCur    []int32
	minPrev  []int32
	minCur   []int32
	disp2    []int32
	disp2Min []uint32

	speckle speckleBuffers
}

func newMatcher(width, height int, params disparity.SGBMParams) *matcher {
	m := &matcher{
		width:    width,
		height:   height,
		preL:     make([]byte, width*height),
		preR:     make([]byte, width*height),
		minPrev:  make([]int32, width),
		minCur:   make([]int32, width),
		disp2:    make([]int32, width),
		disp2Min: make([]uint32, width),
		speckle:  newSpeckleBuffers(width * height),
	}
	m.setParams(params)
	return m
}

// setParams changes settings in place, growing the volumes only when needed.
func (m *matcher) setParams(params disparity.SGBMParams) {
	m.params = params
	p1, p2 := params.Penalties()
	m.p1, m.p2 = int32(p1), int32(p2)

	n := params.NumDisparities
	volume := m.width * m.height * n
	if cap(m.cost) < volume {
		m.cost = make([]uint16, volume)
		m.sum = make([]uint32, volume)
		m.pixRow = make([]uint16, m.width*n)
		m.run = make([]uint32, n)
		m.colSum = make([]uint32, m.width*n)
		m.lrPrev = make([]int32, m.width*n)
		m.lrCur = make([]int32, m.width*n)
	}
	m.cost = m.cost[:volume]
	m.sum = m.sum[:volume]
	m.pixRow = m.pixRow[:m.width*n]
	m.run = m.run[:n]
	m.colSum = m.colSum[:m.width*n]
	m.lrPrev = m.lrPrev[:m.width*n]
	m.lrCur = m.lrCur[:m.width*n]

	ring := params.BlockSize * m.width * n
	if cap(m.hrows) < ring {
		m.hrows = make([]uint16, ring)
	}
	m.hrows = m.hrows[:ring]
}

// match writes the Q4.4 disparity of left against right into out.
func (m *matcher) match(left, right []byte, out []int16) {
	prefilter(m.preL, left, m.width, m.height, m.params.PreFilterCap)
	prefilter(m.preR, right, m.width, m.height, m.params.PreFilterCap)
	m.computeCost(left, right)
	for i := range m.sum {
		m.sum[i] = 0
	}
	for _, p := range pathsFor(m.params.Mode) {
		m.aggregate(p)
	}
	m.selectDisparities(out)
	if m.params.SpeckleWindowSize > 0 {
		filterSpeckles(out, m.width, m.height, m.params.SpeckleWindowSize,
			m.params.SpeckleRange*disparity.Scale, &m.speckle)
	}
}

// prefilter is a horizontal Sobel response clipped to [-cap, cap] and shifted to [0, 2*cap].
// Borders replicate.
func prefilter(dst, src []byte, width, height, clip int) {
	for y := 0; y < height; y++ {
		up := clampInt(y-1, 0, height-1) * width
		mid := y * width
		down := clampInt(y+1, 0, height-1) * width
		for x := 0; x < width; x++ {
			xl := clampInt(x-1, 0, width-1)
			xr := clampInt(x+1, 0, width-1)
			v := int(src[up+xr]) - int(src[up+xl]) +
				2*(int(src[mid+xr])-int(src[mid+xl])) +
				int(src[down+xr]) - int(src[down+xl])
			dst[mid+x] = byte(clampInt(v, -clip, clip) + clip)
		}
	}
}

// birchfieldTomasi is the sampling-insensitive dissimilarity of two pixels given their own
// value and the values halfway to their horizontal neighbours.
func birchfieldTomasi(l, lMin, lMax, r, rMin, rMax int) int {
	a := maxInt(0, maxInt(l-rMax, rMin-l))
	b := maxInt(0, maxInt(r-lMax, lMin-r))
	return minInt(a, b)
}

// interval returns the min and max of v and the half-way values towards its row neighbours.
func interval(row []byte, x int) (int, int, int) {
	w := len(row)
	v := int(row[x])
	vl := (v + int(row[clampInt(x-1, 0, w-1)])) / 2
	vr := (v + int(row[clampInt(x+1, 0, w-1)])) / 2
	return v, minInt(v, minInt(vl, vr)), maxInt(v, maxInt(vl, vr))
}

// pixelCosts fills row with the per-pixel cost of every disparity for image row y. Candidates
// that fall off the left edge of the right image get the worst possible cost.
func (m *matcher) pixelCosts(row []uint16, left, right []byte, y int) {
	w, n, minD := m.width, m.params.NumDisparities, m.params.MinDisparity
	worst := uint16(2*m.params.PreFilterCap + 255>>2)
	pl, pr := m.preL[y*w:(y+1)*w], m.preR[y*w:(y+1)*w]
	il, ir := left[y*w:(y+1)*w], right[y*w:(y+1)*w]
	for x := 0; x < w; x++ {
		c := row[x*n : (x+1)*n]
		l, lMin, lMax := interval(pl, x)
		g, gMin, gMax := interval(il, x)
		for d := 0; d < n; d++ {
			xr := x - minD - d
			if xr < 0 {
				c[d] = worst
				continue
			}
			r, rMin, rMax := interval(pr, xr)
			h, hMin, hMax := interval(ir, xr)
			c[d] = uint16(birchfieldTomasi(l, lMin, lMax, r, rMin, rMax) +
				birchfieldTomasi(g, gMin, gMax, h, hMin, hMax)>>2)
		}
	}
}

// computeCost fills m.cost with pixel costs summed over a BlockSize square, replicating
// borders so that every window has the same area. Horizontal sums are kept for the rows of the
// current window only.
func (m *matcher) computeCost(left, right []byte) {
	w, h, n := m.width, m.height, m.params.NumDisparities
	r := m.params.BlockSize / 2
	if r == 0 {
		for y := 0; y < h; y++ {
			m.pixelCosts(m.cost[y*w*n:(y+1)*w*n], left, right, y)
		}
		return
	}

	row := w * n
	slots := 2*r + 1
	slot := func(y int) []uint16 {
		start := (y % slots) * row
		return m.hrows[start : start+row]
	}

	for y := 0; y <= minInt(r, h-1); y++ {
		m.boxRow(slot(y), left, right, y)
	}
	for i := range m.colSum {
		m.colSum[i] = 0
	}
	for k := -r; k <= r; k++ {
		src := slot(clampInt(k, 0, h-1))
		for i := 0; i < row; i++ {
			m.colSum[i] += uint32(src[i])
		}
	}

	for y := 0; y < h; y++ {
		dst := m.cost[y*row : (y+1)*row]
		for i := 0; i < row; i++ {
			dst[i] = saturate16(m.colSum[i])
		}
		if y+1 == h {
			break
		}
		// The outgoing row is removed before the incoming one may reuse its slot.
		out := slot(clampInt(y-r, 0, h-1))
		for i := 0; i < row; i++ {
			m.colSum[i] -= uint32(out[i])
		}
		next := y + 1 + r
		if next < h {
			m.boxRow(slot(next), left, right, next)
		}
		in := slot(clampInt(next, 0, h-1))
		for i := 0; i < row; i++ {
			m.colSum[i] += uint32(in[i])
		}
	}
}

// boxRow writes the pixel costs of image row y summed over a BlockSize wide window into dst.
func (m *matcher) boxRow(dst []uint16, left, right []byte, y int) {
	w, n := m.width, m.params.NumDisparities
	r := m.params.BlockSize / 2
	m.pixelCosts(m.pixRow, left, right, y)
	run := m.run
	for d := 0; d < n; d++ {
		var s uint32
		for k := -r; k <= r; k++ {
			s += uint32(m.pixRow[clampInt(k, 0, w-1)*n+d])
		}
		run[d] = s
	}
	for x := 0; x < w; x++ {
		for d := 0; d < n; d++ {
			dst[x*n+d] = saturate16(run[d])
		}
		if x+1 < w {
			in := clampInt(x+1+r, 0, w-1) * n
			out := clampInt(x-r, 0, w-1) * n
			for d := 0; d < n; d++ {
				run[d] += uint32(m.pixRow[in+d])
				run[d] -= uint32(m.pixRow[out+d])
			}
		}
	}
}

// aggregate adds the path cost along p into m.sum:
//
//	Lr(x, d) = C(x, d) + min(Lr(x-r, d), Lr(x-r, d±1)+P1, min_k Lr(x-r, k)+P2) - min_k Lr(x-r, k)
func (m *matcher) aggregate(p path) {
	w, h, n := m.width, m.height, m.params.NumDisparities
	p1, p2 := m.p1, m.p2

	y0, y1, ystep := 0, h, 1
	if p.dy < 0 {
		y0, y1, ystep = h-1, -1, -1
	}
	x0, x1, xstep := 0, w, 1
	if p.dx < 0 {
		x0, x1, xstep = w-1, -1, -1
	}

	for y := y0; y != y1; y += ystep {
		py := y - p.dy
		for x := x0; x != x1; x += xstep {
			px := x - p.dx
			base := (y*w + x) * n
			c := m.cost[base : base+n]
			s := m.sum[base : base+n]
			lr := m.lrCur[x*n : (x+1)*n]

			curMin := int32(math.MaxInt32)
			if px < 0 || px >= w || py < 0 || py >= h {
				for d := 0; d < n; d++ {
					v := int32(c[d])
					lr[d] = v
					s[d] += uint32(v)
					if v < curMin {
						curMin = v
					}
				}
				m.minCur[x] = curMin
				continue
			}

			var prev []int32
			var prevMin int32
			if p.dy == 0 {
				prev = m.lrCur[px*n : (px+1)*n]
				prevMin = m.minCur[px]
			} else {
				prev = m.lrPrev[px*n : (px+1)*n]
				prevMin = m.minPrev[px]
			}
			jump := prevMin + p2
			for d := 0; d < n; d++ {
				best := prev[d]
				if d > 0 && prev[d-1]+p1 < best {
					best = prev[d-1] + p1
				}
				if d+1 < n && prev[d+1]+p1 < best {
					best = prev[d+1] + p1
				}
				if jump < best {
					best = jump
				}
				v := int32(c[d]) + best - prevMin
				lr[d] = v
				s[d] += uint32(v)
				if v < curMin {
					curMin = v
				}
			}
			m.minCur[x] = curMin
		}
		m.lrPrev, m.lrCur = m.lrCur, m.lrPrev
		m.minPrev, m.minCur = m.minCur, m.minPrev
	}
}

// selectDisparities picks the winning disparity per pixel, applies the uniqueness test,
// refines to 1/16 pixel with a parabola fit and finally runs the left-right check.
func (m *matcher) selectDisparities(out []int16) {
	w, h, n := m.width, m.height, m.params.NumDisparities
	minD := m.params.MinDisparity
	uniq := uint64(m.params.UniquenessRatio)
	maxDiff := m.params.Disp12MaxDiff

	for y := 0; y < h; y++ {
		row := out[y*w : (y+1)*w]
		for x := range m.disp2 {
			m.disp2[x] = -1
			m.disp2Min[x] = math.MaxUint32
		}

		for x := 0; x < w; x++ {
			row[x] = disparity.InvalidDisparity
			// candidates whose match lies inside the right image
			count := minInt(n, x-minD+1)
			if count <= 0 {
				continue
			}
			s := m.sum[(y*w+x)*n : (y*w+x)*n+count]

			best := 0
			minS := s[0]
			for d := 1; d < count; d++ {
				if s[d] < minS {
					minS, best = s[d], d
				}
			}
			unique := true
			for d := 0; d < count; d++ {
				if uint64(s[d])*(100-uniq) < uint64(minS)*100 && absInt(d-best) > 1 {
					unique = false
					break
				}
			}
			if !unique {
				continue
			}

			xr := x - minD - best
			if m.disp2Min[xr] > minS {
				m.disp2Min[xr] = minS
				m.disp2[xr] = int32(best + minD)
			}

			d16 := best * disparity.Scale
			if best > 0 && best+1 < count {
				denom := maxInt(int(s[best-1])+int(s[best+1])-2*int(s[best]), 1)
				d16 += ((int(s[best-1])-int(s[best+1]))*disparity.Scale + denom) / (denom * 2)
			}
			row[x] = int16(minD*disparity.Scale + d16)
		}

		if maxDiff >= 0 {
			m.crossCheck(row, maxDiff)
		}
	}
}

// crossCheck invalidates pixels whose match does not map back within maxDiff pixels.
func (m *matcher) crossCheck(row []int16, maxDiff int) {
	w := m.width
	for x := 0; x < w; x++ {
		d := int(row[x])
		if !disparity.IsValid(row[x]) {
			continue
		}
		d1 := d >> 4
		d2 := (d + disparity.Scale - 1) >> 4
		x1, x2 := x-d1, x-d2
		bad1 := x1 >= 0 && x1 < w && m.disp2[x1] >= 0 && absInt(int(m.disp2[x1])-d1) > maxDiff
		bad2 := x2 >= 0 && x2 < w && m.disp2[x2] >= 0 && absInt(int(m.disp2[x2])-d2) > maxDiff
		if bad1 && bad2 {
			row[x] = disparity.InvalidDisparity
		}
	}
}

func saturate16(v uint32) uint16 {
	if v > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
