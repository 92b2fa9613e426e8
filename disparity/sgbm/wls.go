package sgbm

import (
	"math"

	"go.viam.com/stereodepth/disparity"
)

// minFilteredConfidence is the smoothed confidence below which a fused pixel stays invalid.
const minFilteredConfidence = 1e-3

// smoother is an edge-aware fast global smoother. It approximates weighted least squares
// filtering with alternating one dimensional solves along rows and columns.
type smoother struct {
	width, height int

	sigma   float64
	weights [256]float64

	num, den []float64
	// tridiagonal scratch, sized for the longer image side
	cPrime, numPrime, denPrime []float64
}

func newSmoother(width, height int) *smoother {
	n := width * height
	line := maxInt(width, height)
	return &smoother{
		width:    width,
		height:   height,
		num:      make([]float64, n),
		den:      make([]float64, n),
		cPrime:   make([]float64, line),
		numPrime: make([]float64, line),
		denPrime: make([]float64, line),
	}
}

func (s *smoother) setSigma(sigma float64) {
	if sigma == s.sigma {
		return
	}
	s.sigma = sigma
	for i := range s.weights {
		s.weights[i] = math.Exp(-float64(i) / sigma)
	}
}

// fuse marks left disparities that agree with the right-referenced map as confident, then
// smooths disparity and confidence with the guide image and writes their ratio to out.
func (s *smoother) fuse(left, right []int16, guide []byte, out []int16, params disparity.WLSParams) {
	w, h := s.width, s.height
	s.setSigma(params.SigmaColor)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			s.num[i], s.den[i] = 0, 0
			d := int(left[i])
			if !disparity.IsValid(left[i]) {
				continue
			}
			xr := x - (d+disparity.Scale/2)>>4
			if xr < 0 || xr >= w || !disparity.IsValid(right[y*w+xr]) {
				continue
			}
			if absInt(d-int(right[y*w+xr])) > params.LRCThreshold {
				continue
			}
			s.num[i], s.den[i] = float64(d), 1
		}
	}

	iterations := params.Iterations
	norm := math.Pow(4, float64(iterations)) - 1
	for t := 0; t < iterations; t++ {
		lambda := 1.5 * params.Lambda * math.Pow(4, float64(iterations-t-1)) / norm
		for y := 0; y < h; y++ {
			s.solve(guide, y*w, 1, w, lambda)
		}
		for x := 0; x < w; x++ {
			s.solve(guide, x, w, h, lambda)
		}
	}

	for i := range out {
		if s.den[i] < minFilteredConfidence {
			out[i] = disparity.InvalidDisparity
			continue
		}
		v := math.Round(s.num[i] / s.den[i])
		out[i] = int16(math.Max(float64(disparity.InvalidDisparity), math.Min(v, math.MaxInt16)))
	}
}

// solve runs the Thomas algorithm on (I + lambda*L) x = b for the n samples starting at start
// with the given stride, for both the numerator and the denominator in place.
func (s *smoother) solve(guide []byte, start, stride, n int, lambda float64) {
	if n == 1 {
		return
	}
	weight := func(k int) float64 {
		// edge between sample k and k+1
		a := int(guide[start+k*stride])
		b := int(guide[start+(k+1)*stride])
		return lambda * s.weights[absInt(a-b)]
	}

	cp, np, dp := s.cPrime, s.numPrime, s.denPrime
	prevEdge := 0.0
	for k := 0; k < n; k++ {
		next := 0.0
		if k+1 < n {
			next = weight(k)
		}
		a, c := -prevEdge, -next
		b := 1 + prevEdge + next
		idx := start + k*stride
		if k == 0 {
			cp[0] = c / b
			np[0] = s.num[idx] / b
			dp[0] = s.den[idx] / b
		} else {
			m := b - a*cp[k-1]
			cp[k] = c / m
			np[k] = (s.num[idx] - a*np[k-1]) / m
			dp[k] = (s.den[idx] - a*dp[k-1]) / m
		}
		prevEdge = next
	}

	last := start + (n-1)*stride
	s.num[last], s.den[last] = np[n-1], dp[n-1]
	for k := n - 2; k >= 0; k-- {
		idx := start + k*stride
		s.num[idx] = np[k] - cp[k]*s.num[idx+stride]
		s.den[idx] = dp[k] - cp[k]*s.den[idx+stride]
	}
}

// flipRows mirrors every row of src into dst.
func flipRows[T any](dst, src []T, width, height int) {
	for y := 0; y < height; y++ {
		row := src[y*width : (y+1)*width]
		out := dst[y*width : (y+1)*width]
		for x := range row {
			out[width-1-x] = row[x]
		}
	}
}
