package rectify

import (
	"golang.org/x/sys/cpu"
)

// lanes is the number of pixels the unrolled gather processes per iteration.
const lanes = 8

// Gather kernels. They default to the scalar loops. On CPUs with AVX2 (x86) or ASIMD (arm64)
// they are replaced at init by 8-way unrolled variants. Those take fixed-length subslices of the
// offsets and destination, so the compiler drops the per-pixel bounds checks on both, and the
// eight independent loads per iteration can overlap on wide out-of-order cores. The source
// loads stay scalar and bounds checked: Go has no portable gather instruction, and offsets are
// already range checked at load.
var (
	gatherGray  = gatherGrayScalar
	gatherColor = gatherColorScalar
)

// WideGather reports whether the unrolled gather kernels are in use.
var WideGather bool

func init() {
	if cpu.X86.HasAVX2 || cpu.ARM64.HasASIMD {
		useWideGather(true)
	}
}

func useWideGather(enabled bool) {
	WideGather = enabled
	if enabled {
		gatherGray = gatherGrayWide
		gatherColor = gatherColorWide
		return
	}
	gatherGray = gatherGrayScalar
	gatherColor = gatherColorScalar
}

func gatherGrayScalar(dst, src []byte, offsets []uint32) {
	dst = dst[:len(offsets)]
	for i, off := range offsets {
		if off == Sentinel {
			dst[i] = 0
			continue
		}
		dst[i] = src[off]
	}
}

func gatherColorScalar(dst, src []byte, offsets []uint32) {
	dst = dst[:3*len(offsets)]
	for i, off := range offsets {
		d := dst[3*i : 3*i+3 : 3*i+3]
		if off == Sentinel {
			d[0], d[1], d[2] = 0, 0, 0
			continue
		}
		s := src[3*off : 3*off+3 : 3*off+3]
		d[0], d[1], d[2] = s[0], s[1], s[2]
	}
}

// load8 returns src[off], or 0 for the sentinel.
func load8(src []byte, off uint32) byte {
	if off == Sentinel {
		return 0
	}
	return src[off]
}

func gatherGrayWide(dst, src []byte, offsets []uint32) {
	n := len(offsets)
	bulk := n - n%lanes
	for i := 0; i < bulk; i += lanes {
		o := offsets[i : i+lanes : i+lanes]
		d := dst[i : i+lanes : i+lanes]
		d[0] = load8(src, o[0])
		d[1] = load8(src, o[1])
		d[2] = load8(src, o[2])
		d[3] = load8(src, o[3])
		d[4] = load8(src, o[4])
		d[5] = load8(src, o[5])
		d[6] = load8(src, o[6])
		d[7] = load8(src, o[7])
	}
	gatherGrayScalar(dst[bulk:n], src, offsets[bulk:])
}

func gatherColorWide(dst, src []byte, offsets []uint32) {
	n := len(offsets)
	bulk := n - n%lanes
	for i := 0; i < bulk; i += lanes {
		o := offsets[i : i+lanes : i+lanes]
		d := dst[3*i : 3*(i+lanes) : 3*(i+lanes)]
		for k := 0; k < lanes; k++ {
			off := o[k]
			if off == Sentinel {
				d[3*k], d[3*k+1], d[3*k+2] = 0, 0, 0
				continue
			}
			s := src[3*off : 3*off+3 : 3*off+3]
			d[3*k], d[3*k+1], d[3*k+2] = s[0], s[1], s[2]
		}
	}
	gatherColorScalar(dst[3*bulk:3*n], src, offsets[bulk:])
}
