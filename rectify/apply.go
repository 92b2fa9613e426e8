package rectify

import (
	"github.com/pkg/errors"
)

// ApplyGray remaps a grayscale frame (1 byte per pixel) into dst. Both buffers must hold exactly
// Width*Height bytes. Destination pixels whose offset is Sentinel are written as 0.
func (t *Table) ApplyGray(dst, src []byte) error {
	n := t.Width * t.Height
	if len(src) != n {
		return errors.Wrapf(ErrSizeMismatch, "gray source has %d bytes, want %d", len(src), n)
	}
	if len(dst) != n {
		return errors.Wrapf(ErrSizeMismatch, "gray destination has %d bytes, want %d", len(dst), n)
	}
	gatherGray(dst, src, t.Offsets)
	return nil
}

// ApplyColor remaps a packed 3-byte-per-pixel frame into dst. Both buffers must hold exactly
// Width*Height*3 bytes. Destination pixels whose offset is Sentinel are written as (0,0,0).
func (t *Table) ApplyColor(dst, src []byte) error {
	n := t.Width * t.Height * 3
	if len(src) != n {
		return errors.Wrapf(ErrSizeMismatch, "color source has %d bytes, want %d", len(src), n)
	}
	if len(dst) != n {
		return errors.Wrapf(ErrSizeMismatch, "color destination has %d bytes, want %d", len(dst), n)
	}
	gatherColor(dst, src, t.Offsets)
	return nil
}
