// Package rectify applies pre-computed per-pixel rectification tables to raw stereo frames.
//
// A table maps every destination pixel to the flattened index of the source pixel it copies.
// Tables are produced offline by the calibration tool and loaded once per session.
package rectify

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

const (
	// Sentinel marks a destination pixel with no valid source pixel.
	Sentinel = uint32(0xFFFFFFFF)

	// MaxDimension is the largest width or height a table may declare.
	MaxDimension = 8192

	headerSize = 16
)

// Magic is the 4-byte signature at the start of every rectification table file.
var Magic = [4]byte{'R', 'M', 'A', 'P'}

var (
	// ErrBadMagic is returned when the file does not start with Magic.
	ErrBadMagic = errors.New("rectification table has bad magic")
	// ErrTruncated is returned when the header or body ends early.
	ErrTruncated = errors.New("rectification table is truncated")
	// ErrBadDimensions is returned for a zero or implausibly large width or height.
	ErrBadDimensions = errors.New("rectification table has implausible dimensions")
	// ErrOffsetRange is returned when a non-sentinel offset points outside the source image.
	ErrOffsetRange = errors.New("rectification table offset out of range")
	// ErrSizeMismatch is returned when a frame or buffer does not match the table.
	ErrSizeMismatch = errors.New("buffer size does not match rectification table")
)

// Table is an immutable per-pixel source mapping for one eye.
type Table struct {
	Width   int
	Height  int
	Offsets []uint32
}

// NewIdentity returns a table whose every destination pixel copies the same source pixel.
func NewIdentity(width, height int) (*Table, error) {
	if err := checkDimensions(width, height); err != nil {
		return nil, err
	}
	offsets := make([]uint32, width*height)
	for i := range offsets {
		offsets[i] = uint32(i)
	}
	return &Table{Width: width, Height: height, Offsets: offsets}, nil
}

// NewTable validates offsets against width and height and wraps them in a Table.
func NewTable(width, height int, offsets []uint32) (*Table, error) {
	if err := checkDimensions(width, height); err != nil {
		return nil, err
	}
	if len(offsets) != width*height {
		return nil, errors.Wrapf(ErrSizeMismatch, "got %d offsets for %dx%d", len(offsets), width, height)
	}
	if err := checkOffsets(offsets); err != nil {
		return nil, err
	}
	return &Table{Width: width, Height: height, Offsets: offsets}, nil
}

// Load reads a rectification table from a file.
func Load(path string) (*Table, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open rectification table %q", path)
	}
	defer f.Close()

	table, err := Read(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot load rectification table %q", path)
	}
	return table, nil
}

// Read parses a rectification table from r.
func Read(r io.Reader) (*Table, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errors.Wrap(ErrTruncated, "header")
		}
		return nil, err
	}
	if [4]byte(header[0:4]) != Magic {
		return nil, errors.Wrapf(ErrBadMagic, "got %q", header[0:4])
	}

	width := binary.LittleEndian.Uint32(header[4:8])
	height := binary.LittleEndian.Uint32(header[8:12])
	// header[12:16] holds reserved flags.
	if width == 0 || height == 0 || width > MaxDimension || height > MaxDimension {
		return nil, errors.Wrapf(ErrBadDimensions, "%dx%d", width, height)
	}

	n := int(width) * int(height)
	offsets, err := readOffsets(r, n)
	if err != nil {
		return nil, err
	}
	if err := checkOffsets(offsets); err != nil {
		return nil, err
	}
	return &Table{Width: int(width), Height: int(height), Offsets: offsets}, nil
}

// readChunk is the number of offsets decoded per read. The header is untrusted, so memory
// grows with the bytes actually present rather than with the dimensions it claims.
const readChunk = 1 << 16

func readOffsets(r io.Reader, n int) ([]uint32, error) {
	offsets := make([]uint32, 0, minInt(n, readChunk))
	raw := make([]byte, 4*minInt(n, readChunk))
	for len(offsets) < n {
		chunk := raw[:4*minInt(n-len(offsets), readChunk)]
		if _, err := io.ReadFull(r, chunk); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, errors.Wrapf(ErrTruncated, "body, want %d offsets", n)
			}
			return nil, err
		}
		for i := 0; i < len(chunk); i += 4 {
			offsets = append(offsets, binary.LittleEndian.Uint32(chunk[i:]))
		}
	}
	return offsets, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// WriteTo serializes the table in the rectification table file format.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var header [headerSize]byte
	copy(header[0:4], Magic[:])
	binary.LittleEndian.PutUint32(header[4:8], uint32(t.Width))
	binary.LittleEndian.PutUint32(header[8:12], uint32(t.Height))
	written, err := bw.Write(header[:])
	total := int64(written)
	if err != nil {
		return total, err
	}
	var buf [4]byte
	for _, off := range t.Offsets {
		binary.LittleEndian.PutUint32(buf[:], off)
		written, err = bw.Write(buf[:])
		total += int64(written)
		if err != nil {
			return total, err
		}
	}
	return total, bw.Flush()
}

// CheckSize returns an error if the table was not built for frames of width x height.
func (t *Table) CheckSize(width, height int) error {
	if t.Width != width || t.Height != height {
		return errors.Wrapf(ErrSizeMismatch, "table is %dx%d, frame is %dx%d", t.Width, t.Height, width, height)
	}
	return nil
}

// Valid reports how many destination pixels have a source pixel.
func (t *Table) Valid() int {
	n := 0
	for _, off := range t.Offsets {
		if off != Sentinel {
			n++
		}
	}
	return n
}

func checkDimensions(width, height int) error {
	if width <= 0 || height <= 0 || width > MaxDimension || height > MaxDimension {
		return errors.Wrapf(ErrBadDimensions, "%dx%d", width, height)
	}
	return nil
}

func checkOffsets(offsets []uint32) error {
	limit := uint32(len(offsets))
	for i, off := range offsets {
		if off != Sentinel && off >= limit {
			return errors.Wrapf(ErrOffsetRange, "offset %d at pixel %d", off, i)
		}
	}
	return nil
}
