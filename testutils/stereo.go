// Package testutils holds helpers shared by the stereo pipeline tests.
package testutils

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"go.viam.com/stereodepth/rectify"
)

// ShiftedPair returns a seeded random texture and a right view in which every scene point lies
// shift pixels further left, so the true disparity is shift everywhere it is visible.
func ShiftedPair(width, height, shift int, seed int64) ([]byte, []byte) {
	rng := rand.New(rand.NewSource(seed))
	left := make([]byte, width*height)
	right := make([]byte, width*height)
	for i := range left {
		left[i] = byte(rng.Intn(256))
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x+shift < width {
				right[y*width+x] = left[y*width+x+shift]
			} else {
				right[y*width+x] = byte(rng.Intn(256))
			}
		}
	}
	return left, right
}

// IdentityTable returns a rectification table that copies every pixel in place.
func IdentityTable(tb testing.TB, width, height int) *rectify.Table {
	tb.Helper()
	table, err := rectify.NewIdentity(width, height)
	test.That(tb, err, test.ShouldBeNil)
	return table
}

// WriteTable stores table as dir/name and returns the path.
func WriteTable(tb testing.TB, dir, name string, table *rectify.Table) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	test.That(tb, err, test.ShouldBeNil)
	_, err = table.WriteTo(f)
	test.That(tb, err, test.ShouldBeNil)
	test.That(tb, f.Close(), test.ShouldBeNil)
	return path
}
