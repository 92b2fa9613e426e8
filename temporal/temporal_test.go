package temporal

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/stereodepth/disparity"
)

func filled(n int, q int16) []int16 {
	f := make([]int16, n)
	for i := range f {
		f[i] = q
	}
	return f
}

func TestRunningMedian(t *testing.T) {
	s, err := New(4, 4, 3)
	test.That(t, err, test.ShouldBeNil)
	out := make([]int16, 16)

	frame := filled(16, disparity.InvalidDisparity)
	var got []int16
	for _, px := range []int16{10, 20, 30, 70} {
		frame[5] = px * disparity.Scale
		test.That(t, s.Push(frame, out), test.ShouldBeNil)
		got = append(got, out[5])
		test.That(t, out[0], test.ShouldEqual, disparity.InvalidDisparity)
	}
	// 10; (10+20)/2; median(10,20,30); median(20,30,70) once 10 falls out.
	test.That(t, got, test.ShouldResemble, []int16{160, 240, 320, 480})
	test.That(t, s.Len(), test.ShouldEqual, 3)
	test.That(t, s.Warm(), test.ShouldBeTrue)
}

func TestColdAndInvalidSamples(t *testing.T) {
	s, err := New(2, 1, 4)
	test.That(t, err, test.ShouldBeNil)
	out := make([]int16, 2)
	test.That(t, s.Warm(), test.ShouldBeFalse)

	test.That(t, s.Push([]int16{100, disparity.InvalidDisparity}, out), test.ShouldBeNil)
	test.That(t, out, test.ShouldResemble, []int16{100, disparity.InvalidDisparity})
	test.That(t, s.Warm(), test.ShouldBeFalse)

	test.That(t, s.Push([]int16{disparity.InvalidDisparity, -40}, out), test.ShouldBeNil)
	// Invalid samples never vote.
	test.That(t, out, test.ShouldResemble, []int16{100, disparity.InvalidDisparity})

	test.That(t, s.Push([]int16{200, 50}, out), test.ShouldBeNil)
	test.That(t, out, test.ShouldResemble, []int16{150, 50})

	s.Reset()
	test.That(t, s.Len(), test.ShouldEqual, 0)
	test.That(t, s.Push([]int16{7, 8}, out), test.ShouldBeNil)
	test.That(t, out, test.ShouldResemble, []int16{7, 8})
}

func TestSceneChangeResetsHistory(t *testing.T) {
	const n = 20 * 20
	s, err := New(20, 20, 5)
	test.That(t, err, test.ShouldBeNil)
	out := make([]int16, n)

	for i := 0; i < 3; i++ {
		test.That(t, s.Push(filled(n, 160), out), test.ShouldBeNil)
		test.That(t, s.LastSceneChange(), test.ShouldBeFalse)
	}
	test.That(t, s.Len(), test.ShouldEqual, 3)

	test.That(t, s.Push(filled(n, 400), out), test.ShouldBeNil)
	test.That(t, s.LastSceneChange(), test.ShouldBeTrue)
	test.That(t, s.Len(), test.ShouldEqual, 1)
	test.That(t, out[0], test.ShouldEqual, int16(400))

	// Small jitter is not a scene change.
	test.That(t, s.Push(filled(n, 400+SceneChangeDelta), out), test.ShouldBeNil)
	test.That(t, s.LastSceneChange(), test.ShouldBeFalse)
	test.That(t, s.Len(), test.ShouldEqual, 2)
}

func TestSceneChangeThresholds(t *testing.T) {
	const n = 400
	base := filled(n, 160)
	changed := func(k int) []int16 {
		f := filled(n, 160)
		for i := 0; i < k; i++ {
			f[i] = 160 + SceneChangeDelta + 1
		}
		return f
	}
	test.That(t, isSceneChange(base, changed(120)), test.ShouldBeFalse)
	test.That(t, isSceneChange(base, changed(121)), test.ShouldBeTrue)

	// Too few commonly valid pixels.
	sparse := filled(n, disparity.InvalidDisparity)
	moved := filled(n, disparity.InvalidDisparity)
	for i := 0; i < 99; i++ {
		sparse[i], moved[i] = 160, 1600
	}
	test.That(t, isSceneChange(sparse, moved), test.ShouldBeFalse)
	sparse[99], moved[99] = 160, 1600
	test.That(t, isSceneChange(sparse, moved), test.ShouldBeTrue)
}

func TestNewAndPushErrors(t *testing.T) {
	_, err := New(4, 4, 1)
	test.That(t, disparity.IsConfig(err), test.ShouldBeTrue)
	test.That(t, errors.Is(err, disparity.ErrInvalidParams), test.ShouldBeTrue)
	_, err = New(0, 4, 3)
	test.That(t, disparity.IsConfig(err), test.ShouldBeTrue)

	s, err := New(4, 4, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Depth(), test.ShouldEqual, 2)
	err = s.Push(make([]int16, 15), make([]int16, 16))
	test.That(t, disparity.IsFrame(err), test.ShouldBeTrue)
	test.That(t, s.Len(), test.ShouldEqual, 0)
}

func TestMedian(t *testing.T) {
	test.That(t, median(nil), test.ShouldEqual, disparity.InvalidDisparity)
	test.That(t, median([]int16{5}), test.ShouldEqual, int16(5))
	test.That(t, median([]int16{9, 1, 5}), test.ShouldEqual, int16(5))
	test.That(t, median([]int16{9, 1, 5, 3}), test.ShouldEqual, int16(4))

	// Odd sums land between two Q4.4 steps and round up, for either sign.
	test.That(t, median([]int16{1, 2}), test.ShouldEqual, int16(2))
	test.That(t, median([]int16{-3, -2}), test.ShouldEqual, int16(-2))
	test.That(t, median([]int16{-15, 0}), test.ShouldEqual, int16(-7))
	test.That(t, median([]int16{2047 * 16, 2047*16 + 15}), test.ShouldEqual, int16(2047*16+8))
}
