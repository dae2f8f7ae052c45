package window_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/reader/internal/apperrors"
	"github.com/jonesrussell/north-cloud/reader/internal/window"
)

func newRenderer(t *testing.T) *window.Renderer[int] {
	t.Helper()
	r, err := window.New[int](window.Config{ItemExtent: 300, ContainerExtent: 600, OverscanCount: 3})
	require.NoError(t, err)
	return r
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestNew_RejectsBadGeometry(t *testing.T) {
	t.Parallel()

	_, err := window.New[string](window.Config{ItemExtent: 0, ContainerExtent: 600})
	require.Error(t, err)
	assert.True(t, apperrors.IsConfigurationError(err))
}

func TestRenderer_ScrollCoalescesUntilFlush(t *testing.T) {
	t.Parallel()

	r := newRenderer(t)
	r.SetItems(seq(50))
	base := r.Recomputes()

	for _, off := range []float64{100, 400, 900, 1200, 1500} {
		r.Scroll(off)
	}
	assert.Equal(t, base, r.Recomputes(), "scroll must not recompute")

	w := r.Flush()
	assert.Equal(t, base+1, r.Recomputes())
	assert.Equal(t, window.Range{Start: 2, End: 10}, w.Range)
	assert.Equal(t, []int{2, 3, 4, 5, 6, 7, 8, 9, 10}, r.Visible())

	r.Flush()
	assert.Equal(t, base+1, r.Recomputes(), "flush without new offset is free")
}

func TestRenderer_SetItemsIdentity(t *testing.T) {
	t.Parallel()

	r := newRenderer(t)
	items := seq(20)
	r.SetItems(items)
	n := r.Recomputes()

	r.SetItems(items)
	assert.Equal(t, n, r.Recomputes(), "same slice is not a change")

	r.SetItems(seq(20))
	assert.Equal(t, n+1, r.Recomputes(), "new backing array is a change")

	r.SetItems(nil)
	assert.True(t, r.Window().Range.Empty())
	assert.Nil(t, r.Visible())
	assert.Zero(t, r.Window().TotalExtent)
}

func TestRenderer_ScrollDoesNotMutateItems(t *testing.T) {
	t.Parallel()

	r := newRenderer(t)
	items := seq(50)
	r.SetItems(items)
	r.Scroll(3000)
	r.Flush()

	assert.Equal(t, seq(50), items)
	assert.Equal(t, 50, r.Len())
}

func TestRenderer_Subscribe(t *testing.T) {
	t.Parallel()

	r := newRenderer(t)
	r.SetItems(seq(50))

	var got []window.Window
	unsubscribe := r.Subscribe(func(w window.Window) { got = append(got, w) })

	r.Scroll(1500)
	r.Flush()
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Range.Start)

	// Same settled range: no notification.
	r.Scroll(1510)
	r.Flush()
	assert.Len(t, got, 1)

	unsubscribe()
	unsubscribe()
	r.Scroll(6000)
	r.Flush()
	assert.Len(t, got, 1)
}

func TestRenderer_Viewport(t *testing.T) {
	t.Parallel()

	r := newRenderer(t)
	r.Scroll(450)
	vp := r.Viewport()
	assert.InDelta(t, 450.0, vp.ScrollOffset, 0)
	assert.Equal(t, 3, vp.OverscanCount)
}
