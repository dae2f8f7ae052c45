// Package window computes which slice of a long, uniformly sized list has
// to be materialized for a given viewport, and where that slice sits
// inside the full scroll extent.
package window

import (
	"math"

	"github.com/jonesrussell/north-cloud/reader/internal/apperrors"
)

const component = "window"

// Config is the fixed geometry of a renderer.
type Config struct {
	ItemExtent      float64 `json:"item_extent"      yaml:"item_extent"`
	ContainerExtent float64 `json:"container_extent" yaml:"container_extent"`
	OverscanCount   int     `json:"overscan_count"   yaml:"overscan_count"`
}

// Validate rejects non-positive extents and negative overscan.
func (c Config) Validate() error {
	switch {
	case !(c.ItemExtent > 0) || math.IsInf(c.ItemExtent, 0):
		return apperrors.NewConfigurationError(component, "item_extent", "must be a finite number > 0, got %v", c.ItemExtent)
	case !(c.ContainerExtent > 0) || math.IsInf(c.ContainerExtent, 0):
		return apperrors.NewConfigurationError(component, "container_extent", "must be a finite number > 0, got %v", c.ContainerExtent)
	case c.OverscanCount < 0:
		return apperrors.NewConfigurationError(component, "overscan_count", "must be >= 0, got %d", c.OverscanCount)
	}
	return nil
}

// Viewport is the geometry plus the current scroll position.
type Viewport struct {
	ScrollOffset    float64 `json:"scroll_offset"`
	ContainerExtent float64 `json:"container_extent"`
	ItemExtent      float64 `json:"item_extent"`
	OverscanCount   int     `json:"overscan_count"`
}

// Viewport returns the viewport for cfg scrolled to offset.
func (c Config) Viewport(offset float64) Viewport {
	return Viewport{
		ScrollOffset:    offset,
		ContainerExtent: c.ContainerExtent,
		ItemExtent:      c.ItemExtent,
		OverscanCount:   c.OverscanCount,
	}
}

// Range is an inclusive index range. It is empty when Start > End.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

var emptyRange = Range{Start: 0, End: -1}

// Empty reports whether the range selects nothing.
func (r Range) Empty() bool { return r.Start > r.End }

// Len is the number of selected indexes.
func (r Range) Len() int {
	if r.Empty() {
		return 0
	}
	return r.End - r.Start + 1
}

// Window is the result of a computation: the range to materialize, the
// size of the scroll surrogate, and the translation of the rendered slice.
type Window struct {
	Range       Range   `json:"range"`
	TotalExtent float64 `json:"total_extent"`
	Offset      float64 `json:"offset"`
	ItemExtent  float64 `json:"item_extent"`
}

// Position is where item i sits once the slice is translated by Offset.
// For every i in Range it equals i*ItemExtent, the item's position in a
// fully rendered list.
func (w Window) Position(i int) float64 {
	return w.Offset + float64(i-w.Range.Start)*w.ItemExtent
}

// Compute returns the window over n items for vp. It is pure: identical
// inputs always give identical output. Callers are expected to have
// validated the geometry; a non-positive item extent yields an empty window.
func Compute(n int, vp Viewport) Window {
	if n <= 0 || !(vp.ItemExtent > 0) {
		return Window{Range: emptyRange, ItemExtent: vp.ItemExtent}
	}

	scroll := vp.ScrollOffset
	if scroll < 0 || math.IsNaN(scroll) {
		scroll = 0
	}
	overscan := min(max(vp.OverscanCount, 0), n)

	// Index arithmetic is clamped to n before converting to int so that
	// absurd offsets or extents cannot overflow.
	first := int(math.Floor(math.Min(scroll/vp.ItemExtent, float64(n))))
	start := max(0, first-overscan)
	start = min(start, n-1)

	perScreen := int(math.Ceil(math.Min(math.Max(vp.ContainerExtent, 0)/vp.ItemExtent, float64(n))))
	visible := perScreen + 2*overscan
	end := min(n-1, start+visible)

	return Window{
		Range:       Range{Start: start, End: end},
		TotalExtent: float64(n) * vp.ItemExtent,
		Offset:      float64(start) * vp.ItemExtent,
		ItemExtent:  vp.ItemExtent,
	}
}
