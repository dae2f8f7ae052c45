package querycache

import (
	"strconv"
	"time"
)

// Kind is the query family a key belongs to. Each kind has its own default
// staleness window and is invalidated as a unit after catalog writes.
type Kind string

const (
	KindPage      Kind = "page"
	KindSummaries Kind = "summaries"
	KindItem      Kind = "item"
)

// Key is the structural identity of a query: its kind plus its parameters.
// Keys are comparable and are used directly as map keys.
type Key struct {
	Kind   Kind
	Params string
}

// PageKey identifies one page of summaries.
func PageKey(page, limit int) Key {
	return Key{Kind: KindPage, Params: strconv.Itoa(page) + ":" + strconv.Itoa(limit)}
}

// SummariesKey identifies the full lightweight summary list.
func SummariesKey() Key {
	return Key{Kind: KindSummaries}
}

// ItemKey identifies a single full post.
func ItemKey(id string) Key {
	return Key{Kind: KindItem, Params: id}
}

func (k Key) String() string {
	if k.Params == "" {
		return string(k.Kind)
	}
	return string(k.Kind) + "/" + k.Params
}

// Defaults maps a kind to its default staleness window.
type Defaults map[Kind]time.Duration

// DefaultStaleTimes favours longer windows for summaries and single items,
// which change less often during a session than live paginated browsing.
func DefaultStaleTimes() Defaults {
	return Defaults{
		KindPage:      30 * time.Second,
		KindSummaries: 5 * time.Minute,
		KindItem:      10 * time.Minute,
	}
}

// AlwaysStale is an Options.StaleTime that makes every cached value stale
// as soon as it is stored.
const AlwaysStale time.Duration = -1

// Options tune a single Fetch.
type Options struct {
	// StaleTime overrides the kind default. Zero means "use the default";
	// AlwaysStale means zero seconds.
	StaleTime time.Duration
	// KeepPreviousData serves the previous value of an invalidated key
	// while it is refetched, instead of waiting for the new one.
	KeepPreviousData bool
	// RequireFresh turns a failed load into an error even when a previous
	// value exists.
	RequireFresh bool
}
