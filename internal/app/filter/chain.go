package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/nowplaying/internal/domain/track"
)

// Rejection records a track dropped from a list.
type Rejection struct {
	Index   int // Position in the submitted list
	TrackID string
	Code    string
}

// Chain executes filters in sequence.
type Chain struct {
	filters []Filter
}

// NewChain creates a new filter chain.
func NewChain() *Chain {
	return &Chain{
		filters: make([]Filter, 0),
	}
}

// Build creates a chain from the registered filters enabled by enabled.
// Filters run in name order.
func Build(enabled func(name string) (map[string]any, bool)) (*Chain, error) {
	c := NewChain()
	for _, name := range Names() {
		settings, ok := enabled(name)
		if !ok {
			continue
		}
		f := registry[name]()
		if err := f.ValidateConfig(settings); err != nil {
			return nil, errors.Wrapf(err, "filter %s", name)
		}
		c.Add(f)
		zlog.Info().Msgf("filter: enabled: name=%s", name)
	}
	return c, nil
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs all filters in sequence.
// Returns immediately if any filter rejects the track.
func (c *Chain) Execute(ctx context.Context, t track.Track, admitted []track.Track) Result {
	for _, f := range c.filters {
		result := f.Check(ctx, t, admitted)
		if !result.Accepted {
			return result
		}
	}
	return Accept()
}

// Admit runs the chain over a list and returns the accepted tracks. The
// start index is moved to the same track, or to the next accepted one if
// the start track was rejected.
func (c *Chain) Admit(ctx context.Context, items []track.Track, start int) ([]track.Track, int, []Rejection) {
	if c == nil || len(c.filters) == 0 {
		return items, start, nil
	}

	kept := make([]track.Track, 0, len(items))
	var rejected []Rejection
	newStart := -1
	for i, t := range items {
		result := c.Execute(ctx, t, kept)
		if !result.Accepted {
			rejected = append(rejected, Rejection{Index: i, TrackID: t.ID, Code: result.Code})
			continue
		}
		if newStart < 0 && i >= start {
			newStart = len(kept)
		}
		kept = append(kept, t)
	}

	if newStart < 0 {
		newStart = max(len(kept)-1, 0)
	}
	return kept, newStart, rejected
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}
