// Package invalidation defines the events published after a routing-graph
// rebuild and the consumer that re-queues affected origins.
package invalidation

import (
	"errors"
	"fmt"

	"github.com/transitatlas/isochrone-cache/internal/model"
)

const (
	// OpRecompute re-queues completed and failed origins so the next
	// batch run recomputes them against the rebuilt graph.
	OpRecompute = "recompute"
)

type Event struct {
	Op        string   `json:"op"`
	Mode      string   `json:"mode"`
	Departure string   `json:"departure"`
	DayType   string   `json:"day_type"`
	OriginIDs []int64  `json:"origin_ids,omitempty"`
	Boroughs  []string `json:"boroughs,omitempty"`
}

// CacheKey validates the event's key dimensions.
func (e Event) CacheKey() (model.CacheKey, error) {
	if e.Op != OpRecompute {
		return model.CacheKey{}, fmt.Errorf("unsupported op %q", e.Op)
	}
	mode, err := model.ParseMode(e.Mode)
	if err != nil {
		return model.CacheKey{}, err
	}
	dep, err := model.ParseDeparture(e.Departure)
	if err != nil {
		return model.CacheKey{}, err
	}
	day, err := model.ParseDayType(e.DayType)
	if err != nil {
		return model.CacheKey{}, err
	}
	if mode == "" || dep == "" || day == "" {
		return model.CacheKey{}, errors.New("incomplete cache key")
	}
	return model.CacheKey{Mode: mode, Departure: dep, DayType: day}, nil
}
