// Package journal records accepted casts and answers history and statistics
// queries about them.
//
// [Store] is implemented in memory by [Memory], on PostgreSQL by
// journal/postgres and on an embedded SQLite file by journal/sqlite. All
// implementations are safe for concurrent use.
package journal

import (
	"context"
	"errors"

	"github.com/MrWong99/glyphcast/pkg/types"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("journal: store is closed")

// DefaultLimit is used by Recent when limit is not positive.
const DefaultLimit = 50

// Stats aggregates an actor's accepted casts.
type Stats struct {
	Casts           int     `json:"casts"`
	AverageAccuracy float64 `json:"average_accuracy"`
	BestChain       int     `json:"best_chain"`
	Reactions       int     `json:"reactions"`
	TotalDamage     int     `json:"total_damage"`
}

// Store persists cast events.
type Store interface {
	// Append records e. Appending an id that already exists is a no-op.
	Append(ctx context.Context, e types.CastEvent) error

	// Recent returns up to limit events, newest first. An empty actor
	// matches every actor.
	Recent(ctx context.Context, actor string, limit int) ([]types.CastEvent, error)

	// Stats aggregates the events of actor, or of everyone when actor is
	// empty.
	Stats(ctx context.Context, actor string) (Stats, error)

	Close() error
}
