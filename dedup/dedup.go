// Package dedup remembers which Slack messages have already been handled so
// that redelivered events produce at most one reply.
package dedup

import (
	"context"
	"errors"
)

// Store is the check-and-record capability used by the dispatcher.
//
// SeenOrRecord reports true when id was recorded before. Otherwise it
// records id and reports false. The check and the insert are a single
// atomic step: two concurrent calls with the same id never both see false.
type Store interface {
	SeenOrRecord(ctx context.Context, id string) (bool, error)
}

// Sweeper is implemented by stores that need periodic expiry.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

var ErrEmptyID = errors.New("dedup: empty message id")
