// Package stream is the durable transaction queue between the ingest
// gateway and the scoring workers.
package stream

import (
	"context"
	"time"
)

// Record is one queued transaction payload with its stream id.
type Record struct {
	ID      string
	Payload []byte
}

// Stream is the durable queue surface. Consumed records stay pending
// until acknowledged; unacknowledged records are redelivered.
type Stream interface {
	Append(ctx context.Context, payload []byte) (string, error)
	Consume(ctx context.Context, consumer string, count int, block time.Duration) ([]Record, error)
	Ack(ctx context.Context, ids ...string) error
	PendingCount(ctx context.Context) (int64, error)
}
