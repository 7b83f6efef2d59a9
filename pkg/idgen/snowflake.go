package idgen

import (
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// Snowflake ID generator
// ============================================================================
//
// Ledger entries that arrive without an idempotency key get an engine number
// built from a snowflake id, so numbers are unique across instances and sort
// roughly by time.
//
// Layout, 64 bits:
//
//   0 - 41 bit timestamp - 10 bit worker id - 12 bit sequence
//   |   |                  |                  |
//   |   |                  |                  +-- sequence within one millisecond (0-4095)
//   |   |                  +-- worker id (0-1023), server.worker_id
//   |   +-- milliseconds since epoch (about 69 years)
//   +-- sign bit, always 0
//
// ============================================================================

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

const (
	prefixTransfer   = "TRF"
	prefixAdjustment = "ADJ"
)

type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

func New(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("worker id must be between 0 and %d, got %d", maxWorkerID, workerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// sequence exhausted, spin until the next millisecond
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// TransferNo returns a ledger entry id for a transfer, e.g. TRF0123456789012345678.
func (s *Snowflake) TransferNo() string {
	return fmt.Sprintf("%s%019d", prefixTransfer, s.Generate())
}

// AdjustmentNo returns a ledger entry id for an administrative adjustment.
func (s *Snowflake) AdjustmentNo() string {
	return fmt.Sprintf("%s%019d", prefixAdjustment, s.Generate())
}
