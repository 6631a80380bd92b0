package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/eventjobs/internal/models"
)

// maxTxnRetries bounds retries on badger.ErrConflict
const maxTxnRetries = 5

// PendingQueue is a FIFO list of job ids kept in raw badger keys.
// Key format: queue:{name}:index:{20-digit sequence}:{id} -> id
// The sequence is a monotonic nanosecond clock so claim order equals enqueue order.
type PendingQueue struct {
	db   *badger.DB
	name string

	mu   sync.Mutex
	last int64
}

// NewPendingQueue creates a queue over db
func NewPendingQueue(db *badger.DB, name string) (*PendingQueue, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if name == "" {
		return nil, errors.New("queue name is required")
	}
	return &PendingQueue{db: db, name: name}, nil
}

// Push appends id inside an existing transaction
func (q *PendingQueue) Push(txn *badger.Txn, id string) error {
	return txn.Set(q.indexKey(q.nextSequence(), id), []byte(id))
}

// Pop removes and returns the oldest id, or models.ErrNoMessage
func (q *PendingQueue) Pop(ctx context.Context) (string, error) {
	var id string

	err := update(q.db, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := q.prefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(prefix)
		if !it.ValidForPrefix(prefix) {
			return models.ErrNoMessage
		}

		item := it.Item()
		key := item.KeyCopy(nil)
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		id = string(value)

		return txn.Delete(key)
	})
	if err != nil {
		return "", err
	}

	return id, nil
}

// Len counts queued ids
func (q *PendingQueue) Len(ctx context.Context) (int, error) {
	count := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := q.prefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	return count, nil
}

func (q *PendingQueue) nextSequence() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UnixNano()
	if now <= q.last {
		now = q.last + 1
	}
	q.last = now
	return now
}

func (q *PendingQueue) prefix() []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", q.name))
}

func (q *PendingQueue) indexKey(seq int64, id string) []byte {
	// Zero pad to 20 digits so lexical order matches numeric order
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", q.name, seq, id))
}

// update runs fn in a read-write transaction, retrying on conflict
func update(db *badger.DB, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		err = db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}
