package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	endpointPrefix     = "e:"
	readyPrefix        = "q:"
	pendingPrefix      = "p:"
	messagePrefix      = "m:"
	statsPrefix        = "s:"
	subscriptionPrefix = "t:"

	sequenceKey = "seq:messages"

	// separates queue names from the rest of a key; queue and topic names
	// never contain a NUL byte.
	keySep = "\x00"

	maxConflictRetries = 8
)

// BadgerStorage implements Storage using BadgerDB
type BadgerStorage struct {
	db   *badger.DB
	seq  *badger.Sequence
	stop chan struct{}
}

// NewBadgerStorage opens (or creates) a durable spool under dataDir.
func NewBadgerStorage(dataDir string) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(dataDir).
		WithLogger(nil).
		WithLoggingLevel(badger.ERROR)
	return openBadger(opts, 5*time.Minute)
}

// NewInMemoryBadgerStorage opens a badger spool that lives only in memory.
func NewInMemoryBadgerStorage() (*BadgerStorage, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil).
		WithLoggingLevel(badger.ERROR)
	return openBadger(opts, 0)
}

func openBadger(opts badger.Options, gcInterval time.Duration) (*BadgerStorage, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	seq, err := db.GetSequence([]byte(sequenceKey), 1000)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to lease message sequence: %w", err)
	}

	s := &BadgerStorage{db: db, seq: seq, stop: make(chan struct{})}
	if gcInterval > 0 {
		go s.runGC(gcInterval)
	}
	return s, nil
}

// runGC runs the value log garbage collector periodically
func (s *BadgerStorage) runGC(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			_ = s.db.RunValueLogGC(0.7)
		}
	}
}

// Close releases the sequence lease and closes the database.
func (s *BadgerStorage) Close() error {
	close(s.stop)
	if err := s.seq.Release(); err != nil {
		_ = s.db.Close()
		return fmt.Errorf("release sequence: %w", err)
	}
	return s.db.Close()
}

// update runs fn in a read-write transaction, retrying on write conflicts
// caused by concurrent pushes to the same queue.
func (s *BadgerStorage) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func endpointKey(queue string) []byte { return []byte(endpointPrefix + queue) }
func statsKey(queue string) []byte    { return []byte(statsPrefix + queue) }
func messageKey(id string) []byte     { return []byte(messagePrefix + id) }

func readyQueuePrefix(queue string) []byte   { return []byte(readyPrefix + queue + keySep) }
func pendingQueuePrefix(queue string) []byte { return []byte(pendingPrefix + queue + keySep) }
func subscriptionQueuePrefix(queue string) []byte {
	return []byte(subscriptionPrefix + queue + keySep)
}

// readyKey orders messages by their sequence number so that iteration is FIFO.
func readyKey(queue string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s%s%020d", readyPrefix, queue, keySep, seq))
}

func pendingKey(queue, id string) []byte {
	return []byte(pendingPrefix + queue + keySep + id)
}

func subscriptionKey(queue, topic string) []byte {
	return []byte(subscriptionPrefix + queue + keySep + topic)
}

func getJSON(txn *badger.Txn, key []byte, v interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func loadEndpoint(txn *badger.Txn, queue string) (Endpoint, error) {
	var ep Endpoint
	if err := getJSON(txn, endpointKey(queue), &ep); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ep, fmt.Errorf("%s: %w", queue, ErrQueueNotFound)
		}
		return ep, err
	}
	return ep, nil
}

// keysWithPrefix collects keys first so callers can delete while iterating.
func keysWithPrefix(txn *badger.Txn, prefix []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

// QueueProvision creates the endpoint. It returns ErrQueueExists when the
// queue is already provisioned; the existing endpoint is left untouched.
func (s *BadgerStorage) QueueProvision(ctx context.Context, ep Endpoint) error {
	if ep.Name == "" {
		return fmt.Errorf("queue name cannot be empty")
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now()
	}
	return s.update(func(txn *badger.Txn) error {
		_, err := txn.Get(endpointKey(ep.Name))
		if err == nil {
			return fmt.Errorf("%s: %w", ep.Name, ErrQueueExists)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := setJSON(txn, endpointKey(ep.Name), ep); err != nil {
			return err
		}
		return setJSON(txn, statsKey(ep.Name), QueueStats{Name: ep.Name})
	})
}

// QueueInfo returns the provisioned endpoint.
func (s *BadgerStorage) QueueInfo(ctx context.Context, queue string) (Endpoint, error) {
	var ep Endpoint
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ep, err = loadEndpoint(txn, queue)
		return err
	})
	return ep, err
}

// QueueDelete removes the endpoint together with its messages and subscriptions.
func (s *BadgerStorage) QueueDelete(ctx context.Context, queue string) error {
	return s.update(func(txn *badger.Txn) error {
		if _, err := loadEndpoint(txn, queue); err != nil {
			return err
		}
		for _, key := range keysWithPrefix(txn, readyQueuePrefix(queue)) {
			if err := deleteIndexed(txn, key); err != nil {
				return err
			}
		}
		for _, key := range keysWithPrefix(txn, pendingQueuePrefix(queue)) {
			id := strings.TrimPrefix(string(key), string(pendingQueuePrefix(queue)))
			if err := txn.Delete(messageKey(id)); err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		for _, key := range keysWithPrefix(txn, subscriptionQueuePrefix(queue)) {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		if err := txn.Delete(statsKey(queue)); err != nil {
			return err
		}
		return txn.Delete(endpointKey(queue))
	})
}

// QueueList returns all provisioned queue names
func (s *BadgerStorage) QueueList(ctx context.Context) ([]string, error) {
	var queues []string
	err := s.db.View(func(txn *badger.Txn) error {
		for _, key := range keysWithPrefix(txn, []byte(endpointPrefix)) {
			queues = append(queues, strings.TrimPrefix(string(key), endpointPrefix))
		}
		return nil
	})
	return queues, err
}

// SubscriptionAdd maps topic onto queue.
func (s *BadgerStorage) SubscriptionAdd(ctx context.Context, queue, topic string) error {
	return s.update(func(txn *badger.Txn) error {
		if _, err := loadEndpoint(txn, queue); err != nil {
			return err
		}
		key := subscriptionKey(queue, topic)
		_, err := txn.Get(key)
		if err == nil {
			return fmt.Errorf("%s -> %s: %w", topic, queue, ErrSubscriptionExists)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, []byte(topic))
	})
}

// SubscriptionRemove removes a topic mapping from queue.
func (s *BadgerStorage) SubscriptionRemove(ctx context.Context, queue, topic string) error {
	return s.update(func(txn *badger.Txn) error {
		key := subscriptionKey(queue, topic)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%s -> %s: %w", topic, queue, ErrSubscriptionNotFound)
			}
			return err
		}
		return txn.Delete(key)
	})
}

// SubscriptionList returns every topic mapping.
func (s *BadgerStorage) SubscriptionList(ctx context.Context) ([]Subscription, error) {
	var subs []Subscription
	err := s.db.View(func(txn *badger.Txn) error {
		for _, key := range keysWithPrefix(txn, []byte(subscriptionPrefix)) {
			rest := strings.TrimPrefix(string(key), subscriptionPrefix)
			parts := strings.SplitN(rest, keySep, 2)
			if len(parts) != 2 {
				continue
			}
			subs = append(subs, Subscription{Queue: parts[0], Topic: parts[1]})
		}
		return nil
	})
	return subs, err
}
