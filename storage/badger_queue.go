package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// QueuePush spools a message on a queue. On a last-value queue any message
// still waiting for delivery is superseded by the new one.
func (s *BadgerStorage) QueuePush(ctx context.Context, queue string, msg QueueMessage) (string, error) {
	seq, err := s.seq.Next()
	if err != nil {
		return "", fmt.Errorf("next sequence: %w", err)
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.Queue = queue

	err = s.update(func(txn *badger.Txn) error {
		ep, err := loadEndpoint(txn, queue)
		if err != nil {
			return err
		}

		ready := keysWithPrefix(txn, readyQueuePrefix(queue))
		var dropped int64
		switch {
		case ep.LastValue():
			for _, key := range ready {
				if err := deleteIndexed(txn, key); err != nil {
					return err
				}
				dropped++
			}
		case ep.Quota > 0 && int64(len(ready)) >= ep.Quota:
			return fmt.Errorf("%s: %w", queue, ErrQueueFull)
		}

		if err := setJSON(txn, messageKey(msg.ID), msg); err != nil {
			return err
		}
		if err := txn.Set(readyKey(queue, seq), []byte(msg.ID)); err != nil {
			return err
		}
		return bumpStats(txn, queue, 0, dropped)
	})
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

// QueuePop moves the oldest ready message to the pending set and returns it.
// The message stays spooled until QueueAck or QueueNack.
func (s *BadgerStorage) QueuePop(ctx context.Context, queue string) (QueueMessage, bool, error) {
	var message QueueMessage
	var found bool

	err := s.update(func(txn *badger.Txn) error {
		found = false
		if _, err := loadEndpoint(txn, queue); err != nil {
			return err
		}

		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := readyQueuePrefix(queue)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			idxKey := it.Item().KeyCopy(nil)
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			id := string(val)

			if err := getJSON(txn, messageKey(id), &message); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					// dangling index entry
					if err := txn.Delete(idxKey); err != nil {
						return err
					}
					continue
				}
				return err
			}

			if err := txn.Delete(idxKey); err != nil {
				return err
			}
			if err := txn.Set(pendingKey(queue, id), sequenceOf(idxKey)); err != nil {
				return err
			}
			found = true
			return nil
		}
		return nil
	})

	return message, found, err
}

// QueuePeek returns ready messages without removing them
func (s *BadgerStorage) QueuePeek(ctx context.Context, queue string, limit int) ([]QueueMessage, error) {
	var messages []QueueMessage

	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := loadEndpoint(txn, queue); err != nil {
			return err
		}

		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := readyQueuePrefix(queue)
		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(messages) < limit; it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				continue
			}

			var message QueueMessage
			if err := getJSON(txn, messageKey(string(val)), &message); err != nil {
				continue
			}
			messages = append(messages, message)
		}
		return nil
	})

	return messages, err
}

// QueueAck removes a delivered message for good.
func (s *BadgerStorage) QueueAck(ctx context.Context, queue, messageID string) error {
	return s.update(func(txn *badger.Txn) error {
		key := pendingKey(queue, messageID)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%s: %w", messageID, ErrMessageNotFound)
			}
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		if err := txn.Delete(messageKey(messageID)); err != nil {
			return err
		}
		return bumpStats(txn, queue, 1, 0)
	})
}

// QueueNack returns a delivered message to the head of its queue. On a
// last-value queue the message is dropped instead if a newer one is waiting.
func (s *BadgerStorage) QueueNack(ctx context.Context, queue, messageID string) error {
	return s.update(func(txn *badger.Txn) error {
		ep, err := loadEndpoint(txn, queue)
		if err != nil {
			return err
		}

		key := pendingKey(queue, messageID)
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%s: %w", messageID, ErrMessageNotFound)
			}
			return err
		}
		seqBytes, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}

		if ep.LastValue() && len(keysWithPrefix(txn, readyQueuePrefix(queue))) > 0 {
			if err := txn.Delete(messageKey(messageID)); err != nil {
				return err
			}
			return bumpStats(txn, queue, 0, 1)
		}

		var message QueueMessage
		if err := getJSON(txn, messageKey(messageID), &message); err != nil {
			return err
		}
		message.RetryCount++
		message.Redelivered = true
		if err := setJSON(txn, messageKey(messageID), message); err != nil {
			return err
		}
		return txn.Set(readyKey(queue, binary.BigEndian.Uint64(seqBytes)), []byte(messageID))
	})
}

// QueueStats returns queue statistics
func (s *BadgerStorage) QueueStats(ctx context.Context, queue string) (QueueStats, error) {
	var stats QueueStats

	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := loadEndpoint(txn, queue); err != nil {
			return err
		}
		if err := getJSON(txn, statsKey(queue), &stats); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		stats.Name = queue
		stats.Size = int64(len(keysWithPrefix(txn, readyQueuePrefix(queue))))
		stats.Pending = int64(len(keysWithPrefix(txn, pendingQueuePrefix(queue))))
		return nil
	})

	return stats, err
}

// QueuePurge removes all ready messages from a queue
func (s *BadgerStorage) QueuePurge(ctx context.Context, queue string) (int64, error) {
	var purged int64

	err := s.update(func(txn *badger.Txn) error {
		purged = 0
		if _, err := loadEndpoint(txn, queue); err != nil {
			return err
		}
		for _, key := range keysWithPrefix(txn, readyQueuePrefix(queue)) {
			if err := deleteIndexed(txn, key); err != nil {
				return err
			}
			purged++
		}
		return bumpStats(txn, queue, 0, purged)
	})

	return purged, err
}

// deleteIndexed deletes a ready index entry together with the message it points to.
func deleteIndexed(txn *badger.Txn, idxKey []byte) error {
	item, err := txn.Get(idxKey)
	if err != nil {
		return err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	if err := txn.Delete(messageKey(string(val))); err != nil {
		return err
	}
	return txn.Delete(idxKey)
}

// sequenceOf extracts the zero-padded sequence suffix of a ready key.
func sequenceOf(idxKey []byte) []byte {
	key := string(idxKey)
	i := strings.LastIndex(key, keySep)
	var seq uint64
	fmt.Sscanf(key[i+1:], "%d", &seq)
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, seq)
	return out
}

// bumpStats updates the persisted counters in the same transaction as the
// operation they describe.
func bumpStats(txn *badger.Txn, queue string, processed, dropped int64) error {
	var stats QueueStats
	if err := getJSON(txn, statsKey(queue), &stats); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	stats.Name = queue
	stats.Processed += processed
	stats.Dropped += dropped
	return setJSON(txn, statsKey(queue), stats)
}
