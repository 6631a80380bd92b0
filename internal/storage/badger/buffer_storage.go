package badger

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/eventjobs/internal/models"
)

// bufferKey holds the upload blob for a job, kept out of the record itself
func bufferKey(id string) []byte {
	return []byte("buffer:" + id)
}

func setBuffer(txn *badger.Txn, id string, payload []byte) error {
	return txn.Set(bufferKey(id), payload)
}

func getBuffer(db *badger.DB, id string) ([]byte, error) {
	var payload []byte
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(bufferKey(id))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, models.ErrBufferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read buffer for job %s: %w", id, err)
	}
	return payload, nil
}

// deleteBuffer is idempotent: deleting a missing key is not an error in badger
func deleteBuffer(db *badger.DB, id string) error {
	err := update(db, func(txn *badger.Txn) error {
		return txn.Delete(bufferKey(id))
	})
	if err != nil {
		return fmt.Errorf("failed to delete buffer for job %s: %w", id, err)
	}
	return nil
}

func bufferExists(db *badger.DB, id string) (bool, error) {
	exists := false
	err := db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(bufferKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}
