package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Store is the persistence port for account records. Implementations must
// serialize Save calls with respect to themselves; the pool guarantees a
// single writer.
type Store interface {
	Load() ([]*Account, error)
	Save(accounts []*Account) error
	Close() error
}

// NewStore selects a store implementation by file extension: ".db" and
// ".bolt" open a bbolt store, anything else a JSON file store.
//
// Parameters:
//   - path: The accounts file path
//
// Returns:
//   - Store: The opened store
//   - error: An error if the backing file could not be opened
func NewStore(path string) (Store, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".bolt":
		return newBoltStore(path)
	default:
		return &fileStore{path: path}, nil
	}
}

// accountsFile is the on-disk JSON layout: an object with an accounts array.
type accountsFile struct {
	Accounts []*Account `json:"accounts"`
}

type fileStore struct {
	path string
}

func (s *fileStore) Load() ([]*Account, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}
	var file accountsFile
	if err = json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse accounts file: %w", err)
	}
	return file.Accounts, nil
}

func (s *fileStore) Save(accounts []*Account) error {
	data, err := json.MarshalIndent(accountsFile{Accounts: accounts}, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err = os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) Close() error { return nil }

var accountsBucket = []byte("accounts")

type boltStore struct {
	db *bolt.DB
}

func newBoltStore(path string) (*boltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open accounts database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, errBucket := tx.CreateBucketIfNotExists(accountsBucket)
		return errBucket
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Load() ([]*Account, error) {
	var accounts []*Account
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(accountsBucket)
		return bucket.ForEach(func(_, value []byte) error {
			var account Account
			if err := json.Unmarshal(value, &account); err != nil {
				return err
			}
			accounts = append(accounts, &account)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *boltStore) Save(accounts []*Account) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(accountsBucket); err != nil {
			return err
		}
		bucket, err := tx.CreateBucket(accountsBucket)
		if err != nil {
			return err
		}
		for _, account := range accounts {
			value, errMarshal := json.Marshal(account)
			if errMarshal != nil {
				return errMarshal
			}
			if err = bucket.Put([]byte(account.ID), value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *boltStore) Close() error {
	return s.db.Close()
}
