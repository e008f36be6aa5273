package offsync

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	valuePrefix = "v:"

	ramExpiration = 2 * time.Minute
	ramSweep      = 5 * time.Minute
)

// Store is the durable key-value layer everything else persists through.
// Values are JSON-encoded and sanitized on the way in; reads are served
// from a write-through RAM front when possible.
type Store struct {
	db       *leveldb.DB
	ownsDB   bool
	ram      *cache.Cache
	maxValue int64
}

// OpenStore opens (or creates) a store at path. maxValue caps the
// serialized size of a single value; <=0 selects the 5MB default.
func OpenStore(path string, maxValue int64) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorage, path, err)
	}
	s := NewStoreWithDB(db, maxValue)
	s.ownsDB = true
	return s, nil
}

// NewStoreWithDB wraps an already-open leveldb handle. The caller keeps
// ownership of the handle unless the store was created via OpenStore.
func NewStoreWithDB(db *leveldb.DB, maxValue int64) *Store {
	if maxValue <= 0 {
		maxValue = 5 * 1024 * 1024
	}
	return &Store{
		db:       db,
		ram:      cache.New(ramExpiration, ramSweep),
		maxValue: maxValue,
	}
}

func (s *Store) Close() {
	if s.ownsDB {
		_ = s.db.Close()
	}
}

// Save validates, sanitizes and persists value under key.
func (s *Store) Save(key string, value any) error {
	if !validKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: not serializable: %v", ErrInvalidValue, err)
	}
	if int64(len(raw)) > s.maxValue {
		return fmt.Errorf("%w: %d bytes exceeds cap %d", ErrInvalidValue, len(raw), s.maxValue)
	}

	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	cleaned, err := sanitizeValue(tree)
	if err != nil {
		return err
	}
	raw, err = json.Marshal(cleaned)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}

	if err := s.db.Put([]byte(valuePrefix+key), raw, nil); err != nil {
		return fmt.Errorf("%w: put %q: %v", ErrStorage, key, err)
	}
	s.ram.Set(key, raw, cache.DefaultExpiration)
	return nil
}

// Get decodes the value stored under key into out. A missing key is not an
// error: it returns (false, nil). A corrupt value is logged and treated as
// missing.
func (s *Store) Get(key string, out any) (bool, error) {
	if !validKey(key) {
		return false, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	var raw []byte
	if obj, ok := s.ram.Get(key); ok {
		raw = obj.([]byte)
	} else {
		b, err := s.db.Get([]byte(valuePrefix+key), nil)
		if err == leveldb.ErrNotFound {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("%w: get %q: %v", ErrStorage, key, err)
		}
		raw = b
		s.ram.Set(key, raw, cache.DefaultExpiration)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		log.Printf("store: discarding corrupt value for %q: %v", key, err)
		return false, nil
	}
	return true, nil
}

// Remove deletes key. Removing an absent key is a no-op.
func (s *Store) Remove(key string) error {
	if !validKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	s.ram.Delete(key)
	if err := s.db.Delete([]byte(valuePrefix+key), nil); err != nil {
		return fmt.Errorf("%w: delete %q: %v", ErrStorage, key, err)
	}
	return nil
}

// Keys returns all stored keys starting with prefix, in lexical order.
func (s *Store) Keys(prefix string) ([]string, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(valuePrefix+prefix)), nil)
	defer it.Release()

	var out []string
	for it.Next() {
		out = append(out, strings.TrimPrefix(string(it.Key()), valuePrefix))
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("%w: iterate: %v", ErrStorage, err)
	}
	return out, nil
}
