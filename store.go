package notify

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/golang/glog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Store is the cache collaborator: a TTL key-value store with glob
// invalidation. Keys are slash-separated paths like
// notify/page/<user>/<number>/<size>.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	InvalidatePattern(glob string) error
	Close() error
}

type BadgerStoreSettings struct {
	SyncWrites     bool
	GcInterval     time.Duration
	GcDiscardRatio float64
}

func DefaultBadgerStoreSettings() *BadgerStoreSettings {
	return &BadgerStoreSettings{
		SyncWrites:     false,
		GcInterval:     5 * time.Minute,
		GcDiscardRatio: 0.7,
	}
}

// BadgerStore keeps the cache in a badger database. An empty dir opens an
// in-memory database, which is what tests use.
type BadgerStore struct {
	ctx    context.Context
	cancel context.CancelFunc

	db *badger.DB

	settings *BadgerStoreSettings
}

func NewBadgerStoreWithDefaults(ctx context.Context, dir string) (*BadgerStore, error) {
	return NewBadgerStore(ctx, dir, DefaultBadgerStoreSettings())
}

func NewBadgerStore(ctx context.Context, dir string, settings *BadgerStoreSettings) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.
		WithSyncWrites(settings.SyncWrites).
		WithLogger(&badgerGlogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	store := &BadgerStore{
		ctx:      cancelCtx,
		cancel:   cancel,
		db:       db,
		settings: settings,
	}
	// the value log only exists on disk
	if dir != "" && 0 < settings.GcInterval {
		go store.runGc()
	}
	return store, nil
}

func (self *BadgerStore) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := self.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (self *BadgerStore) Set(key string, value []byte, ttl time.Duration) error {
	return self.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if 0 < ttl {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

func (self *BadgerStore) Delete(key string) error {
	return self.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (self *BadgerStore) InvalidatePattern(glob string) error {
	pattern, err := compileGlob(glob)
	if err != nil {
		return err
	}
	prefix := []byte(globPrefix(glob))

	return self.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		deleteKeys := [][]byte{}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if pattern.MatchString(string(key)) {
				deleteKeys = append(deleteKeys, key)
			}
		}
		for _, key := range deleteKeys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (self *BadgerStore) Close() error {
	self.cancel()
	return self.db.Close()
}

func (self *BadgerStore) runGc() {
	for {
		select {
		case <-self.ctx.Done():
			return
		case <-time.After(self.settings.GcInterval):
		}

		for {
			err := self.db.RunValueLogGC(self.settings.GcDiscardRatio)
			if err != nil {
				if !errors.Is(err, badger.ErrNoRewrite) {
					glog.Infof("[store]gc error = %s\n", err)
				}
				break
			}
		}
	}
}

// badgerGlogger forwards badger's own logging to glog.
type badgerGlogger struct{}

func (self *badgerGlogger) Errorf(format string, args ...interface{}) {
	glog.Errorf("[store]"+format, args...)
}

func (self *badgerGlogger) Warningf(format string, args ...interface{}) {
	glog.Warningf("[store]"+format, args...)
}

func (self *badgerGlogger) Infof(format string, args ...interface{}) {
	glog.V(2).Infof("[store]"+format, args...)
}

func (self *badgerGlogger) Debugf(format string, args ...interface{}) {
	glog.V(2).Infof("[store]"+format, args...)
}

// MemoryStore is the map-backed Store used as a collaborator double.
// Expiry is lazy: expired rows are dropped on read.
type MemoryStore struct {
	stateLock sync.Mutex
	rows      map[string]memoryRow
}

type memoryRow struct {
	value []byte
	// zero means no expiry
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: map[string]memoryRow{},
	}
}

func (self *MemoryStore) Get(key string) ([]byte, bool, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	row, ok := self.rows[key]
	if !ok {
		return nil, false, nil
	}
	if !row.expiresAt.IsZero() && !time.Now().Before(row.expiresAt) {
		delete(self.rows, key)
		return nil, false, nil
	}
	return slices.Clone(row.value), true, nil
}

func (self *MemoryStore) Set(key string, value []byte, ttl time.Duration) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	row := memoryRow{
		value: slices.Clone(value),
	}
	if 0 < ttl {
		row.expiresAt = time.Now().Add(ttl)
	}
	self.rows[key] = row
	return nil
}

func (self *MemoryStore) Delete(key string) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	delete(self.rows, key)
	return nil
}

func (self *MemoryStore) InvalidatePattern(glob string) error {
	pattern, err := compileGlob(glob)
	if err != nil {
		return err
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	maps.DeleteFunc(self.rows, func(key string, row memoryRow) bool {
		return pattern.MatchString(key)
	})
	return nil
}

func (self *MemoryStore) Close() error {
	return nil
}

// compileGlob converts a glob to a regexp. path.Match is not used because
// its `*` does not cross `/`, and store keys are slash separated.
func compileGlob(glob string) (*regexp.Regexp, error) {
	quoted := regexp.QuoteMeta(glob)
	quoted = strings.ReplaceAll(quoted, `\*`, `.*`)
	quoted = strings.ReplaceAll(quoted, `\?`, `.`)
	return regexp.Compile(fmt.Sprintf("^%s$", quoted))
}

// globPrefix is the literal run before the first wildcard, used to bound
// the badger key scan.
func globPrefix(glob string) string {
	if i := strings.IndexAny(glob, "*?"); 0 <= i {
		return glob[:i]
	}
	return glob
}
