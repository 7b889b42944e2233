// Package inmemory is a map backed storage backend whose CRUD operations run through the
// storekit error handler and whose multi-step changes apply through the transaction
// manager.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sharedcode/storekit"
	"github.com/sharedcode/storekit/errhandler"
)

// KeyValue is the payload of Save and Update operations; BatchSave takes a []KeyValue.
type KeyValue struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Options configures a Store.
type Options struct {
	// Name prefixes the operation names reported to metrics, e.g. "inmemory.save".
	Name string `json:"name" yaml:"name"`
	// MaxItems caps the number of keys. Zero means unbounded.
	MaxItems int `json:"max_items" yaml:"max_items"`
	// Fault, when set, is called before every operation attempt; a returned error fails
	// the attempt. Used to simulate transient backend failures.
	Fault func(op string) error `json:"-" yaml:"-"`
}

// Store is safe for concurrent use.
type Store struct {
	options Options
	handler *errhandler.Handler

	locker sync.RWMutex
	items  map[string]any
	closed bool
}

// New creates an empty Store. handler may be nil, in which case operations run once
// without retry or metrics.
func New(options Options, handler *errhandler.Handler) *Store {
	if options.Name == "" {
		options.Name = "inmemory"
	}
	return &Store{
		options: options,
		handler: handler,
		items:   make(map[string]any),
	}
}

// Name returns the store name.
func (s *Store) Name() string {
	return s.options.Name
}

func (s *Store) do(ctx context.Context, op string, task func(ctx context.Context) error) error {
	name := s.options.Name + "." + op
	attempt := func(ctx context.Context) error {
		if s.options.Fault != nil {
			if err := s.options.Fault(op); err != nil {
				return err
			}
		}
		return task(ctx)
	}
	if s.handler == nil {
		return attempt(ctx)
	}
	return s.handler.Do(ctx, name, attempt)
}

// Save upserts key.
func (s *Store) Save(ctx context.Context, key string, value any) error {
	return s.do(ctx, "save", func(context.Context) error {
		s.locker.Lock()
		defer s.locker.Unlock()
		if err := s.writableLocked(); err != nil {
			return err
		}
		if err := s.checkCapacity(s.items, key, 1); err != nil {
			return err
		}
		s.items[key] = value
		return nil
	})
}

// Get returns the value of key, or a NotFound error.
func (s *Store) Get(ctx context.Context, key string) (any, error) {
	var r any
	err := s.do(ctx, "get", func(context.Context) error {
		s.locker.RLock()
		defer s.locker.RUnlock()
		if s.closed {
			return errClosed()
		}
		v, ok := s.items[key]
		if !ok {
			return notFound(key)
		}
		r = v
		return nil
	})
	return r, err
}

// Update replaces the value of an existing key.
func (s *Store) Update(ctx context.Context, key string, value any) error {
	return s.do(ctx, "update", func(context.Context) error {
		s.locker.Lock()
		defer s.locker.Unlock()
		if err := s.writableLocked(); err != nil {
			return err
		}
		if _, ok := s.items[key]; !ok {
			return notFound(key)
		}
		s.items[key] = value
		return nil
	})
}

// Delete removes an existing key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.do(ctx, "delete", func(context.Context) error {
		s.locker.Lock()
		defer s.locker.Unlock()
		if err := s.writableLocked(); err != nil {
			return err
		}
		if _, ok := s.items[key]; !ok {
			return notFound(key)
		}
		delete(s.items, key)
		return nil
	})
}

// BatchSave upserts all items or none.
func (s *Store) BatchSave(ctx context.Context, items []KeyValue) error {
	return s.do(ctx, "batch_save", func(context.Context) error {
		s.locker.Lock()
		defer s.locker.Unlock()
		if err := s.writableLocked(); err != nil {
			return err
		}
		staged := s.cloneLocked()
		for _, kv := range items {
			if err := s.checkCapacity(staged, kv.Key, 1); err != nil {
				return err
			}
			staged[kv.Key] = kv.Value
		}
		s.items = staged
		return nil
	})
}

// BatchDelete removes all keys or none; any missing key fails the batch.
func (s *Store) BatchDelete(ctx context.Context, keys []string) error {
	return s.do(ctx, "batch_delete", func(context.Context) error {
		s.locker.Lock()
		defer s.locker.Unlock()
		if err := s.writableLocked(); err != nil {
			return err
		}
		for _, k := range keys {
			if _, ok := s.items[k]; !ok {
				return notFound(k)
			}
		}
		for _, k := range keys {
			delete(s.items, k)
		}
		return nil
	})
}

// Keys returns the stored keys, sorted.
func (s *Store) Keys() []string {
	s.locker.RLock()
	defer s.locker.RUnlock()
	r := make([]string, 0, len(s.items))
	for k := range s.items {
		r = append(r, k)
	}
	sort.Strings(r)
	return r
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.locker.RLock()
	defer s.locker.RUnlock()
	return len(s.items)
}

// Ping fails once the store is closed.
func (s *Store) Ping(ctx context.Context) error {
	s.locker.RLock()
	defer s.locker.RUnlock()
	if s.closed {
		return errClosed()
	}
	return nil
}

// Capacity reports used and maximum item counts for the capacity health probe.
func (s *Store) Capacity(ctx context.Context) (used, total int64, err error) {
	s.locker.RLock()
	defer s.locker.RUnlock()
	return int64(len(s.items)), int64(s.options.MaxItems), nil
}

// Close makes every further operation fail with a ConnectionFailure.
func (s *Store) Close() {
	s.locker.Lock()
	defer s.locker.Unlock()
	s.closed = true
}

func (s *Store) writableLocked() error {
	if s.closed {
		return errClosed()
	}
	return nil
}

func (s *Store) checkCapacity(items map[string]any, key string, adding int) error {
	if s.options.MaxItems <= 0 {
		return nil
	}
	if _, ok := items[key]; ok {
		return nil
	}
	if len(items)+adding > s.options.MaxItems {
		return storekit.NewError(storekit.CapacityExceeded,
			fmt.Errorf("store %s is full (%d items)", s.options.Name, s.options.MaxItems), key)
	}
	return nil
}

func (s *Store) cloneLocked() map[string]any {
	c := make(map[string]any, len(s.items))
	for k, v := range s.items {
		c[k] = v
	}
	return c
}

func notFound(key string) error {
	return storekit.NewError(storekit.NotFound, fmt.Errorf("key %q not found", key), key)
}

func errClosed() error {
	return storekit.NewError(storekit.ConnectionFailure, fmt.Errorf("store is closed"), nil)
}
