// Package cache keeps an encrypted on-disk copy of the chat state so a client
// can render threads before the first fetch completes.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"go.uber.org/zap"

	"github.com/and161185/leaguechat/internal/model"
	"github.com/and161185/leaguechat/internal/store"
)

// MaxMessages is the number of newest messages kept per thread.
const MaxMessages = 200

var (
	threadPrefix = []byte("thread:")
	msgsPrefix   = []byte("msgs:")
)

// Cache is a pebble-backed store of sealed threads and message lists.
type Cache struct {
	db   *pebble.DB
	seal *Sealer
	log  *zap.Logger
}

// Option configures Open.
type Option func(*pebble.Options)

// WithFS runs pebble on fs, e.g. vfs.NewMem() in tests.
func WithFS(fs vfs.FS) Option {
	return func(o *pebble.Options) { o.FS = fs }
}

// Open opens or creates the cache at dir.
func Open(dir string, seal *Sealer, log *zap.Logger, opts ...Option) (*Cache, error) {
	if log == nil {
		log = zap.NewNop()
	}
	po := &pebble.Options{}
	for _, o := range opts {
		o(po)
	}
	if po.FS == nil {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}
	db, err := pebble.Open(dir, po)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return &Cache{db: db, seal: seal, log: log}, nil
}

// Close flushes and closes the database.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func key(prefix []byte, id string) []byte {
	k := make([]byte, 0, len(prefix)+len(id))
	k = append(k, prefix...)
	return append(k, id...)
}

func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	end[len(end)-1]++
	return end
}

func (c *Cache) put(b *pebble.Batch, k []byte, v any) error {
	plain, err := json.Marshal(v)
	if err != nil {
		return err
	}
	sealed, err := c.seal.Seal(k, plain)
	if err != nil {
		return err
	}
	return b.Set(k, sealed, nil)
}

// Save replaces the cached content with st's threads and their newest messages.
func (c *Cache) Save(st store.State) error {
	b := c.db.NewBatch()
	defer b.Close()

	for _, p := range [][]byte{threadPrefix, msgsPrefix} {
		if err := b.DeleteRange(p, upperBound(p), nil); err != nil {
			return err
		}
	}
	for _, t := range st.Threads {
		if err := c.put(b, key(threadPrefix, t.ID), t); err != nil {
			return fmt.Errorf("thread %s: %w", t.ID, err)
		}
	}
	for id, msgs := range st.MessagesByThread {
		if len(msgs) > MaxMessages {
			msgs = msgs[len(msgs)-MaxMessages:]
		}
		if err := c.put(b, key(msgsPrefix, id), msgs); err != nil {
			return fmt.Errorf("messages %s: %w", id, err)
		}
	}
	return b.Commit(pebble.Sync)
}

// scan opens every record under prefix and hands the plaintext to fn.
// Records that fail to open are skipped.
func (c *Cache) scan(prefix []byte, fn func(id string, plain []byte) error) error {
	it, err := c.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return err
	}
	defer it.Close()
	for ok := it.First(); ok; ok = it.Next() {
		k := append([]byte(nil), it.Key()...)
		plain, err := c.seal.Open(k, it.Value())
		if err != nil {
			c.log.Warn("cache record unreadable", zap.ByteString("key", k), zap.Error(err))
			continue
		}
		if err := fn(string(k[len(prefix):]), plain); err != nil {
			return err
		}
	}
	return it.Error()
}

// Load returns the cached threads and message lists.
func (c *Cache) Load() ([]model.Thread, map[string][]model.Message, error) {
	var threads []model.Thread
	err := c.scan(threadPrefix, func(_ string, plain []byte) error {
		var t model.Thread
		if err := json.Unmarshal(plain, &t); err != nil {
			return err
		}
		threads = append(threads, t)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load threads: %w", err)
	}

	msgs := map[string][]model.Message{}
	err = c.scan(msgsPrefix, func(id string, plain []byte) error {
		var ms []model.Message
		if err := json.Unmarshal(plain, &ms); err != nil {
			return err
		}
		msgs[id] = ms
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load messages: %w", err)
	}
	return threads, msgs, nil
}

// Restore hydrates s from the cache. An empty cache leaves s untouched.
func (c *Cache) Restore(s *store.Store) error {
	threads, msgs, err := c.Load()
	if err != nil {
		return err
	}
	if len(threads) == 0 && len(msgs) == 0 {
		return nil
	}
	s.Hydrate(threads, msgs)
	c.log.Debug("cache restored", zap.Int("threads", len(threads)), zap.Int("messageLists", len(msgs)))
	return nil
}

// Attach persists every committed state of s in the background. Bursts are
// coalesced: only the newest pending state is written. The returned func
// detaches and writes the last pending state.
func (c *Cache) Attach(s *store.Store) (detach func()) {
	pending := make(chan store.State, 1)
	quit := make(chan struct{})
	var wg sync.WaitGroup

	save := func(st store.State) {
		if err := c.Save(st); err != nil {
			c.log.Warn("cache save failed", zap.Error(err))
		}
	}

	unsubscribe := s.Subscribe(func(st store.State) {
		for {
			select {
			case pending <- st:
				return
			default:
			}
			select {
			case <-pending:
			default:
			}
		}
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case st := <-pending:
				save(st)
			case <-quit:
				select {
				case st := <-pending:
					save(st)
				default:
				}
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			close(quit)
			wg.Wait()
		})
	}
}
