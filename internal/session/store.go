package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/listings-admin/internal/xerrors"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrExpired  = errors.New("session idle timeout exceeded")
)

// Store keeps session records keyed by session id.
type Store interface {
	Save(ctx context.Context, id string, rec Record, ttl time.Duration) error

	// Load returns ErrNotFound for unknown or evicted ids.
	Load(ctx context.Context, id string) (Record, error)

	// Touch is the idle check and activity update as one step. If the record
	// has been idle for more than idle at now it is deleted and returned with
	// ErrExpired. Otherwise LastActivity becomes max(LastActivity, now).
	Touch(ctx context.Context, id string, now time.Time, idle time.Duration) (Record, error)

	// Delete succeeds for unknown ids.
	Delete(ctx context.Context, id string) error
}

type memEntry struct {
	rec     Record
	expires time.Time
}

// MemoryStore is a single-instance Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{entries: make(map[string]memEntry), now: now}
}

func (m *MemoryStore) Save(_ context.Context, id string, rec Record, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = memEntry{rec: rec, expires: m.now().Add(ttl)}
	return nil
}

// get must be called with mu held.
func (m *MemoryStore) get(id string) (memEntry, bool) {
	e, ok := m.entries[id]
	if !ok {
		return memEntry{}, false
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, id)
		return memEntry{}, false
	}
	return e, true
}

func (m *MemoryStore) Load(_ context.Context, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(id)
	if !ok {
		return Record{}, ErrNotFound
	}
	return e.rec, nil
}

func (m *MemoryStore) Touch(_ context.Context, id string, now time.Time, idle time.Duration) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(id)
	if !ok {
		return Record{}, ErrNotFound
	}
	if e.rec.Idle(now) > idle {
		delete(m.entries, id)
		return e.rec, ErrExpired
	}
	e.rec = e.rec.touched(now)
	m.entries[id] = e
	return e.rec, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	return nil
}

// Sweep drops expired entries until ctx is done.
func (m *MemoryStore) Sweep(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			now := m.now()
			for id, e := range m.entries {
				if !now.Before(e.expires) {
					delete(m.entries, id)
				}
			}
			m.mu.Unlock()
		}
	}
}

// touchRetries bounds optimistic retries when a concurrent request for the
// same session wins the WATCH race.
const touchRetries = 5

// RedisStore keeps records as JSON strings with the store TTL.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(id string) string { return s.prefix + "sess:" + id }

func (s *RedisStore) Save(ctx context.Context, id string, rec Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return xerrors.Wrap(err, "encode session")
	}
	if err := s.redis.Set(ctx, s.key(id), data, ttl).Err(); err != nil {
		return xerrors.Wrap(err, "save session")
	}
	return nil
}

func decode(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, xerrors.Wrap(err, "decode session")
	}
	return rec, nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (Record, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, xerrors.Wrap(err, "load session")
	}
	return decode(data)
}

func (s *RedisStore) Touch(ctx context.Context, id string, now time.Time, idle time.Duration) (Record, error) {
	key := s.key(id)
	var out Record
	var outErr error

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			out, outErr = Record{}, ErrNotFound
			return nil
		}
		if err != nil {
			return err
		}
		rec, err := decode(data)
		if err != nil {
			return err
		}

		if rec.Idle(now) > idle {
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			out, outErr = rec, ErrExpired
			return err
		}

		rec = rec.touched(now)
		next, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, redis.KeepTTL)
			return nil
		})
		out, outErr = rec, nil
		return err
	}

	for i := 0; i < touchRetries; i++ {
		err := s.redis.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Record{}, xerrors.Wrap(err, "touch session")
		}
		return out, outErr
	}
	return Record{}, xerrors.Newf("touch session: gave up after %d concurrent updates", touchRetries)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
		return xerrors.Wrap(err, "delete session")
	}
	return nil
}
