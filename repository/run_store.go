package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/krshsl/cascprep/models"
	goredis "github.com/redis/go-redis/v9"
)

// ErrRunNotFound is returned when a run is missing or has expired.
var ErrRunNotFound = errors.New("exam run not found")

// RunStore keeps exam runs for the duration of an exam. Runs expire on their
// own after the configured TTL.
type RunStore interface {
	Save(ctx context.Context, run *models.ExamRun) error
	Get(ctx context.Context, id string) (*models.ExamRun, error)
	AppendTurn(ctx context.Context, id string, stationIndex int, turn models.Turn) (*models.ExamRun, error)
	Delete(ctx context.Context, id string) error
}

// RedisRunStore stores runs as JSON values under "examrun:<id>".
type RedisRunStore struct {
	rdb *goredis.Client
	ttl time.Duration
}

func NewRedisRunStore(rdb *goredis.Client, ttl time.Duration) *RedisRunStore {
	return &RedisRunStore{rdb: rdb, ttl: ttl}
}

// DialRedis connects and pings the server.
func DialRedis(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func runKey(id string) string { return "examrun:" + id }

func (s *RedisRunStore) Save(ctx context.Context, run *models.ExamRun) error {
	raw, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}
	return s.rdb.Set(ctx, runKey(run.ID), raw, s.ttl).Err()
}

func (s *RedisRunStore) Get(ctx context.Context, id string) (*models.ExamRun, error) {
	return getRun(ctx, s.rdb, id)
}

type redisGetter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

func getRun(ctx context.Context, c redisGetter, id string) (*models.ExamRun, error) {
	raw, err := c.Get(ctx, runKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	var run models.ExamRun
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("failed to decode run: %w", err)
	}
	return &run, nil
}

// AppendTurn uses WATCH so concurrent appends to one run do not drop turns.
func (s *RedisRunStore) AppendTurn(ctx context.Context, id string, stationIndex int, turn models.Turn) (*models.ExamRun, error) {
	key := runKey(id)
	var out *models.ExamRun

	txf := func(tx *goredis.Tx) error {
		run, err := getRun(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := appendTurn(run, stationIndex, turn); err != nil {
			return err
		}
		raw, err := json.Marshal(run)
		if err != nil {
			return err
		}
		ttl, err := tx.TTL(ctx, key).Result()
		if err != nil || ttl <= 0 {
			ttl = s.ttl
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, raw, ttl)
			return nil
		})
		if err == nil {
			out = run
		}
		return err
	}

	for i := 0; i < 3; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return out, err
	}
	return nil, fmt.Errorf("append turn: too much contention on run %s", id)
}

func (s *RedisRunStore) Delete(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, runKey(id)).Err()
}

// ErrStationOutOfRange is returned for turns addressed to a station the run
// does not have.
var ErrStationOutOfRange = errors.New("station index out of range")

func appendTurn(run *models.ExamRun, stationIndex int, turn models.Turn) error {
	if stationIndex < 0 || stationIndex >= len(run.Stations) {
		return ErrStationOutOfRange
	}
	if run.Transcripts == nil {
		run.Transcripts = make(map[int][]models.Turn)
	}
	run.Transcripts[stationIndex] = append(run.Transcripts[stationIndex], turn)
	return nil
}

// MemoryRunStore is the single-process RunStore used when Redis is not
// configured.
type MemoryRunStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	runs map[string]memoryRun
}

type memoryRun struct {
	raw       []byte
	expiresAt time.Time
}

func NewMemoryRunStore(ttl time.Duration) *MemoryRunStore {
	return &MemoryRunStore{ttl: ttl, now: time.Now, runs: make(map[string]memoryRun)}
}

// Runs are copied through JSON so callers never share maps with the store.
func (s *MemoryRunStore) Save(ctx context.Context, run *models.ExamRun) error {
	raw, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweepLocked(now)
	s.runs[run.ID] = memoryRun{raw: raw, expiresAt: now.Add(s.ttl)}
	return nil
}

// sweepLocked drops every expired run, including ones nobody reads again.
func (s *MemoryRunStore) sweepLocked(now time.Time) {
	for id, entry := range s.runs {
		if !now.Before(entry.expiresAt) {
			delete(s.runs, id)
		}
	}
}

// Len reports how many runs are held, expired or not.
func (s *MemoryRunStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

func (s *MemoryRunStore) Get(ctx context.Context, id string) (*models.ExamRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *MemoryRunStore) getLocked(id string) (*models.ExamRun, error) {
	entry, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.runs, id)
		return nil, ErrRunNotFound
	}
	var run models.ExamRun
	if err := json.Unmarshal(entry.raw, &run); err != nil {
		return nil, fmt.Errorf("failed to decode run: %w", err)
	}
	return &run, nil
}

func (s *MemoryRunStore) AppendTurn(ctx context.Context, id string, stationIndex int, turn models.Turn) (*models.ExamRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	if err := appendTurn(run, stationIndex, turn); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(run)
	if err != nil {
		return nil, err
	}
	entry := s.runs[id]
	entry.raw = raw
	s.runs[id] = entry
	return run, nil
}

func (s *MemoryRunStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, id)
	return nil
}
