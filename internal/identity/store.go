package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Record is the server-side state of one pending challenge.
type Record struct {
	Phone     string    `json:"phone"`
	CodeHash  []byte    `json:"codeHash"`
	ExpiresAt time.Time `json:"expiresAt"`
	Attempts  int       `json:"attempts"`
}

// ChallengeStore keeps pending challenges until they expire.
type ChallengeStore interface {
	Put(ctx context.Context, id string, rec *Record, ttl time.Duration) error
	// Get returns nil without error when the challenge is unknown or expired.
	Get(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
}

// MemoryChallengeStore keeps challenges in process memory.
type MemoryChallengeStore struct {
	c *gocache.Cache
}

var _ ChallengeStore = (*MemoryChallengeStore)(nil)

func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{c: gocache.New(5*time.Minute, time.Minute)}
}

func (s *MemoryChallengeStore) Put(ctx context.Context, id string, rec *Record, ttl time.Duration) error {
	cp := *rec
	s.c.Set(id, &cp, ttl)
	return nil
}

func (s *MemoryChallengeStore) Get(ctx context.Context, id string) (*Record, error) {
	v, ok := s.c.Get(id)
	if !ok {
		return nil, nil
	}
	cp := *v.(*Record)
	return &cp, nil
}

func (s *MemoryChallengeStore) Delete(ctx context.Context, id string) error {
	s.c.Delete(id)
	return nil
}

// RedisChallengeStore keeps challenges as JSON strings with a Redis TTL, so
// any server instance can confirm a code another one sent.
type RedisChallengeStore struct {
	client *redis.Client
	prefix string
}

var _ ChallengeStore = (*RedisChallengeStore)(nil)

func NewRedisChallengeStore(client *redis.Client, prefix string) *RedisChallengeStore {
	if prefix == "" {
		prefix = "loanflow:otp:"
	}
	return &RedisChallengeStore{client: client, prefix: prefix}
}

func (s *RedisChallengeStore) Put(ctx context.Context, id string, rec *Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding challenge: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+id, string(data), ttl).Err(); err != nil {
		return fmt.Errorf("storing challenge: %w", err)
	}
	return nil
}

func (s *RedisChallengeStore) Get(ctx context.Context, id string) (*Record, error) {
	data, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading challenge: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding challenge: %w", err)
	}
	return &rec, nil
}

func (s *RedisChallengeStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.prefix+id).Err(); err != nil {
		return fmt.Errorf("deleting challenge: %w", err)
	}
	return nil
}
