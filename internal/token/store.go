package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"presensi/internal/schedule"
)

// Sentinel errors returned by Redeem and Issue. Callers branch on these
// because the client response differs for each (expired means "request a
// new code", already redeemed means "already checked in").
var (
	ErrNotFound        = errors.New("token not found")
	ErrExpired         = errors.New("token expired")
	ErrAlreadyRedeemed = errors.New("token already redeemed")
	ErrInvalidScope    = errors.New("invalid token scope")
	ErrScopeMismatch   = errors.New("token not redeemable by this attendee")
)

// AttendeeType says who a check-in token is for: one student or a whole
// class (class-officer flow).
type AttendeeType string

const (
	AttendeeStudent AttendeeType = "student"
	AttendeeClass   AttendeeType = "class"
)

// Valid returns true when the type is a supported value.
func (t AttendeeType) Valid() bool {
	return t == AttendeeStudent || t == AttendeeClass
}

// Scope bounds what a token may redeem against.
type Scope struct {
	ScheduleID   string       `json:"schedule_id"`
	AttendeeType AttendeeType `json:"attendee_type"`
	IssuerID     string       `json:"issuer_id"`
}

// Token is one issued check-in code. Value is the opaque string handed to
// clients; the rest is bookkeeping. Once Redeemed flips true it never flips
// back.
type Token struct {
	Value      string    `json:"token"`
	Scope      Scope     `json:"scope"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Redeemed   bool      `json:"redeemed"`
	RedeemedBy string    `json:"redeemed_by,omitempty"`
	RedeemedAt time.Time `json:"redeemed_at,omitempty"`
}

const shardCount = 32

// Store hands out check-in tokens and redeems each at most once. Tokens are
// sharded by value so concurrent redemptions of unrelated tokens never
// contend on one lock; all checks and the redeemed-flag flip happen inside
// the owning shard's critical section.
type Store struct {
	schedules  schedule.Resolver
	defaultTTL time.Duration
	minTTL     time.Duration
	maxTTL     time.Duration
	grace      time.Duration
	now        func() time.Time
	shards     [shardCount]*shard
}

type shard struct {
	mu     sync.Mutex
	tokens map[string]*Token
}

// Options tune the store; zero values take the documented defaults.
type Options struct {
	DefaultTTL time.Duration // 15m
	MinTTL     time.Duration // 1m
	MaxTTL     time.Duration // 60m
	Grace      time.Duration // 1h retention past expiry before GC
	Now        func() time.Time
}

// NewStore creates a token store that validates scopes via the resolver.
func NewStore(schedules schedule.Resolver, opts Options) *Store {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 15 * time.Minute
	}
	if opts.MinTTL <= 0 {
		opts.MinTTL = time.Minute
	}
	if opts.MaxTTL <= 0 {
		opts.MaxTTL = time.Hour
	}
	if opts.Grace <= 0 {
		opts.Grace = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Store{
		schedules:  schedules,
		defaultTTL: opts.DefaultTTL,
		minTTL:     opts.MinTTL,
		maxTTL:     opts.MaxTTL,
		grace:      opts.Grace,
		now:        opts.Now,
	}
	for i := range s.shards {
		s.shards[i] = &shard{tokens: make(map[string]*Token)}
	}
	return s
}

// Issue creates a token for the scope. A non-positive ttl takes the default;
// out-of-range ttls are clamped. The schedule must resolve or the request
// fails with ErrInvalidScope.
func (s *Store) Issue(ctx context.Context, scope Scope, ttl time.Duration) (Token, error) {
	if scope.ScheduleID == "" || !scope.AttendeeType.Valid() {
		return Token{}, fmt.Errorf("schedule id and attendee type required: %w", ErrInvalidScope)
	}
	if _, err := s.schedules.Resolve(ctx, scope.ScheduleID); err != nil {
		return Token{}, fmt.Errorf("schedule %q does not resolve: %w", scope.ScheduleID, ErrInvalidScope)
	}

	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if ttl < s.minTTL {
		ttl = s.minTTL
	}
	if ttl > s.maxTTL {
		ttl = s.maxTTL
	}

	value, err := opaque()
	if err != nil {
		return Token{}, err
	}
	now := s.now()
	tok := Token{
		Value:     value,
		Scope:     scope,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	sh := s.shardFor(value)
	sh.mu.Lock()
	sh.tokens[value] = &tok
	sh.mu.Unlock()
	return tok, nil
}

// Redeem atomically consumes a token: existence, expiry, scope and the
// redeemed flag are all checked under the shard lock, so exactly one of N
// concurrent redeemers wins and the rest observe ErrAlreadyRedeemed.
// Student-scoped tokens may only be redeemed by their issuer; the scope
// check happens before the flag flips so a mismatch never burns the token.
func (s *Store) Redeem(value, redeemerID string) (Scope, error) {
	sh := s.shardFor(value)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	tok, ok := sh.tokens[value]
	if !ok {
		return Scope{}, ErrNotFound
	}
	now := s.now()
	if now.After(tok.ExpiresAt) {
		return Scope{}, ErrExpired
	}
	if tok.Redeemed {
		return Scope{}, ErrAlreadyRedeemed
	}
	if tok.Scope.AttendeeType == AttendeeStudent && tok.Scope.IssuerID != redeemerID {
		return Scope{}, ErrScopeMismatch
	}

	tok.Redeemed = true
	tok.RedeemedBy = redeemerID
	tok.RedeemedAt = now
	return tok.Scope, nil
}

// Peek returns a copy of the token without consuming it. Used by the QR
// endpoint to render codes it issued.
func (s *Store) Peek(value string) (Token, error) {
	sh := s.shardFor(value)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	tok, ok := sh.tokens[value]
	if !ok {
		return Token{}, ErrNotFound
	}
	return *tok, nil
}

// Revoke invalidates a token. Idempotent: revoking an unknown, expired or
// redeemed token succeeds.
func (s *Store) Revoke(value string) {
	sh := s.shardFor(value)
	sh.mu.Lock()
	delete(sh.tokens, value)
	sh.mu.Unlock()
}

// PurgeExpired drops tokens past expiry plus the grace period and returns
// how many were removed. Safe to run on a timer; live tokens are untouched.
func (s *Store) PurgeExpired() int {
	cutoff := s.now().Add(-s.grace)
	purged := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for value, tok := range sh.tokens {
			if tok.ExpiresAt.Before(cutoff) {
				delete(sh.tokens, value)
				purged++
			}
		}
		sh.mu.Unlock()
	}
	return purged
}

func (s *Store) shardFor(value string) *shard {
	h := fnv.New32a()
	h.Write([]byte(value))
	return s.shards[h.Sum32()%shardCount]
}

// opaque generates a 128-bit random token value.
func opaque() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token generation failed: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
