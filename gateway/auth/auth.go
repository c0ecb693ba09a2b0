// Package auth verifies signed participant requests. Callers sign a digest of
// the request with their account key; the gateway recovers the signer and uses
// it as the caller identity for ledger operations.
package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"openrate/crypto"
)

const (
	// HeaderAddress carries the caller's bech32 account address.
	HeaderAddress = "X-Address"
	// HeaderTimestamp is the unix timestamp (seconds) used when signing the request.
	HeaderTimestamp = "X-Timestamp"
	// HeaderNonce provides replay protection when combined with the timestamp.
	HeaderNonce = "X-Nonce"
	// HeaderSignature carries the hex-encoded 65-byte recoverable signature.
	HeaderSignature = "X-Signature"
	// MaxBodyForSignature is the maximum body size hashed when authenticating.
	MaxBodyForSignature int = 1 << 20

	maxAllowedTimestampSkew  = 2 * time.Minute
	defaultTimestampSkew     = maxAllowedTimestampSkew
	maxNonceWindow           = 10 * time.Minute
	defaultNonceWindow       = maxNonceWindow
	defaultNonceCapacity     = 4096
	maxNonceCapacity         = 65536
	persistencePruneInterval = time.Minute
)

var (
	ErrMissingHeader     = errors.New("auth: missing signature header")
	ErrBodyTooLarge      = errors.New("auth: request body too large to sign")
	ErrTimestampSkew     = errors.New("auth: timestamp outside allowed skew")
	ErrBadSignature      = errors.New("auth: invalid signature")
	ErrSignerMismatch    = errors.New("auth: signature does not match address")
	ErrNonceReused       = errors.New("auth: nonce already used")
	ErrTimestampReplayed = errors.New("auth: timestamp not increasing")
)

// Caller is an authenticated participant.
type Caller struct {
	Account [20]byte
}

// Address renders the caller's bech32 account address.
func (c Caller) Address() string { return crypto.AccountAddress(c.Account).String() }

// NonceRecord captures persisted nonce usage metadata.
type NonceRecord struct {
	Account    string
	Timestamp  string
	Nonce      string
	ObservedAt time.Time
}

// NoncePersistence provides durable storage for nonce usage so replay
// protection survives restarts.
type NoncePersistence interface {
	EnsureNonce(ctx context.Context, record NonceRecord) (bool, error)
	RecentNonces(ctx context.Context, cutoff time.Time) ([]NonceRecord, error)
	PruneNonces(ctx context.Context, cutoff time.Time) error
}

// Config tunes the replay windows.
type Config struct {
	TimestampSkew time.Duration
	NonceTTL      time.Duration
	NonceCapacity int
}

// Authenticator verifies secp256k1 request signatures.
type Authenticator struct {
	skew          time.Duration
	nonceTTL      time.Duration
	nonceCapacity int
	nowFn         func() time.Time

	nonceMu sync.Mutex
	nonces  map[string]*nonceStore

	lastSeenMu sync.Mutex
	lastSeen   map[string]int64

	persistence NoncePersistence
	pruneMu     sync.Mutex
	lastPruned  time.Time
}

// NewAuthenticator builds an Authenticator. Windows above the hard maximums
// are clamped.
func NewAuthenticator(cfg Config, nowFn func() time.Time, persistence NoncePersistence) *Authenticator {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Authenticator{
		skew:          clampDuration(cfg.TimestampSkew, defaultTimestampSkew, maxAllowedTimestampSkew),
		nonceTTL:      clampDuration(cfg.NonceTTL, defaultNonceWindow, maxNonceWindow),
		nonceCapacity: clampInt(cfg.NonceCapacity, defaultNonceCapacity, maxNonceCapacity),
		nowFn:         nowFn,
		nonces:        make(map[string]*nonceStore),
		lastSeen:      make(map[string]int64),
		persistence:   persistence,
	}
}

func clampDuration(v, def, max time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

func clampInt(v, def, max int) int {
	if v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

// Authenticate validates the signature headers against body and returns the
// recovered caller.
func (a *Authenticator) Authenticate(r *http.Request, body []byte) (*Caller, error) {
	if len(body) > MaxBodyForSignature {
		return nil, ErrBodyTooLarge
	}
	address := strings.TrimSpace(r.Header.Get(HeaderAddress))
	timestamp := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
	signature := strings.TrimSpace(r.Header.Get(HeaderSignature))
	for name, value := range map[string]string{
		HeaderAddress:   address,
		HeaderTimestamp: timestamp,
		HeaderNonce:     nonce,
		HeaderSignature: signature,
	} {
		if value == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingHeader, name)
		}
	}
	claimed, err := crypto.ParseAccount(address)
	if err != nil {
		return nil, fmt.Errorf("auth: invalid address: %w", err)
	}
	ts, err := parseUnixTimestamp(timestamp)
	if err != nil {
		return nil, fmt.Errorf("auth: invalid timestamp: %w", err)
	}
	now := a.nowFn().UTC()
	drift := now.Sub(ts)
	if drift < 0 {
		drift = -drift
	}
	if drift > a.skew {
		return nil, fmt.Errorf("%w of %s", ErrTimestampSkew, a.skew)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	digest := ComputeDigest(timestamp, nonce, r.Method, CanonicalRequestPath(r), body)
	signer, err := crypto.RecoverAccount(digest, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if signer != claimed {
		return nil, ErrSignerMismatch
	}

	account := hex.EncodeToString(signer[:])
	if a.isTimestampReplay(account, ts, now) {
		return nil, ErrTimestampReplayed
	}
	duplicate, err := a.registerNonce(r.Context(), account, timestamp, nonce, now)
	if err != nil {
		return nil, err
	}
	if duplicate {
		return nil, ErrNonceReused
	}
	a.recordTimestamp(account, ts, now)
	return &Caller{Account: signer}, nil
}

// HydrateNonces warms the in-memory cache with persisted nonce usage records.
func (a *Authenticator) HydrateNonces(ctx context.Context, cutoff time.Time) error {
	if a == nil || a.persistence == nil {
		return nil
	}
	records, err := a.persistence.RecentNonces(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("load persistent nonces: %w", err)
	}
	for _, rec := range records {
		if rec.Account == "" || rec.Timestamp == "" || rec.Nonce == "" {
			continue
		}
		observed := rec.ObservedAt
		if observed.IsZero() {
			observed = cutoff
		}
		a.nonceStore(rec.Account).Add(rec.Timestamp+"|"+rec.Nonce, observed)
	}
	return nil
}

// NonceTTL reports the replay window in force.
func (a *Authenticator) NonceTTL() time.Duration { return a.nonceTTL }

func (a *Authenticator) registerNonce(ctx context.Context, account, timestamp, nonce string, now time.Time) (bool, error) {
	cache := a.nonceStore(account)
	composite := timestamp + "|" + nonce
	if cache.Contains(composite, now) {
		return true, nil
	}
	if a.persistence != nil {
		if err := a.prunePersistent(ctx, now); err != nil {
			return false, err
		}
		existed, err := a.persistence.EnsureNonce(ctx, NonceRecord{
			Account:    account,
			Timestamp:  timestamp,
			Nonce:      nonce,
			ObservedAt: now,
		})
		if err != nil {
			return false, fmt.Errorf("persist nonce: %w", err)
		}
		if existed {
			cache.Add(composite, now)
			return true, nil
		}
	}
	cache.Add(composite, now)
	return false, nil
}

func (a *Authenticator) prunePersistent(ctx context.Context, now time.Time) error {
	a.pruneMu.Lock()
	defer a.pruneMu.Unlock()
	if !a.lastPruned.IsZero() && now.Sub(a.lastPruned) < persistencePruneInterval {
		return nil
	}
	if err := a.persistence.PruneNonces(ctx, now.Add(-a.nonceTTL)); err != nil {
		return fmt.Errorf("prune persistent nonces: %w", err)
	}
	a.lastPruned = now
	return nil
}

// isTimestampReplay rejects timestamps that do not advance past the caller's
// last accepted request inside the skew window.
func (a *Authenticator) isTimestampReplay(account string, ts time.Time, now time.Time) bool {
	cutoff := now.Add(-a.skew).Unix()
	current := ts.Unix()

	a.lastSeenMu.Lock()
	defer a.lastSeenMu.Unlock()

	last, ok := a.lastSeen[account]
	return ok && last > cutoff && current < last
}

func (a *Authenticator) recordTimestamp(account string, ts time.Time, now time.Time) {
	cutoff := now.Add(-a.skew).Unix()
	current := ts.Unix()

	a.lastSeenMu.Lock()
	defer a.lastSeenMu.Unlock()

	last, ok := a.lastSeen[account]
	if !ok || current > last || last <= cutoff {
		a.lastSeen[account] = current
	}
}

func (a *Authenticator) nonceStore(account string) *nonceStore {
	a.nonceMu.Lock()
	defer a.nonceMu.Unlock()
	cache, ok := a.nonces[account]
	if !ok {
		cache = newNonceStore(a.nonceTTL, a.nonceCapacity)
		a.nonces[account] = cache
	}
	return cache
}

// CanonicalRequestPath normalises URL paths and query ordering for signing.
func CanonicalRequestPath(r *http.Request) string {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	if r.URL.RawQuery != "" {
		path += "?" + CanonicalQuery(r.URL.RawQuery)
	}
	return path
}

// CanonicalQuery sorts raw query parameters.
func CanonicalQuery(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	sort.Strings(parts)
	return strings.Join(parts, "&")
}

// ComputeDigest hashes the signed request fields.
func ComputeDigest(timestamp, nonce, method, path string, body []byte) [32]byte {
	payload := strings.Join([]string{timestamp, nonce, strings.ToUpper(method), path, string(body)}, "\n")
	return crypto.Keccak256([]byte(payload))
}

// SignRequest sets the signature headers on r for the given body.
func SignRequest(r *http.Request, key *crypto.PrivateKey, body []byte, ts time.Time, nonce string) error {
	timestamp := strconv.FormatInt(ts.Unix(), 10)
	digest := ComputeDigest(timestamp, nonce, r.Method, CanonicalRequestPath(r), body)
	sig, err := key.SignDigest(digest)
	if err != nil {
		return err
	}
	r.Header.Set(HeaderAddress, key.Address().String())
	r.Header.Set(HeaderTimestamp, timestamp)
	r.Header.Set(HeaderNonce, nonce)
	r.Header.Set(HeaderSignature, hex.EncodeToString(sig))
	return nil
}

func parseUnixTimestamp(v string) (time.Time, error) {
	secs, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}
