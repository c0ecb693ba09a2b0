package auth

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	nonceKeyPrefix    = "nonce:"
	observedKeyPrefix = "observed:"
)

var errNoLevelDB = errors.New("auth: leveldb nonce store not open")

// LevelDBNonces persists nonce usage in LevelDB. Each nonce is stored twice:
// once by identity for lookups and once under its observation time so pruning
// and hydration are ordered range scans.
type LevelDBNonces struct {
	db *leveldb.DB
}

// OpenLevelDBNonces opens (or creates) the nonce database at path.
func OpenLevelDBNonces(path string) (*LevelDBNonces, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("auth: leveldb nonce path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("auth: resolve nonce path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: open nonce store: %w", err)
	}
	return &LevelDBNonces{db: db}, nil
}

// Close releases the database.
func (p *LevelDBNonces) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// EnsureNonce records the nonce and reports whether it already existed.
func (p *LevelDBNonces) EnsureNonce(ctx context.Context, record NonceRecord) (bool, error) {
	if p == nil || p.db == nil {
		return false, errNoLevelDB
	}
	if record.Account == "" || record.Timestamp == "" || record.Nonce == "" {
		return false, fmt.Errorf("auth: nonce record incomplete")
	}
	observed := record.ObservedAt.UTC()
	if observed.IsZero() {
		observed = time.Now().UTC()
	}
	composite := strings.Join([]string{record.Account, record.Timestamp, record.Nonce}, "|")
	idKey := []byte(nonceKeyPrefix + composite)

	prev, err := p.db.Get(idKey, nil)
	if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return false, fmt.Errorf("auth: load nonce: %w", err)
	}
	existed := err == nil
	nanos := observed.UnixNano()

	batch := new(leveldb.Batch)
	if existed {
		prevNanos := int64(binary.BigEndian.Uint64(prev))
		if nanos <= prevNanos {
			return true, nil
		}
		batch.Delete(observedKey(prevNanos, composite))
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(nanos))
	batch.Put(idKey, buf)
	batch.Put(observedKey(nanos, composite), nil)
	if err := p.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("auth: record nonce: %w", err)
	}
	return existed, nil
}

// RecentNonces returns nonces observed at or after cutoff.
func (p *LevelDBNonces) RecentNonces(ctx context.Context, cutoff time.Time) ([]NonceRecord, error) {
	if p == nil || p.db == nil {
		return nil, errNoLevelDB
	}
	iter := p.db.NewIterator(util.BytesPrefix([]byte(observedKeyPrefix)), nil)
	defer iter.Release()

	var records []NonceRecord
	for ok := iter.Seek(observedKey(cutoff.UTC().UnixNano(), "")); ok; ok = iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		composite, nanos, ok := parseObservedKey(iter.Key())
		if !ok {
			continue
		}
		parts := strings.SplitN(composite, "|", 3)
		if len(parts) != 3 {
			continue
		}
		records = append(records, NonceRecord{
			Account:    parts[0],
			Timestamp:  parts[1],
			Nonce:      parts[2],
			ObservedAt: time.Unix(0, nanos).UTC(),
		})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("auth: scan nonces: %w", err)
	}
	return records, nil
}

// PruneNonces deletes nonces observed before cutoff.
func (p *LevelDBNonces) PruneNonces(ctx context.Context, cutoff time.Time) error {
	if p == nil || p.db == nil {
		return errNoLevelDB
	}
	limit := observedKey(cutoff.UTC().UnixNano(), "")
	iter := p.db.NewIterator(&util.Range{Start: []byte(observedKeyPrefix), Limit: limit}, nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		composite, _, ok := parseObservedKey(iter.Key())
		if !ok {
			continue
		}
		batch.Delete(bytes.Clone(iter.Key()))
		batch.Delete([]byte(nonceKeyPrefix + composite))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("auth: scan nonces: %w", err)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := p.db.Write(batch, nil); err != nil {
		return fmt.Errorf("auth: prune nonces: %w", err)
	}
	return nil
}

// observedKey orders entries by time; nanoseconds are zero padded so
// lexicographic and numeric order agree.
func observedKey(nanos int64, composite string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", observedKeyPrefix, nanos, composite))
}

func parseObservedKey(key []byte) (string, int64, bool) {
	parts := strings.SplitN(string(key), ":", 3)
	if len(parts) != 3 {
		return "", 0, false
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return parts[2], nanos, true
}

var _ NoncePersistence = (*LevelDBNonces)(nil)
