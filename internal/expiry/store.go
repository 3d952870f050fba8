package expiry

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	pebblestore "github.com/averlane/courier/internal/storage/pebble"
)

// Status is the lifecycle state of a time-bounded entity.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// ErrNotFound reports a lookup of an unknown entity.
var ErrNotFound = errors.New("expiry: entity not found")

// Record is one entity with a lifetime, e.g. an ephemeral story post.
type Record struct {
	ID        string `json:"id"`
	Status    Status `json:"status"`
	ExpiresMs int64  `json:"expires_ms"`
}

const (
	recordPrefix = "exp/entity/"
	indexPrefix  = "exp/idx/"
)

func recordKey(id string) []byte { return []byte(recordPrefix + id) }

func indexKey(expiresMs int64, id string) []byte {
	k := make([]byte, 0, len(indexPrefix)+8+len(id))
	k = append(k, indexPrefix...)
	k = binary.BigEndian.AppendUint64(k, uint64(expiresMs))
	k = append(k, id...)
	return k
}

// Store persists expirable entities plus an expiry-ordered index so the sweep
// reads only what is due.
type Store struct {
	db     *pebblestore.DB
	logger *zap.Logger
}

// NewStore wires a store over the shared database.
func NewStore(db *pebblestore.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger.With(zap.String("component", "expiry"))}
}

// Put upserts a record. Active records are indexed by expiry time; expired
// records carry no index entry.
func (s *Store) Put(ctx context.Context, rec Record) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "expiry: encode record")
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(recordKey(rec.ID), val, nil); err != nil {
		return err
	}
	if rec.Status == StatusActive {
		if err := b.Set(indexKey(rec.ExpiresMs, rec.ID), nil, nil); err != nil {
			return err
		}
	}
	return s.db.CommitBatch(ctx, b)
}

// Get loads a record by id.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	val, err := s.db.Get(recordKey(id))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return Record{}, errors.Wrapf(ErrNotFound, "id %s", id)
		}
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return Record{}, errors.Wrap(err, "expiry: decode record")
	}
	return rec, nil
}

// Sweep transitions every active record whose expiry has passed to expired and
// returns how many it transitioned. Records already expired, or with expiry in
// the future, are untouched, so repeated sweeps over the same instant converge
// to zero. If nowMs <= 0, time.Now().UnixMilli() is used.
func (s *Store) Sweep(ctx context.Context, nowMs int64) (int, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}

	lo := []byte(indexPrefix)
	hi := append([]byte(indexPrefix), 0xFF)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	b := s.db.NewBatch()
	defer b.Close()

	swept := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		k := iter.Key()
		if len(k) < len(indexPrefix)+8 {
			continue
		}
		expMs := int64(binary.BigEndian.Uint64(k[len(indexPrefix) : len(indexPrefix)+8]))
		if expMs > nowMs {
			break
		}
		id := string(k[len(indexPrefix)+8:])

		_ = b.Delete(k, nil)
		val, errGet := s.db.Get(recordKey(id))
		if errGet != nil {
			// Entity deleted out of band; index entry was stale.
			continue
		}
		var rec Record
		if errDec := json.Unmarshal(val, &rec); errDec != nil || rec.Status != StatusActive {
			continue
		}
		rec.Status = StatusExpired
		updated, errEnc := json.Marshal(rec)
		if errEnc != nil {
			continue
		}
		if err := b.Set(recordKey(id), updated, nil); err != nil {
			return swept, err
		}
		swept++
	}

	if err := s.db.CommitBatch(ctx, b); err != nil {
		return 0, err
	}
	if swept > 0 {
		s.logger.Info("expired entities", zap.Int("count", swept))
	}
	return swept, nil
}
