package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"tutoring-booking/internal/data/entity"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	pendingSessionKeyPrefix = "pending:session:"
	pendingBookingKeyPrefix = "pending:booking:"
	pendingClearedKeyPrefix = "pending:cleared:"
)

func pendingSessionKey(sessionRef string) string {
	return pendingSessionKeyPrefix + sessionRef
}

func pendingBookingKey(bookingID uuid.UUID) string {
	return pendingBookingKeyPrefix + bookingID.String()
}

// pendingClearedKey marks a booking whose reference was cleared. Read-through
// stores skip bookings carrying it.
func pendingClearedKey(bookingID uuid.UUID) string {
	return pendingClearedKeyPrefix + bookingID.String()
}

// cachedPendingReferenceRepository mirrors references into redis so return
// legs resolve without a database round trip. Postgres stays authoritative:
// every cache failure falls through to the wrapped repository.
type cachedPendingReferenceRepository struct {
	next   PendingReferenceRepository
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewCachedPendingReferenceRepository(next PendingReferenceRepository, client *redis.Client, ttl time.Duration, log *zap.Logger) PendingReferenceRepository {
	return &cachedPendingReferenceRepository{
		next:   next,
		client: client,
		ttl:    ttl,
		log:    log.With(zap.String("repository", "pending_reference_cache")),
	}
}

func (r *cachedPendingReferenceRepository) Record(ctx context.Context, bookingID uuid.UUID, sessionRef string) (*entity.PendingReference, error) {
	// A replaced reference must stop resolving.
	if prev, err := r.next.ResolveByBooking(ctx, bookingID); err == nil && prev.SessionRef != sessionRef {
		r.evict(ctx, pendingSessionKey(prev.SessionRef))
	}

	ref, err := r.next.Record(ctx, bookingID, sessionRef)
	if err != nil {
		return nil, err
	}
	r.storeRecorded(ctx, ref)
	return ref, nil
}

func (r *cachedPendingReferenceRepository) ResolveBySession(ctx context.Context, sessionRef string) (*entity.PendingReference, error) {
	if ref, ok := r.load(ctx, pendingSessionKey(sessionRef)); ok {
		return ref, nil
	}
	ref, err := r.next.ResolveBySession(ctx, sessionRef)
	if err != nil {
		return nil, err
	}
	r.storeResolved(ctx, ref)
	return ref, nil
}

func (r *cachedPendingReferenceRepository) ResolveByBooking(ctx context.Context, bookingID uuid.UUID) (*entity.PendingReference, error) {
	if ref, ok := r.load(ctx, pendingBookingKey(bookingID)); ok {
		return ref, nil
	}
	ref, err := r.next.ResolveByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	r.storeResolved(ctx, ref)
	return ref, nil
}

func (r *cachedPendingReferenceRepository) Clear(ctx context.Context, bookingID uuid.UUID) error {
	ref, lookupErr := r.next.ResolveByBooking(ctx, bookingID)

	if err := r.next.Clear(ctx, bookingID); err != nil {
		return err
	}

	keys := []string{pendingBookingKey(bookingID)}
	if lookupErr == nil {
		keys = append(keys, pendingSessionKey(ref.SessionRef))
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, pendingClearedKey(bookingID), 1, r.ttl)
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		r.log.Warn("Failed to evict pending reference cache entries",
			zap.Error(err),
			zap.Strings("keys", keys),
		)
	}
	return nil
}

func (r *cachedPendingReferenceRepository) load(ctx context.Context, key string) (*entity.PendingReference, bool) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn("Pending reference cache read failed, falling back to database",
				zap.Error(err),
				zap.String("key", key),
			)
		}
		return nil, false
	}

	var ref entity.PendingReference
	if err := json.Unmarshal(raw, &ref); err != nil {
		r.log.Warn("Dropping corrupt pending reference cache entry",
			zap.Error(err),
			zap.String("key", key),
		)
		r.evict(ctx, key)
		return nil, false
	}
	return &ref, true
}

// storeRecorded mirrors a freshly written reference and lifts any earlier
// clear marker for the booking.
func (r *cachedPendingReferenceRepository) storeRecorded(ctx context.Context, ref *entity.PendingReference) {
	data, err := json.Marshal(ref)
	if err != nil {
		r.log.Warn("Failed to encode pending reference", zap.Error(err))
		return
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, pendingClearedKey(ref.BookingID))
		pipe.Set(ctx, pendingSessionKey(ref.SessionRef), data, r.ttl)
		pipe.Set(ctx, pendingBookingKey(ref.BookingID), data, r.ttl)
		return nil
	})
	if err != nil {
		r.log.Warn("Failed to mirror pending reference to cache",
			zap.Error(err),
			zap.String("booking_id", ref.BookingID.String()),
		)
	}
}

// storeResolved mirrors a reference read from the database. The read may
// predate a concurrent Clear, so the write watches the clear marker and is
// dropped once the marker exists.
func (r *cachedPendingReferenceRepository) storeResolved(ctx context.Context, ref *entity.PendingReference) {
	data, err := json.Marshal(ref)
	if err != nil {
		r.log.Warn("Failed to encode pending reference", zap.Error(err))
		return
	}

	cleared := pendingClearedKey(ref.BookingID)
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, cleared).Result()
		if err != nil || n > 0 {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, pendingSessionKey(ref.SessionRef), data, r.ttl)
			pipe.Set(ctx, pendingBookingKey(ref.BookingID), data, r.ttl)
			return nil
		})
		return err
	}, cleared)
	if errors.Is(err, redis.TxFailedErr) {
		r.log.Debug("Skipped mirroring pending reference cleared meanwhile",
			zap.String("booking_id", ref.BookingID.String()),
		)
		return
	}
	if err != nil {
		r.log.Warn("Failed to mirror pending reference to cache",
			zap.Error(err),
			zap.String("booking_id", ref.BookingID.String()),
		)
	}
}

func (r *cachedPendingReferenceRepository) evict(ctx context.Context, keys ...string) {
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		r.log.Warn("Failed to evict pending reference cache entries",
			zap.Error(err),
			zap.Strings("keys", keys),
		)
	}
}

