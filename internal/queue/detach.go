package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/skillgraph/backend/internal/util"
	"github.com/skillgraph/backend/pkg/common"
	"github.com/skillgraph/backend/pkg/leaselock"
	"github.com/skillgraph/backend/pkg/logger"
)

// ErrMalformed marks a message that can never be processed. It skips the
// retry queue.
var ErrMalformed = errors.New("malformed message")

type DetachMessage struct {
	EntityID   string            `json:"entity_id"`
	EntityKind common.EntityKind `json:"entity_kind"`
}

func (m DetachMessage) Ref() common.EntityRef {
	return common.EntityRef{ID: m.EntityID, Kind: m.EntityKind}
}

// Detacher removes every edge that references an entity.
type Detacher interface {
	DetachEntity(ctx context.Context, ref common.EntityRef) (int, error)
}

// Locker serializes work on a key across workers.
type Locker interface {
	WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

func NewDetachMessage(ref common.EntityRef) ([]byte, error) {
	if ref.ID == "" || !ref.Kind.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, ref)
	}
	return json.Marshal(DetachMessage{EntityID: ref.ID, EntityKind: ref.Kind})
}

func ParseDetachMessage(body []byte) (*DetachMessage, error) {
	msg := new(DetachMessage)
	if err := json.Unmarshal(body, msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if msg.EntityID == "" || !msg.EntityKind.IsValid() {
		return nil, fmt.Errorf("%w: missing or unknown entity %q/%q", ErrMalformed, msg.EntityKind, msg.EntityID)
	}
	return msg, nil
}

// PublishDetach enqueues a detach request for ref.
func PublishDetach(ctx context.Context, p Publisher, ref common.EntityRef) error {
	body, err := NewDetachMessage(ref)
	if err != nil {
		return err
	}
	return p.Publish(ctx, DetachQueue, body)
}

// ProcessDetachMessage removes the edges of the entity named in body while
// holding its detach lease. A nil locker runs without a lease.
func ProcessDetachMessage(ctx context.Context, engine Detacher, locker Locker, body []byte) error {
	msg, err := ParseDetachMessage(body)
	if err != nil {
		return err
	}
	ref := msg.Ref()

	detach := func(ctx context.Context) error {
		start := time.Now()
		removed, err := engine.DetachEntity(ctx, ref)
		if err != nil {
			return err
		}
		logger.Info("[Queue] Detach finished", "entity", ref.String(), "removed", removed, "duration", time.Since(start))
		return nil
	}

	if locker == nil {
		return detach(ctx)
	}

	opts := leaselock.Options{
		TTL:          util.GetEnvDuration("DETACH_LEASE_TTL", 2*time.Minute),
		Wait:         true,
		WaitInterval: 500 * time.Millisecond,
		WaitJitter:   250 * time.Millisecond,
		TokenPrefix:  "detach-",
	}
	return locker.WithLease(ctx, leaselock.Key("detach", string(ref.Kind), ref.ID), opts, detach)
}
