package propagation

import (
	"context"
	"errors"
	"fmt"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	coreerr "github.com/aevon-lab/sliceflow/internal/core/errors"
	"github.com/aevon-lab/sliceflow/internal/core/storage"
	"github.com/aevon-lab/sliceflow/internal/outbox"
)

// OutboxListener turns persisted slices into SliceUpdated outbox entries.
// Entry ids derive from the slice identity, so repeated notifications of one
// slice version enqueue it once.
type OutboxListener struct {
	store storage.OutboxStore
}

func NewOutboxListener(store storage.OutboxStore) *OutboxListener {
	return &OutboxListener{store: store}
}

// SlicesUpdated enqueues one SliceUpdated entry per slice.
func (l *OutboxListener) SlicesUpdated(ctx context.Context, slices []*v1.Slice) error {
	entries := make([]*v1.OutboxEntry, 0, len(slices))
	for _, s := range slices {
		e, err := outbox.NewEntry(v1.AggregateSlice, s.EntityKey, v1.EventSliceUpdated, v1.SliceUpdated{
			TenantID:  s.TenantID,
			EntityKey: s.EntityKey,
			SliceType: s.SliceType,
			Version:   s.Version,
		})
		if err != nil {
			return err
		}
		e.ID = outbox.DerivedID(v1.EventSliceUpdated, s.TenantID, s.EntityKey, s.SliceType, fmt.Sprint(s.Version))
		entries = append(entries, e)
	}

	if err := l.store.InsertOutbox(ctx, entries...); err != nil && !errors.Is(err, storage.ErrDuplicate) {
		return coreerr.NewStorageError("insert slice outbox entries", err)
	}
	return nil
}
