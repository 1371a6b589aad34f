package stateengine

import (
	"go.uber.org/zap"

	"github.com/teranos/matrixd/errors"
	"github.com/teranos/matrixd/kv"
)

// DeltaThreshold is the maximum delta-chain depth: NewStateGroup stores a
// delta against its base group until the base's chain is this many deltas
// deep, then writes a fresh full materialization instead, which bounds how
// many groups Materialize walks.
const DeltaThreshold = 100

// Engine owns the state-group subsystem: allocation of new groups (full or
// delta-encoded), materialization, and the event-to-group index that lets
// get_state_group_ids locate a prev-event's state.
type Engine struct {
	store  *kv.Store
	logger *zap.SugaredLogger
}

// New constructs a state engine over an already-open KV store.
func New(store *kv.Store, log *zap.SugaredLogger) *Engine {
	return &Engine{store: store, logger: log}
}

const (
	metaFull  byte = 0
	metaDelta byte = 1
)

func encodeMeta(base *uint64) []byte {
	if base == nil {
		return []byte{metaFull}
	}
	return append([]byte{metaDelta}, groupIDBytes(*base)...)
}

func decodeMeta(b []byte) (isDelta bool, base uint64, err error) {
	if len(b) == 0 {
		return false, 0, errors.NewKind(errors.KindStorageFailed, "empty state group metadata")
	}
	switch b[0] {
	case metaFull:
		return false, 0, nil
	case metaDelta:
		if len(b) != 9 {
			return false, 0, errors.NewKind(errors.KindStorageFailed, "malformed delta group metadata")
		}
		return true, groupIDFromBytes(b[1:]), nil
	default:
		return false, 0, errors.NewKindf(errors.KindStorageFailed, "unknown state group metadata tag %d", b[0])
	}
}
