package stateengine

import "github.com/teranos/matrixd/errors"

// nextGroupID allocates the next state-group ID. The counter is a u64
// persisted in the KV store and advanced with compare-and-swap so
// concurrent appends in different rooms never allocate the same group.
// It never recycles; a failed transaction simply leaves a hole.
func (e *Engine) nextGroupID() (uint64, error) {
	for {
		current, ok, err := e.store.Get(tableGroupCtr, groupCounterKey)
		if err != nil {
			return 0, err
		}

		var next uint64
		var old []byte
		if ok {
			next = groupIDFromBytes(current) + 1
			old = current
		} else {
			next = 1
			old = nil
		}

		swapped, err := e.store.CompareAndSwap(tableGroupCtr, groupCounterKey, old, groupIDBytes(next))
		if err != nil {
			return 0, errors.WithKind(errors.Wrap(err, "advance state group counter"), errors.KindStorageFailed)
		}
		if swapped {
			return next, nil
		}
		// lost the race to another allocator; retry with the fresh value
	}
}
