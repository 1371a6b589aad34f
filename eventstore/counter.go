package eventstore

import (
	"encoding/binary"

	"github.com/teranos/matrixd/errors"
)

func keyRoomCounter(roomID string) []byte {
	return keyPDUByID(roomID) // room_counter table keyed by bare room_id
}

// nextRoomSeq allocates the next sequence number for roomID. Monotone
// across the whole room regardless of which sender produced the event.
func (s *Store) nextRoomSeq(roomID string) (uint64, error) {
	key := keyRoomCounter(roomID)
	for {
		current, ok, err := s.kv.Get(tableRoomCounter, key)
		if err != nil {
			return 0, err
		}

		var next uint64
		var old []byte
		if ok {
			next = binary.BigEndian.Uint64(current) + 1
			old = current
		} else {
			next = 1
		}

		swapped, err := s.kv.CompareAndSwap(tableRoomCounter, key, old, seqBytes(next))
		if err != nil {
			return 0, errors.WithKind(errors.Wrap(err, "advance room sequence counter"), errors.KindStorageFailed)
		}
		if swapped {
			return next, nil
		}
	}
}
