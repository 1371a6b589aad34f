package federation

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/teranos/matrixd/eventstore"
	"github.com/teranos/matrixd/pdu"
	"github.com/teranos/matrixd/retryqueue"
	"github.com/teranos/matrixd/stateengine"
)

// Dispatcher packages locally accepted PDUs into outbound federation
// transactions and hands them to a retry queue, one transaction per
// destination server currently joined to the event's room.
type Dispatcher struct {
	store  *eventstore.Store
	queue  *retryqueue.Queue
	origin string
}

// NewDispatcher constructs a Dispatcher relaying events to every remote
// server with a joined member in the room, excluding origin itself.
func NewDispatcher(store *eventstore.Store, queue *retryqueue.Queue, origin string) *Dispatcher {
	return &Dispatcher{store: store, queue: queue, origin: origin}
}

// Dispatch fans event out to every remote destination server that has at
// least one joined member in event.RoomID, skipping this server and
// skipping excludeOrigin (typically the server that just sent it to us,
// which has no need to receive it back).
func (d *Dispatcher) Dispatch(ctx context.Context, event *pdu.PDU, excludeOrigin string) error {
	state, err := d.store.CurrentState(event.RoomID)
	if err != nil {
		return err
	}

	destinations := d.remoteServersJoined(state, excludeOrigin)
	if len(destinations) == 0 {
		return nil
	}

	raw, err := pdu.Encode(event)
	if err != nil {
		return err
	}

	for _, dest := range destinations {
		d.queue.Enqueue(&retryqueue.Transaction{
			ID:          uuid.New().String(),
			Destination: dest,
			PDUs:        [][]byte{raw},
		})
	}
	return nil
}

// remoteServersJoined collects the distinct server names with a currently
// joined m.room.member entry in state, excluding self and skip.
func (d *Dispatcher) remoteServersJoined(state stateengine.StateMap, skip string) []string {
	seen := map[string]bool{d.origin: true}
	if skip != "" {
		seen[skip] = true
	}

	var out []string
	for key, eventID := range state {
		if key.EventType != "m.room.member" {
			continue
		}
		server := serverOf(key.StateKey)
		if server == "" || seen[server] {
			continue
		}

		member, ok, err := d.store.GetEvent(eventID)
		if err != nil || !ok {
			continue
		}
		var content struct {
			Membership string `json:"membership"`
		}
		if err := json.Unmarshal(member.Content, &content); err != nil || content.Membership != "join" {
			continue
		}

		seen[server] = true
		out = append(out, server)
	}
	return out
}

func serverOf(userID string) string {
	idx := strings.LastIndex(userID, ":")
	if idx < 0 || idx == len(userID)-1 {
		return ""
	}
	return userID[idx+1:]
}
