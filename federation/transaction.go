package federation

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/matrixd/errors"
	"github.com/teranos/matrixd/eventstore"
	"github.com/teranos/matrixd/pdu"
	"github.com/teranos/matrixd/resolve"
	"github.com/teranos/matrixd/stateengine"
)

// Processor ingests inbound federation transactions into the local event
// store, resolving conflicting state where the sender's view of a room
// disagrees with ours.
type Processor struct {
	store      *eventstore.Store
	keyring    *Keyring
	client     *Client
	dispatcher *Dispatcher
	logger     *zap.SugaredLogger

	roomLocksMu sync.Mutex
	roomLocks   map[string]*sync.Mutex
}

// NewProcessor constructs a transaction processor over store, verifying
// signatures via keyring and fetching remote state/backfill via client.
func NewProcessor(store *eventstore.Store, keyring *Keyring, client *Client, log *zap.SugaredLogger) *Processor {
	return &Processor{store: store, keyring: keyring, client: client, logger: log, roomLocks: make(map[string]*sync.Mutex)}
}

// SetDispatcher wires a Dispatcher so accepted events are relayed to other
// remote servers already joined to the room. Processing works without one;
// it just skips the relay fan-out.
func (p *Processor) SetDispatcher(d *Dispatcher) {
	p.dispatcher = d
}

func (p *Processor) roomLock(roomID string) *sync.Mutex {
	p.roomLocksMu.Lock()
	defer p.roomLocksMu.Unlock()
	lock, ok := p.roomLocks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		p.roomLocks[roomID] = lock
	}
	return lock
}

// PDUResult is the per-event outcome reported in a transaction's response,
// keyed by event ID. A non-empty Error mirrors the Matrix federation
// transaction response shape: {"pdus": {"$id": {"error": "..."}}}.
type PDUResult struct {
	Error string `json:"error,omitempty"`
}

// ProcessTransaction processes each PDU in raws independently: a failure
// on one event never aborts processing of the others. Per-room
// serialization is provided by roomLock, keyed by the event's room_id
// rather than a lock held for the whole transaction.
func (p *Processor) ProcessTransaction(ctx context.Context, origin string, raws []json.RawMessage) map[string]PDUResult {
	results := make(map[string]PDUResult, len(raws))

	for _, raw := range raws {
		event, err := pdu.Decode(raw)
		if err != nil {
			if p.logger != nil {
				p.logger.Warnw("rejecting malformed inbound pdu", "origin", origin, "error", err)
			}
			continue
		}
		if event.EventID == "" {
			if _, err := pdu.AssignEventID(event); err != nil {
				continue
			}
		}

		if err := p.processOne(ctx, origin, event); err != nil {
			if p.logger != nil {
				p.logger.Warnw("inbound pdu processing failed",
					"origin", origin, "event_id", event.EventID, "room_id", event.RoomID, "error", err)
			}
			results[event.EventID] = PDUResult{Error: err.Error()}
			continue
		}
		results[event.EventID] = PDUResult{}

		if p.dispatcher != nil {
			if err := p.dispatcher.Dispatch(ctx, event, origin); err != nil && p.logger != nil {
				p.logger.Warnw("relay dispatch failed", "event_id", event.EventID, "room_id", event.RoomID, "error", err)
			}
		}
	}

	return results
}

func (p *Processor) processOne(ctx context.Context, origin string, event *pdu.PDU) error {
	lock := p.roomLock(event.RoomID)
	lock.Lock()
	defer lock.Unlock()

	if err := pdu.Verify(event, p.keyring.Fetch); err != nil {
		return err
	}

	if err := p.checkSenderJoined(event); err != nil {
		return err
	}

	if !event.IsState() {
		return p.appendWithBackfill(ctx, origin, event)
	}

	return p.processStateEvent(ctx, origin, event)
}

// checkSenderJoined rejects an event, state or not, whose sender is not
// currently joined to the room: the authorization check every inbound
// event passes before it is appended. State events must additionally
// survive resolution in processStateEvent.
func (p *Processor) checkSenderJoined(event *pdu.PDU) error {
	state, err := p.store.CurrentState(event.RoomID)
	if err != nil {
		return err
	}
	memberEventID, ok := state[stateengine.StateMapKey{EventType: "m.room.member", StateKey: event.Sender}]
	if !ok {
		return errors.NewKindf(errors.KindForbidden, "sender %s is not a member of %s", event.Sender, event.RoomID)
	}

	member, ok, err := p.store.GetEvent(memberEventID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NewKindf(errors.KindForbidden, "membership event for %s not found", event.Sender)
	}

	var content struct {
		Membership string `json:"membership"`
	}
	if err := json.Unmarshal(member.Content, &content); err != nil {
		return errors.WithKind(errors.Wrap(err, "decode membership content"), errors.KindMalformedJSON)
	}
	if content.Membership != "join" {
		return errors.NewKindf(errors.KindForbidden, "sender %s is not joined to %s", event.Sender, event.RoomID)
	}
	return nil
}

// Pseudo state-group IDs used only to hand the resolver two competing
// candidates; they are never persisted or looked up in the state engine.
const (
	localCandidateGroup  uint64 = 0
	remoteCandidateGroup uint64 = 1
)

// processStateEvent resolves the event against both local current state
// and the sender's candidate state (fetched over /state), accepting the
// event only if the resolved state agrees it holds its own (type,
// state_key) slot.
func (p *Processor) processStateEvent(ctx context.Context, origin string, event *pdu.PDU) error {
	localState, err := p.store.CurrentState(event.RoomID)
	if err != nil {
		return err
	}

	remotePDUs, remoteAuthChain, err := p.client.FetchState(ctx, origin, event.RoomID, event.EventID)
	if err != nil {
		return err
	}

	aux := map[string]*pdu.PDU{event.EventID: event}
	remoteState := stateengine.StateMap{}
	for _, ev := range remotePDUs {
		aux[ev.EventID] = ev
		if ev.IsState() {
			et, sk := ev.StateMapKey()
			remoteState[stateengine.StateMapKey{EventType: et, StateKey: sk}] = ev.EventID
		}
	}
	for _, ev := range remoteAuthChain {
		aux[ev.EventID] = ev
	}

	localAuthChain, err := p.store.AuthChain(authSeedsOf(localState))
	if err != nil {
		return err
	}
	for id, ev := range localAuthChain {
		aux[id] = ev
	}

	result, err := resolve.Resolve(map[uint64]stateengine.StateMap{
		localCandidateGroup:  localState,
		remoteCandidateGroup: remoteState,
	}, aux)
	if err != nil {
		return err
	}

	eventType, stateKey := event.StateMapKey()
	if result.State[stateengine.StateMapKey{EventType: eventType, StateKey: stateKey}] != event.EventID {
		return errors.NewKindf(errors.KindAuthFailed, "event %s did not survive state resolution for %s", event.EventID, event.RoomID)
	}

	return p.appendWithBackfill(ctx, origin, event)
}

func authSeedsOf(state stateengine.StateMap) []string {
	ids := make([]string, 0, len(state))
	for _, id := range state {
		ids = append(ids, id)
	}
	return ids
}

// appendWithBackfill appends event to the store, and on a MissingPrev
// failure fetches the gap from origin via get_missing_events and retries
// once. Persistent failure marks the event an outlier rather than
// blocking the rest of the transaction.
func (p *Processor) appendWithBackfill(ctx context.Context, origin string, event *pdu.PDU) error {
	err := p.store.Append(event, p.keyring.Fetch)
	if err == nil {
		return nil
	}
	if kind, ok := errors.GetKind(err); !ok || kind != errors.KindMissingPrev {
		return err
	}

	extremities, extErr := p.store.Extremities(event.RoomID)
	if extErr != nil {
		return err
	}

	missing, backfillErr := p.client.BackfillMissingEvents(ctx, origin, event.RoomID, extremities, event.PrevEvents, 50)
	if backfillErr != nil || len(missing) == 0 {
		if markErr := p.store.MarkOutlier(event); markErr != nil {
			return markErr
		}
		return err
	}

	for _, ev := range missing {
		if appendErr := p.store.Append(ev, p.keyring.Fetch); appendErr != nil {
			if markErr := p.store.MarkOutlier(ev); markErr != nil {
				return markErr
			}
		}
	}

	if retryErr := p.store.Append(event, p.keyring.Fetch); retryErr != nil {
		if markErr := p.store.MarkOutlier(event); markErr != nil {
			return markErr
		}
		return retryErr
	}
	return nil
}
