// Package pdu implements the Matrix persistent-data-unit wire format:
// canonical JSON, reference-hash event IDs, and ed25519 sign/verify over
// the reduced (signatures/unsigned/age_ts-stripped, hashes-retained) event
// form.
package pdu

import "encoding/json"

// PDU is a single signed event in a room's DAG.
type PDU struct {
	EventID        string                     `json:"event_id,omitempty"`
	RoomID         string                     `json:"room_id"`
	Sender         string                     `json:"sender"`
	OriginServerTS int64                      `json:"origin_server_ts"`
	EventType      string                     `json:"type"`
	StateKey       *string                    `json:"state_key,omitempty"`
	Content        json.RawMessage            `json:"content"`
	PrevEvents     []string                   `json:"prev_events"`
	AuthEvents     []string                   `json:"auth_events"`
	Depth          int64                      `json:"depth"`
	Redacts        string                     `json:"redacts,omitempty"`
	Unsigned       json.RawMessage            `json:"unsigned,omitempty"`
	Hashes         map[string]string          `json:"hashes,omitempty"`
	Signatures     map[string]map[string]string `json:"signatures,omitempty"`
}

// IsState reports whether the event carries a state_key and therefore
// contributes to the room's state map.
func (p *PDU) IsState() bool {
	return p.StateKey != nil
}

// StateMapKey is the (event_type, state_key) pair this event would occupy
// in the room's state map. Panics if the event is not a state event.
func (p *PDU) StateMapKey() (eventType, stateKey string) {
	if p.StateKey == nil {
		panic("pdu: StateMapKey called on non-state event")
	}
	return p.EventType, *p.StateKey
}

// Clone returns a deep-enough copy for mutation during signing/hashing:
// slices and maps are copied, RawMessage payloads are shared (treated as
// immutable once set).
func (p *PDU) Clone() *PDU {
	c := *p
	c.PrevEvents = append([]string(nil), p.PrevEvents...)
	c.AuthEvents = append([]string(nil), p.AuthEvents...)
	if p.StateKey != nil {
		sk := *p.StateKey
		c.StateKey = &sk
	}
	if p.Hashes != nil {
		c.Hashes = make(map[string]string, len(p.Hashes))
		for k, v := range p.Hashes {
			c.Hashes[k] = v
		}
	}
	if p.Signatures != nil {
		c.Signatures = make(map[string]map[string]string, len(p.Signatures))
		for server, keys := range p.Signatures {
			inner := make(map[string]string, len(keys))
			for k, v := range keys {
				inner[k] = v
			}
			c.Signatures[server] = inner
		}
	}
	return &c
}
