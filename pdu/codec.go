package pdu

import (
	"encoding/json"

	"github.com/teranos/matrixd/errors"
)

// Encode serializes p to its wire JSON form.
func Encode(p *PDU) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, errors.WithKind(errors.Wrap(err, "encode pdu"), errors.KindMalformedJSON)
	}
	return b, nil
}

// Decode parses wire JSON into a PDU and checks the required fields the
// event graph depends on before returning it.
func Decode(raw []byte) (*PDU, error) {
	var p PDU
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.WithKind(errors.Wrap(err, "decode pdu"), errors.KindMalformedJSON)
	}
	if err := validateShape(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func validateShape(p *PDU) error {
	if p.RoomID == "" {
		return errors.NewKind(errors.KindMalformedJSON, "pdu missing room_id")
	}
	if p.Sender == "" {
		return errors.NewKind(errors.KindMalformedJSON, "pdu missing sender")
	}
	if p.EventType == "" {
		return errors.NewKind(errors.KindMalformedJSON, "pdu missing type")
	}
	if p.Content == nil {
		return errors.NewKind(errors.KindMalformedJSON, "pdu missing content")
	}
	if p.PrevEvents == nil {
		return errors.NewKind(errors.KindMalformedJSON, "pdu missing prev_events")
	}
	if p.AuthEvents == nil {
		return errors.NewKind(errors.KindMalformedJSON, "pdu missing auth_events")
	}
	return nil
}
