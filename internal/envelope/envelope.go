package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// Message is the body of an envelope: an optional outbound sequence
// number, an optional echo of a peer's sequence number, and exactly one
// payload variant.
type Message struct {
	MsgID     *int
	InReplyTo *int
	Payload   Payload
}

// Envelope is one wire unit: (src, dest, message).
type Envelope struct {
	Src  string  `json:"src"`
	Dest string  `json:"dest"`
	Body Message `json:"body"`
}

type probeBody struct {
	Type      string `json:"type"`
	MsgID     *int   `json:"msg_id,omitempty"`
	InReplyTo *int   `json:"in_reply_to,omitempty"`
}

// MarshalJSON flattens the payload's fields alongside type/msg_id/in_reply_to
// into a single JSON object, matching the wire schema in spec.md §6.
func (m Message) MarshalJSON() ([]byte, error) {
	if m.Payload == nil {
		return nil, errors.New("envelope: message has no payload")
	}

	payloadBytes, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, errors.Wrap(err, "envelope: marshal payload")
	}

	fields := map[string]json.RawMessage{}
	if len(payloadBytes) > 2 { // not "{}"
		if err := json.Unmarshal(payloadBytes, &fields); err != nil {
			return nil, errors.Wrap(err, "envelope: flatten payload")
		}
	}

	typeBytes, _ := json.Marshal(m.Payload.Type())
	fields["type"] = typeBytes

	if m.MsgID != nil {
		b, _ := json.Marshal(*m.MsgID)
		fields["msg_id"] = b
	}
	if m.InReplyTo != nil {
		b, _ := json.Marshal(*m.InReplyTo)
		fields["in_reply_to"] = b
	}

	return json.Marshal(fields)
}

// UnmarshalJSON decodes the "type" discriminator first, then unmarshals
// the remainder of the object into the matching concrete Payload type.
func (m *Message) UnmarshalJSON(data []byte) error {
	var probe probeBody
	if err := json.Unmarshal(data, &probe); err != nil {
		return errors.Wrap(err, "envelope: probe body")
	}

	payload, err := decodePayload(probe.Type, data)
	if err != nil {
		return err
	}

	m.MsgID = probe.MsgID
	m.InReplyTo = probe.InReplyTo
	m.Payload = payload
	return nil
}

func decodePayload(payloadType string, data []byte) (Payload, error) {
	var p Payload
	switch payloadType {
	case TypeInit:
		p = &InitPayload{}
	case TypeInitOk:
		p = &InitOkPayload{}
	case TypeEcho:
		p = &EchoPayload{}
	case TypeEchoOk:
		p = &EchoOkPayload{}
	case TypeGenerate:
		p = &GeneratePayload{}
	case TypeGenerateOk:
		p = &GenerateOkPayload{}
	case TypeBroadcast:
		p = &BroadcastPayload{}
	case TypeBroadcastOk:
		p = &BroadcastOkPayload{}
	case TypeRead:
		p = &ReadPayload{}
	case TypeReadOk:
		p = &ReadOkPayload{}
	case TypeTopology:
		p = &TopologyPayload{}
	case TypeTopologyOk:
		p = &TopologyOkPayload{}
	case TypeAck:
		p = &AckPayload{}
	case TypeMultiAck:
		p = &MultiAckPayload{}
	case TypeSyncRequest:
		p = &SyncRequestPayload{}
	case TypeBatch:
		p = &BatchPayload{}
	case TypeForward:
		p = &ForwardPayload{}
	case TypeError:
		p = &ErrorPayload{}
	default:
		return nil, fmt.Errorf("envelope: unknown payload type %q", payloadType)
	}

	if err := json.Unmarshal(data, p); err != nil {
		return nil, errors.Wrapf(err, "envelope: decode payload %q", payloadType)
	}
	return p, nil
}
