package handler

import "github.com/jabolina/maelstrom-gossip/internal/envelope"

// EchoHandler replies to echo with echo_ok, preserving the payload
// string verbatim (spec.md §4.6).
type EchoHandler struct{}

func (EchoHandler) Handle(_ Trigger, payload envelope.Payload, _ NodeView) ([]Descriptor, error) {
	echo, ok := payload.(*envelope.EchoPayload)
	if !ok {
		return nil, nil
	}
	return []Descriptor{
		Response(&envelope.EchoOkPayload{Echo: echo.Echo}),
	}, nil
}
