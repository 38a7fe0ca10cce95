package handler

import "github.com/jabolina/maelstrom-gossip/internal/envelope"

// GenerateHandler produces cluster-wide unique ids: a per-node counter c,
// id = c * node_count + node_number (spec.md §4.5).
type GenerateHandler struct {
	counter int
}

func (h *GenerateHandler) Handle(_ Trigger, payload envelope.Payload, view NodeView) ([]Descriptor, error) {
	if _, ok := payload.(*envelope.GeneratePayload); !ok {
		return nil, nil
	}
	h.counter++
	id := h.counter*view.NodeCount() + view.NodeNumber()
	return []Descriptor{
		Response(&envelope.GenerateOkPayload{ID: id}),
	}, nil
}
