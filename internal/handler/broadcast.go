package handler

import "github.com/jabolina/maelstrom-gossip/internal/envelope"

// BroadcastHandler holds the gossiped value set and answers both
// broadcast and read (spec.md §4.4). Duplicate suppression of the value
// set is this handler's responsibility, not the engine's.
type BroadcastHandler struct {
	seen  map[int]struct{}
	order []int
}

func NewBroadcastHandler() *BroadcastHandler {
	return &BroadcastHandler{seen: make(map[int]struct{})}
}

func (h *BroadcastHandler) Handle(trigger Trigger, payload envelope.Payload, view NodeView) ([]Descriptor, error) {
	switch p := payload.(type) {
	case *envelope.BroadcastPayload:
		h.record(p.Message)

		targets, fromPeer := view.ForwardTargets(trigger.Src)
		if fromPeer {
			// s is a known server peer: forward on its behalf, preserving
			// provenance so downstream nodes use B[s] rather than B[self].
			descriptors := make([]Descriptor, 0, len(targets))
			for _, t := range targets {
				descriptors = append(descriptors, NoAck(trigger.Src, t, nil, &envelope.BroadcastPayload{Message: p.Message}))
			}
			return descriptors, nil
		}

		// s is a client: ack it, then originate a fresh broadcast from self.
		selfTargets, _ := view.ForwardTargets(view.SelfID())
		descriptors := make([]Descriptor, 0, len(selfTargets)+1)
		descriptors = append(descriptors, Response(&envelope.BroadcastOkPayload{}))
		for _, t := range selfTargets {
			descriptors = append(descriptors, NoAck("", t, nil, &envelope.BroadcastPayload{Message: p.Message}))
		}
		return descriptors, nil

	case *envelope.ReadPayload:
		messages := make([]int, len(h.order))
		copy(messages, h.order)
		return []Descriptor{
			Response(&envelope.ReadOkPayload{Messages: messages}),
		}, nil
	}
	return nil, nil
}

func (h *BroadcastHandler) record(message int) {
	if _, dup := h.seen[message]; dup {
		return
	}
	h.seen[message] = struct{}{}
	h.order = append(h.order, message)
}
