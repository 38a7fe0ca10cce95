// Package handler defines the payload-handler contract (spec.md §4.4-4.6,
// §9): a polymorphic capability that consumes a triggering envelope and a
// read-only node-state view, and yields zero or more response descriptors.
// The engine owns materializing descriptors into wire envelopes.
package handler

import "github.com/jabolina/maelstrom-gossip/internal/envelope"

// Trigger carries the fields of the inbound envelope a handler needs to
// shape its response descriptors, without exposing the engine's internal
// node state directly.
type Trigger struct {
	Src   string
	Dest  string
	MsgID *int
}

// NodeView is the read-only slice of node state handlers may consult.
// Handlers never see connection state or sequence counters directly;
// those remain the engine's exclusive concern (spec.md §9 "no global state").
type NodeView interface {
	SelfID() string
	NodeNumber() int
	NodeCount() int
	IsServerPeer(id string) bool

	// ForwardTargets returns the broadcast-forwarding set for messages
	// whose immediate sender was source (spec.md §4.3), and whether
	// source has a known entry in the derived topology.
	ForwardTargets(source string) ([]string, bool)
}

// DescriptorKind tags which of the four response-descriptor shapes a
// Descriptor carries (spec.md §4.1).
type DescriptorKind int

const (
	KindResponse DescriptorKind = iota
	KindResponseWithAck
	KindNoAck
	KindAck
)

// Descriptor is the tagged-variant response descriptor handlers return.
// The engine materializes it into a wire envelope: Response/ResponseWithAck
// derive src/dest/in_reply_to from the Trigger; NoAck/Ack carry their own
// addressing with src optional (defaults to the local node-id).
type Descriptor struct {
	Kind      DescriptorKind
	Payload   envelope.Payload
	Src       string // NoAck/Ack only; empty means "default to self"
	Dest      string // NoAck/Ack only
	InReplyTo *int   // NoAck/Ack only
}

// Response replies to the triggering envelope: no outbound msg_id.
func Response(payload envelope.Payload) Descriptor {
	return Descriptor{Kind: KindResponse, Payload: payload}
}

// ResponseWithAck replies to the triggering envelope and additionally
// stamps an outbound msg_id, enrolling the envelope in the destination
// peer's un_ack_messages buffer.
func ResponseWithAck(payload envelope.Payload) Descriptor {
	return Descriptor{Kind: KindResponseWithAck, Payload: payload}
}

// NoAck builds an engine-addressed envelope with no outbound msg_id. src
// is optional; an empty string defaults to the local node-id.
func NoAck(src, dest string, inReplyTo *int, payload envelope.Payload) Descriptor {
	return Descriptor{Kind: KindNoAck, Payload: payload, Src: src, Dest: dest, InReplyTo: inReplyTo}
}

// Ack builds an engine-addressed envelope with an outbound msg_id stamped
// and the envelope enrolled in the destination's un_ack_messages buffer.
func Ack(src, dest string, inReplyTo *int, payload envelope.Payload) Descriptor {
	return Descriptor{Kind: KindAck, Payload: payload, Src: src, Dest: dest, InReplyTo: inReplyTo}
}

// Handler is the contract every payload processor satisfies: consume the
// triggering envelope's addressing plus its own payload, and a read-only
// node view, and yield zero or more response descriptors. A handler that
// does not react to payload returns (nil, nil).
type Handler interface {
	Handle(trigger Trigger, payload envelope.Payload, view NodeView) ([]Descriptor, error)
}

// Registry is an insertion-ordered list of handlers (spec.md §9). Fan-out
// iterates it in registration order every step.
type Registry struct {
	handlers []Handler
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Register(h Handler) {
	r.handlers = append(r.handlers, h)
}

func (r *Registry) Handlers() []Handler {
	return r.handlers
}
