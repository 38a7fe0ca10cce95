// Package engine implements the single-threaded dispatch loop: the
// receive/classify/route/emit step that owns node state, invokes
// handlers, applies sequence bookkeeping, performs batching, and drives
// retransmission (spec.md §4.2).
package engine

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"github.com/jabolina/maelstrom-gossip/internal/dispatcherrors"
	"github.com/jabolina/maelstrom-gossip/internal/envelope"
	"github.com/jabolina/maelstrom-gossip/internal/handler"
	"github.com/jabolina/maelstrom-gossip/internal/logging"
	"github.com/jabolina/maelstrom-gossip/internal/metrics"
	"github.com/jabolina/maelstrom-gossip/internal/topology"
)

// outboxItem is a materialized, not-yet-emitted outbound message awaiting
// this step's batching decision (spec.md §4.2 step 6).
type outboxItem struct {
	src  string
	dest string
	msg  envelope.Message
}

// Engine is the single-threaded dispatch engine. One Engine owns exactly
// one node's lifetime: no step overlaps another (spec.md §5).
type Engine struct {
	logger   logging.Logger
	metrics  *metrics.Metrics
	registry *handler.Registry
	state    *NodeState
	out      *bufio.Writer

	outbox     []outboxItem
	standalone []envelope.Envelope
}

func New(logger logging.Logger, m *metrics.Metrics, registry *handler.Registry) *Engine {
	return &Engine{logger: logger, metrics: m, registry: registry}
}

// Run reads newline-delimited JSON envelopes from r until EOF, dispatching
// each through Step, and writes outbound envelopes to w. It returns nil on
// clean EOF and a fatal error on an invariant violation (spec.md §6).
func (e *Engine) Run(r io.Reader, w io.Writer) error {
	e.out = bufio.NewWriter(w)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var env envelope.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			e.logger.Errorf("malformed envelope: %v", err)
			var head struct {
				Src  string `json:"src"`
				Body struct {
					MsgID *int `json:"msg_id"`
				} `json:"body"`
			}
			if e.state != nil && json.Unmarshal(line, &head) == nil && head.Src != "" {
				if werr := e.writeEnvelope(envelope.Envelope{Src: e.state.selfID, Dest: head.Src, Body: envelope.Message{
					InReplyTo: head.Body.MsgID,
					Payload:   &envelope.ErrorPayload{Code: envelope.ErrCodeMalformedPacket, Text: err.Error()},
				}}); werr != nil {
					return werr
				}
			}
			continue
		}

		if err := e.Step(env); err != nil {
			if dispatcherrors.IsFatal(err) {
				return err
			}
			e.logger.Errorf("step failed: %v", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return dispatcherrors.WrapFatal(err, "read input stream")
	}
	return nil
}

// Step processes exactly one inbound envelope to completion: all state
// updates and all resulting emissions happen before Step returns
// (spec.md §4.2, §5).
func (e *Engine) Step(env envelope.Envelope) error {
	if e.state == nil {
		return e.handleInit(env)
	}

	e.outbox = e.outbox[:0]
	e.standalone = e.standalone[:0]

	if err := e.processBody(env.Src, env.Dest, env.Body); err != nil {
		return err
	}
	return e.flush()
}

// handleInit implements step 1 of spec.md §4.2: the envelope must be
// init, node state springs into existence exactly once.
func (e *Engine) handleInit(env envelope.Envelope) error {
	initPayload, ok := env.Body.Payload.(*envelope.InitPayload)
	if !ok {
		return dispatcherrors.NewFatal("first envelope must be init, got %T", env.Body.Payload)
	}

	state, err := newNodeState(initPayload.NodeID, initPayload.NodeIDs)
	if err != nil {
		return dispatcherrors.WrapFatal(err, "construct node state")
	}
	e.state = state
	e.logger = e.logger.WithField("node_id", state.selfID)

	reply := envelope.Envelope{
		Src:  state.selfID,
		Dest: env.Src,
		Body: envelope.Message{InReplyTo: env.Body.MsgID, Payload: &envelope.InitOkPayload{}},
	}
	return e.writeEnvelope(reply)
}

// processBody implements steps 2-5 of spec.md §4.2 for one logical
// message. It recurses for batch sub-messages, each treated as if it
// arrived as its own envelope sharing src/dest with the enclosing one.
func (e *Engine) processBody(src, dest string, body envelope.Message) error {
	trigger := handler.Trigger{Src: src, Dest: dest, MsgID: body.MsgID}

	if body.MsgID != nil {
		if peer, ok := e.state.peers[src]; ok {
			duplicate, needSync := peer.Sync.Observe(*body.MsgID)
			if duplicate {
				e.metrics.DuplicatesDropped.Inc()
				return nil
			}
			if needSync {
				e.metrics.GapsDetected.Inc()
				e.scheduleSyncRequest(src)
			}
		}
	}

	if body.InReplyTo != nil {
		if peer, ok := e.state.peers[src]; ok {
			peer.Ack(*body.InReplyTo)
		}
	}

	switch p := body.Payload.(type) {
	case *envelope.InitPayload:
		e.appendDescriptor(trigger, handler.Response(&envelope.ErrorPayload{
			Code: envelope.ErrCodeDuplicateInit,
			Text: "Got second Init Message",
		}))
		return nil

	case *envelope.AckPayload:
		return nil

	case *envelope.TopologyPayload:
		e.state.topo = p.Topology
		e.state.broadcast = topology.Reduce(e.state.selfID, e.state.serverNodes, p.Topology)
		e.appendDescriptor(trigger, handler.Response(&envelope.TopologyOkPayload{}))
		return nil

	case *envelope.ForwardPayload:
		e.standalone = append(e.standalone, p.Packet)
		return nil

	case *envelope.SyncRequestPayload:
		peer, ok := e.state.peers[src]
		if !ok {
			return nil
		}
		for _, m := range peer.TakeUnacked() {
			e.outbox = append(e.outbox, outboxItem{src: e.state.selfID, dest: src, msg: m})
		}
		return nil

	case *envelope.BatchPayload:
		for _, sub := range p.Messages {
			if err := e.processBody(src, dest, sub); err != nil {
				return err
			}
		}
		return nil

	case *envelope.MultiAckPayload:
		if peer, ok := e.state.peers[src]; ok {
			for _, id := range p.Messages {
				peer.Ack(id)
			}
		}
		return nil
	}

	e.metrics.EnvelopesProcessed.Inc()
	for _, h := range e.registry.Handlers() {
		descriptors, err := h.Handle(trigger, body.Payload, e.state)
		if err != nil {
			return err
		}
		for _, d := range descriptors {
			e.appendDescriptor(trigger, d)
		}
	}
	return nil
}

func (e *Engine) scheduleSyncRequest(dest string) {
	e.metrics.SyncRequestsSent.Inc()
	e.outbox = append(e.outbox, outboxItem{
		src:  e.state.selfID,
		dest: dest,
		msg:  envelope.Message{Payload: &envelope.SyncRequestPayload{}},
	})
}

// appendDescriptor materializes one response descriptor into an outbox
// item, per the four shapes of spec.md §4.1.
func (e *Engine) appendDescriptor(trigger handler.Trigger, d handler.Descriptor) {
	switch d.Kind {
	case handler.KindResponse:
		e.outbox = append(e.outbox, outboxItem{
			src:  trigger.Dest,
			dest: trigger.Src,
			msg:  envelope.Message{InReplyTo: trigger.MsgID, Payload: d.Payload},
		})

	case handler.KindResponseWithAck:
		msg := envelope.Message{InReplyTo: trigger.MsgID, Payload: d.Payload}
		e.stampAck(trigger.Src, &msg)
		e.outbox = append(e.outbox, outboxItem{src: trigger.Dest, dest: trigger.Src, msg: msg})

	case handler.KindNoAck:
		src := d.Src
		if src == "" {
			src = e.state.selfID
		}
		if _, ok := d.Payload.(*envelope.BroadcastPayload); ok {
			e.metrics.BroadcastsForwarded.Inc()
		}
		e.outbox = append(e.outbox, outboxItem{
			src:  src,
			dest: d.Dest,
			msg:  envelope.Message{InReplyTo: d.InReplyTo, Payload: d.Payload},
		})

	case handler.KindAck:
		src := d.Src
		if src == "" {
			src = e.state.selfID
		}
		msg := envelope.Message{InReplyTo: d.InReplyTo, Payload: d.Payload}
		e.stampAck(d.Dest, &msg)
		e.outbox = append(e.outbox, outboxItem{src: src, dest: d.Dest, msg: msg})
	}
}

// stampAck assigns the next outbound sequence number for dest's
// connection state. Destinations with no connection state (client nodes
// never get one, spec.md §3) cannot receive an ack-bearing message; this
// degrades to an unstamped message with a warning rather than a crash.
func (e *Engine) stampAck(dest string, msg *envelope.Message) {
	peer, ok := e.state.peers[dest]
	if !ok {
		e.logger.Warnf("ack-bearing descriptor targets %q with no connection state", dest)
		return
	}
	id := peer.NextMsgID()
	msg.MsgID = &id
}

// flush implements step 6 of spec.md §4.2: group the step's outbox by
// destination and emit. Items whose src differs from self (broadcast
// forwarding's provenance-preserving NoAck, §4.4) can never share a
// batch envelope, since a batch's sub-messages carry no src of their
// own -- they are always emitted standalone. standalone also carries
// forward's verbatim packets, emitted untouched.
func (e *Engine) flush() error {
	order := make([]string, 0, len(e.outbox))
	groups := map[string][]outboxItem{}
	for _, item := range e.outbox {
		if _, ok := groups[item.dest]; !ok {
			order = append(order, item.dest)
		}
		groups[item.dest] = append(groups[item.dest], item)
	}

	for _, dest := range order {
		var selfSrc []outboxItem
		for _, item := range groups[dest] {
			if item.src == e.state.selfID {
				selfSrc = append(selfSrc, item)
				continue
			}
			if err := e.emitStandalone(item); err != nil {
				return err
			}
		}
		if err := e.emitGroup(dest, selfSrc); err != nil {
			return err
		}
	}

	for _, env := range e.standalone {
		if err := e.writeEnvelope(env); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) emitGroup(dest string, items []outboxItem) error {
	switch len(items) {
	case 0:
		return nil
	case 1:
		return e.emitStandalone(items[0])
	default:
		messages := make([]envelope.Message, len(items))
		for i, item := range items {
			messages[i] = item.msg
			e.enroll(dest, item.msg)
		}
		return e.writeEnvelope(envelope.Envelope{
			Src:  e.state.selfID,
			Dest: dest,
			Body: envelope.Message{Payload: &envelope.BatchPayload{Messages: messages}},
		})
	}
}

func (e *Engine) emitStandalone(item outboxItem) error {
	e.enroll(item.dest, item.msg)
	return e.writeEnvelope(envelope.Envelope{Src: item.src, Dest: item.dest, Body: item.msg})
}

// enroll implements the generic rule closing spec.md §4.2 step 6: any
// outbound message bearing a msg_id is enrolled in its destination's
// un_ack_messages, whether it came from a fresh descriptor or from a
// sync_request replay that already carried a preserved msg_id.
func (e *Engine) enroll(dest string, msg envelope.Message) {
	if msg.MsgID == nil {
		return
	}
	peer, ok := e.state.peers[dest]
	if !ok {
		return
	}
	peer.Enroll(msg)
	e.metrics.UnackedMessages.WithLabelValues(dest).Set(float64(peer.UnackedLen()))
}

func (e *Engine) writeEnvelope(env envelope.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return dispatcherrors.WrapFatal(err, "marshal outbound envelope")
	}
	if _, err := e.out.Write(data); err != nil {
		return dispatcherrors.WrapFatal(err, "write outbound envelope")
	}
	if err := e.out.WriteByte('\n'); err != nil {
		return dispatcherrors.WrapFatal(err, "write outbound newline")
	}
	return e.out.Flush()
}
