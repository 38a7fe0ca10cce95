package engine

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"github.com/jabolina/maelstrom-gossip/internal/envelope"
	"github.com/jabolina/maelstrom-gossip/internal/handler"
	"github.com/jabolina/maelstrom-gossip/internal/logging"
	"github.com/jabolina/maelstrom-gossip/internal/metrics"
)

func newTestEngine() *Engine {
	registry := handler.NewRegistry()
	registry.Register(handler.EchoHandler{})
	registry.Register(&handler.GenerateHandler{})
	registry.Register(handler.NewBroadcastHandler())
	return New(logging.New("test"), metrics.New(), registry)
}

// runLines feeds one Run() invocation worth of input lines through eng and
// decodes whatever it wrote. The engine's node state persists across
// separate runLines calls on the same *Engine, letting a test model a
// sequence of discrete dispatch steps.
func runLines(t *testing.T, eng *Engine, lines ...string) []envelope.Envelope {
	t.Helper()
	input := strings.Join(lines, "\n") + "\n"
	var out bytes.Buffer
	if err := eng.Run(strings.NewReader(input), &out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return decodeLines(t, out.String())
}

func decodeLines(t *testing.T, blob string) []envelope.Envelope {
	t.Helper()
	trimmed := strings.TrimSpace(blob)
	if trimmed == "" {
		return nil
	}
	var out []envelope.Envelope
	for _, line := range strings.Split(trimmed, "\n") {
		var env envelope.Envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			t.Fatalf("decode output line %q: %v", line, err)
		}
		out = append(out, env)
	}
	return out
}

// S1 — echo handshake.
func TestEngineS1EchoHandshake(t *testing.T) {
	defer goleak.VerifyNone(t)
	eng := newTestEngine()

	out := runLines(t, eng,
		`{"src":"c1","dest":"n0","body":{"msg_id":1,"type":"init","node_id":"n0","node_ids":["n0","c1"]}}`,
		`{"src":"c1","dest":"n0","body":{"msg_id":2,"type":"echo","echo":"hello"}}`,
	)
	if len(out) != 2 {
		t.Fatalf("expected 2 output envelopes, got %d: %+v", len(out), out)
	}

	initOk := out[0]
	if initOk.Src != "n0" || initOk.Dest != "c1" || initOk.Body.InReplyTo == nil || *initOk.Body.InReplyTo != 1 {
		t.Fatalf("unexpected init_ok envelope: %+v", initOk)
	}
	if _, ok := initOk.Body.Payload.(*envelope.InitOkPayload); !ok {
		t.Fatalf("expected init_ok payload, got %T", initOk.Body.Payload)
	}

	echoOk := out[1]
	if echoOk.Src != "n0" || echoOk.Dest != "c1" || echoOk.Body.InReplyTo == nil || *echoOk.Body.InReplyTo != 2 {
		t.Fatalf("unexpected echo_ok addressing: %+v", echoOk)
	}
	payload, ok := echoOk.Body.Payload.(*envelope.EchoOkPayload)
	if !ok || payload.Echo != "hello" {
		t.Fatalf("unexpected echo_ok payload: %+v", echoOk.Body.Payload)
	}
}

func TestEngineSecondInitIsError(t *testing.T) {
	defer goleak.VerifyNone(t)
	eng := newTestEngine()
	runLines(t, eng, `{"src":"c1","dest":"n0","body":{"msg_id":1,"type":"init","node_id":"n0","node_ids":["n0","c1"]}}`)

	out := runLines(t, eng, `{"src":"c1","dest":"n0","body":{"msg_id":2,"type":"init","node_id":"n0","node_ids":["n0","c1"]}}`)
	if len(out) != 1 {
		t.Fatalf("expected 1 error envelope, got %d: %+v", len(out), out)
	}
	errPayload, ok := out[0].Body.Payload.(*envelope.ErrorPayload)
	if !ok {
		t.Fatalf("expected error payload, got %T", out[0].Body.Payload)
	}
	if errPayload.Code != envelope.ErrCodeDuplicateInit {
		t.Fatalf("error code = %d, want %d", errPayload.Code, envelope.ErrCodeDuplicateInit)
	}
}

func TestEngineNonInitFirstEnvelopeIsFatal(t *testing.T) {
	eng := newTestEngine()
	err := eng.Run(strings.NewReader(`{"src":"c1","dest":"n0","body":{"msg_id":1,"type":"echo","echo":"hi"}}`+"\n"), &bytes.Buffer{})
	if err == nil {
		t.Fatalf("expected a fatal error when the first envelope is not init")
	}
}

// S2 — generate uniqueness.
func TestEngineS2GenerateUniqueness(t *testing.T) {
	defer goleak.VerifyNone(t)
	eng := newTestEngine()
	runLines(t, eng, `{"src":"c1","dest":"n3","body":{"msg_id":1,"type":"init","node_id":"n3","node_ids":["n0","n1","n2","n3","c1"]}}`)

	first := runLines(t, eng, `{"src":"c1","dest":"n3","body":{"msg_id":2,"type":"generate"}}`)
	second := runLines(t, eng, `{"src":"c1","dest":"n3","body":{"msg_id":3,"type":"generate"}}`)

	firstID := first[0].Body.Payload.(*envelope.GenerateOkPayload).ID
	secondID := second[0].Body.Payload.(*envelope.GenerateOkPayload).ID
	if firstID != 8 {
		t.Fatalf("first id = %d, want 8", firstID)
	}
	if secondID != 13 {
		t.Fatalf("second id = %d, want 13", secondID)
	}
}

func setupThreeNodeTopology(t *testing.T, eng *Engine) {
	t.Helper()
	runLines(t, eng, `{"src":"c0","dest":"n0","body":{"msg_id":1,"type":"init","node_id":"n0","node_ids":["n0","n1","n2"]}}`)
	runLines(t, eng, `{"src":"c0","dest":"n0","body":{"type":"topology","topology":{"n0":["n1","n2"],"n1":["n0"],"n2":["n0"]}}}`)
}

// S4 — gap triggers sync. n0's direct chain is n1-n0-n2, so a broadcast
// relayed from n1 forwards on to n2.
func TestEngineS4GapTriggersSync(t *testing.T) {
	defer goleak.VerifyNone(t)
	eng := newTestEngine()
	setupThreeNodeTopology(t, eng)

	first := runLines(t, eng, `{"src":"n1","dest":"n0","body":{"msg_id":1,"type":"broadcast","message":7}}`)
	if len(first) != 1 || first[0].Dest != "n2" || first[0].Src != "n1" {
		t.Fatalf("unexpected first-delivery forward: %+v", first)
	}

	second := runLines(t, eng, `{"src":"n1","dest":"n0","body":{"msg_id":4,"type":"broadcast","message":8}}`)
	var sawSyncRequest, sawForward bool
	for _, env := range second {
		switch env.Body.Payload.(type) {
		case *envelope.SyncRequestPayload:
			if env.Dest != "n1" {
				t.Errorf("sync_request dest = %q, want n1", env.Dest)
			}
			sawSyncRequest = true
		case *envelope.BroadcastPayload:
			sawForward = true
		}
	}
	if !sawSyncRequest {
		t.Fatalf("expected a sync_request to n1 in the gap-opening step: %+v", second)
	}
	if !sawForward {
		t.Fatalf("expected the gap-opening broadcast to still be forwarded: %+v", second)
	}
}

// S5 — duplicate suppression.
func TestEngineS5DuplicateSuppression(t *testing.T) {
	defer goleak.VerifyNone(t)
	eng := newTestEngine()
	setupThreeNodeTopology(t, eng)

	first := runLines(t, eng, `{"src":"n1","dest":"n0","body":{"msg_id":1,"type":"broadcast","message":7}}`)
	if len(first) == 0 {
		t.Fatalf("expected forwarded output on first delivery")
	}

	second := runLines(t, eng, `{"src":"n1","dest":"n0","body":{"msg_id":1,"type":"broadcast","message":7}}`)
	if len(second) != 0 {
		t.Fatalf("expected no output on duplicate delivery, got %+v", second)
	}
}

// S6 — sync replay. Three unacked outbound messages to n1, none acked;
// n1's sync_request must produce one batch envelope carrying all three
// with their original msg_ids preserved.
func TestEngineS6SyncReplay(t *testing.T) {
	defer goleak.VerifyNone(t)
	eng := newTestEngine()
	runLines(t, eng, `{"src":"c0","dest":"n0","body":{"msg_id":1,"type":"init","node_id":"n0","node_ids":["n0","n1"]}}`)

	peer := eng.state.peers["n1"]
	if peer == nil {
		t.Fatalf("expected connection state for n1")
	}
	for _, id := range []int{1, 2, 3} {
		msgID := id
		peer.Enroll(envelope.Message{MsgID: &msgID, Payload: &envelope.BroadcastPayload{Message: id * 10}})
	}

	out := runLines(t, eng, `{"src":"n1","dest":"n0","body":{"type":"sync_request"}}`)
	if len(out) != 1 {
		t.Fatalf("expected a single batch envelope, got %d: %+v", len(out), out)
	}
	batch, ok := out[0].Body.Payload.(*envelope.BatchPayload)
	if !ok {
		t.Fatalf("expected batch payload, got %T", out[0].Body.Payload)
	}
	if len(batch.Messages) != 3 {
		t.Fatalf("expected 3 replayed messages, got %d", len(batch.Messages))
	}
	for i, msg := range batch.Messages {
		want := i + 1
		if msg.MsgID == nil || *msg.MsgID != want {
			t.Errorf("message %d: msg_id = %v, want %d", i, msg.MsgID, want)
		}
	}
	// Replayed messages still carry a msg_id, so the generic enrollment
	// rule (spec.md §4.2 step 6) re-enrolls them on emission.
	if peer.UnackedLen() != 3 {
		t.Fatalf("UnackedLen after replay = %d, want 3 (re-enrolled)", peer.UnackedLen())
	}
}

func TestEngineMultiAckClearsUnacked(t *testing.T) {
	defer goleak.VerifyNone(t)
	eng := newTestEngine()
	runLines(t, eng, `{"src":"c0","dest":"n0","body":{"msg_id":1,"type":"init","node_id":"n0","node_ids":["n0","n1"]}}`)

	peer := eng.state.peers["n1"]
	for _, id := range []int{1, 2} {
		msgID := id
		peer.Enroll(envelope.Message{MsgID: &msgID, Payload: &envelope.BroadcastPayload{Message: id}})
	}

	runLines(t, eng, `{"src":"n1","dest":"n0","body":{"type":"multi_ack","messages":[1,2]}}`)
	if peer.UnackedLen() != 0 {
		t.Fatalf("UnackedLen after multi_ack = %d, want 0", peer.UnackedLen())
	}
}
