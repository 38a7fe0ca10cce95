package peerstate

import "github.com/jabolina/maelstrom-gossip/internal/envelope"

// ConnState is the per-server-peer connection state held by node state:
// the outbound sequence counter, the inbound SyncStatus, and the
// ordered buffer of messages sent to this peer that still await an ack.
type ConnState struct {
	outMsgID int
	Sync     SyncStatus
	unacked  []envelope.Message
}

// New returns a freshly-initialized connection state: out_msg_id=0,
// Synced{last_msg_id=0}, empty unack buffer (spec.md §4.2 step 1).
func New() *ConnState {
	return &ConnState{}
}

// NextMsgID stamps and returns the next outbound sequence number.
func (c *ConnState) NextMsgID() int {
	c.outMsgID++
	return c.outMsgID
}

// OutMsgID returns the most recently stamped outbound sequence number.
func (c *ConnState) OutMsgID() int {
	return c.outMsgID
}

// Enroll adds a message bearing a msg_id to the unacked buffer.
func (c *ConnState) Enroll(m envelope.Message) {
	c.unacked = append(c.unacked, m)
}

// Ack removes the entry with the given msg_id, if present. No-op otherwise.
func (c *ConnState) Ack(msgID int) {
	for i, m := range c.unacked {
		if m.MsgID != nil && *m.MsgID == msgID {
			c.unacked = append(c.unacked[:i], c.unacked[i+1:]...)
			return
		}
	}
}

// TakeUnacked removes and returns the entire unacked buffer, leaving it
// empty, per spec.md §4.2 step 4's sync_request handling.
func (c *ConnState) TakeUnacked() []envelope.Message {
	out := c.unacked
	c.unacked = nil
	return out
}

// UnackedLen reports the current buffer size, used by metrics.
func (c *ConnState) UnackedLen() int {
	return len(c.unacked)
}
