// Package peerstate holds per-server-peer connection state: the
// outbound sequence counter, inbound sync status, and the buffer of
// unacknowledged outbound messages (spec.md §3).
package peerstate

// SyncStatus tracks which inbound msg_ids from a peer have been
// observed. It is a two-state machine: Synced (missing == nil) and
// NotSynced (missing holds the open gaps below LastMsgID).
type SyncStatus struct {
	LastMsgID int
	missing   map[int]struct{}
}

// Synced reports whether every sequence up to LastMsgID has been seen.
func (s *SyncStatus) Synced() bool {
	return len(s.missing) == 0
}

// Missing returns the set of msg_ids below LastMsgID not yet observed.
func (s *SyncStatus) Missing() map[int]struct{} {
	return s.missing
}

// Observe applies the inbound sequence check of spec.md §4.2 step 2 for
// one received msg_id. It returns duplicate=true when the envelope must
// be dropped silently, and needSync=true when a gap was just opened and
// a sync_request should be scheduled back to the peer.
func (s *SyncStatus) Observe(msgID int) (duplicate, needSync bool) {
	switch {
	case msgID <= s.LastMsgID:
		if _, gap := s.missing[msgID]; gap {
			delete(s.missing, msgID)
			if len(s.missing) == 0 {
				s.missing = nil
			}
			return false, false
		}
		return true, false

	case msgID == s.LastMsgID+1:
		s.LastMsgID = msgID
		return false, false

	default:
		if s.missing == nil {
			s.missing = make(map[int]struct{}, msgID-s.LastMsgID-1)
		}
		for k := s.LastMsgID + 1; k < msgID; k++ {
			s.missing[k] = struct{}{}
		}
		s.LastMsgID = msgID
		return false, true
	}
}
