package engine

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/jabolina/maelstrom-gossip/internal/peerstate"
	"github.com/jabolina/maelstrom-gossip/internal/topology"
)

// NodeState is the single per-process node state constructed by the init
// handshake (spec.md §3). It implements handler.NodeView.
type NodeState struct {
	selfID      string
	nodeNumber  int
	nodeCount   int
	clientNodes []string
	serverNodes []string
	topo        map[string][]string
	broadcast   topology.Forwarding
	peers       map[string]*peerstate.ConnState
}

func newNodeState(selfID string, allNodeIDs []string) (*NodeState, error) {
	number, err := validateNodeID(selfID)
	if err != nil {
		return nil, err
	}

	s := &NodeState{
		selfID:     selfID,
		nodeNumber: number,
		nodeCount:  len(allNodeIDs),
		peers:      make(map[string]*peerstate.ConnState),
	}

	for _, id := range allNodeIDs {
		if _, err := validateNodeID(id); err != nil {
			return nil, err
		}
		if id[0] == 'c' {
			s.clientNodes = append(s.clientNodes, id)
			continue
		}
		s.serverNodes = append(s.serverNodes, id)
		if id != selfID {
			s.peers[id] = peerstate.New()
		}
	}
	return s, nil
}

// validateNodeID enforces spec.md §3's node-id shape strictly: a single
// class-prefix character ('n' or 'c') followed by a numeric suffix.
// Unlike topology.ParseNodeNumber (permissive, used for ordering), this
// rejects malformed ids outright: a non-parseable node-id suffix is an
// invariant violation (spec.md §7), not a 0.
func validateNodeID(id string) (int, error) {
	if len(id) < 2 || (id[0] != 'n' && id[0] != 'c') {
		return 0, errors.Errorf("malformed node-id %q", id)
	}
	number, err := strconv.Atoi(id[1:])
	if err != nil {
		return 0, errors.Wrapf(err, "malformed node-id %q", id)
	}
	return number, nil
}

func (s *NodeState) SelfID() string  { return s.selfID }
func (s *NodeState) NodeNumber() int { return s.nodeNumber }
func (s *NodeState) NodeCount() int  { return s.nodeCount }

func (s *NodeState) IsServerPeer(id string) bool {
	return len(id) > 0 && id[0] == 'n'
}

func (s *NodeState) ForwardTargets(source string) ([]string, bool) {
	return s.broadcast.Targets(source)
}
