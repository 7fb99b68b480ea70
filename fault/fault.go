package fault

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the closed set of fault classes the monitor can raise.
type Kind int

const (
	// NoError is the zero kind. It's never asserted by predicates.
	NoError Kind = iota
	// PeersDropped indicates a node reports fewer peers than the floor.
	PeersDropped
	// NodesDropped indicates a node reports fewer nodes than the floor.
	NodesDropped
	// PeersNodesMismatch indicates a node's peer and node counts disagree.
	PeersNodesMismatch
	// ValidatorSlashed indicates a bond with zero stake in the latest block.
	ValidatorSlashed
	// NodeUnreachable indicates a probe call to a node failed.
	NodeUnreachable
	// Unknown indicates a probe response couldn't be interpreted.
	Unknown
)

// KindStr maps a Kind to its human-readable name.
var KindStr = map[Kind]string{
	NoError:            "NO_ERROR",
	PeersDropped:       "PEERS_DROPPED",
	NodesDropped:       "NODES_DROPPED",
	PeersNodesMismatch: "PEERS_NODES_MISMATCH",
	ValidatorSlashed:   "VALIDATOR_SLASHED",
	NodeUnreachable:    "NODE_UNREACHABLE",
	Unknown:            "UNKNOWN_ERROR",
}

// String returns the name of the kind.
func (k Kind) String() string {
	if s, ok := KindStr[k]; ok {
		return s
	}
	return KindStr[Unknown]
}

// ParseKind returns the Kind with the given name. Unrecognized names map
// to Unknown.
func ParseKind(s string) Kind {
	for k, name := range KindStr {
		if name == s {
			return k
		}
	}
	return Unknown
}

// MarshalJSON encodes the kind by name, so persisted state doesn't depend
// on enum ordering.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a kind name.
func (k *Kind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("decoding fault kind: %s", err)
	}
	*k = ParseKind(s)
	return nil
}

// Identity is the semantic key of a fault. Two faults are the same fault
// iff their identities are equal.
type Identity struct {
	Kind   Kind
	Detail string
}

// String returns a printable form of the identity.
func (id Identity) String() string {
	return fmt.Sprintf("%s: %s", id.Kind, id.Detail)
}

// Fault is an asserted problem condition.
type Fault struct {
	Kind   Kind   `json:"kind"`
	Detail string `json:"detail"`
	// FirstObservedAt is set once on first assertion and never refreshed.
	FirstObservedAt time.Time `json:"firstObservedAt"`
}

// New returns a Fault with the given kind and detail. The observation
// time is stamped when the fault gets pushed.
func New(kind Kind, detail string) Fault {
	return Fault{Kind: kind, Detail: detail}
}

// Identity returns the fault identity.
func (f Fault) Identity() Identity {
	return Identity{Kind: f.Kind, Detail: f.Detail}
}

// Age returns how long the fault has been active at now.
func (f Fault) Age(now time.Time) time.Duration {
	return now.Sub(f.FirstObservedAt)
}
