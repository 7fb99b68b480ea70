package probe

import (
	"fmt"
	"strings"

	"github.com/textileio/fleetwatch/fault"
)

const (
	// StatusPath is the node status endpoint.
	StatusPath = "/api/status"
	// BlocksPath is the latest blocks endpoint.
	BlocksPath = "/api/blocks"
)

// Target is a monitored node.
type Target struct {
	// URL is the node base URL, without trailing slash.
	URL string
	// Validators maps a validator public key to its index in the fleet.
	Validators map[string]int
}

// Thresholds are the minimum healthy counts reported by a node.
type Thresholds struct {
	MinPeers int
	MinNodes int
}

// DefaultThresholds are the floors used for the mainnet fleet.
var DefaultThresholds = Thresholds{MinPeers: 6, MinNodes: 6}

// Decision asserts or retracts a fault.
type Decision struct {
	Fault  fault.Fault
	Assert bool
}

func assert(f fault.Fault) Decision {
	return Decision{Fault: f, Assert: true}
}

func retract(f fault.Fault) Decision {
	return Decision{Fault: f}
}

func decide(cond bool, f fault.Fault) Decision {
	if cond {
		return assert(f)
	}
	return retract(f)
}

// Reachability returns the decision for a call to endpoint on t that
// finished with err.
func Reachability(t Target, endpoint string, err error) Decision {
	f := fault.New(fault.NodeUnreachable, fmt.Sprintf("%s can't be reached (%s).", t.URL, endpoint))
	return decide(err != nil, f)
}

// unknown builds the fault raised when a response can't be interpreted.
func unknown(t Target, endpoint string, err error) Decision {
	return assert(fault.New(fault.Unknown, unknownPrefix(t, endpoint)+err.Error()))
}

func unknownPrefix(t Target, endpoint string) string {
	return t.URL + endpoint + ": "
}

// Interpreted returns false if ds reports a response that couldn't be
// interpreted.
func Interpreted(ds []Decision) bool {
	for _, d := range ds {
		if d.Assert && d.Fault.Kind == fault.Unknown {
			return false
		}
	}
	return true
}

// ClearUnknown retracts the unknown faults of endpoint on t found in
// active. Their details carry the decoding error, so they're only cleared
// once the endpoint answers with a response that can be interpreted.
func ClearUnknown(t Target, endpoint string, active []fault.Fault) []Decision {
	prefix := unknownPrefix(t, endpoint)
	var ds []Decision
	for _, f := range active {
		if f.Kind == fault.Unknown && strings.HasPrefix(f.Detail, prefix) {
			ds = append(ds, retract(f))
		}
	}
	return ds
}

// guard converts a panic while evaluating a response into an unknown fault.
func guard(t Target, endpoint string, ds *[]Decision) {
	if r := recover(); r != nil {
		log.Errorf("evaluating %s%s: %v", t.URL, endpoint, r)
		*ds = []Decision{unknown(t, endpoint, fmt.Errorf("%v", r))}
	}
}
