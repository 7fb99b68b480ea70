package probe

import (
	"encoding/json"
	"fmt"

	"github.com/textileio/fleetwatch/fault"
)

// StatusResponse is the payload of the status endpoint.
type StatusResponse struct {
	Peers *int `json:"peers"`
	Nodes *int `json:"nodes"`
}

// EvaluateStatus runs the peer/node predicates over a status response body.
func EvaluateStatus(t Target, body []byte, th Thresholds) (ds []Decision) {
	defer guard(t, StatusPath, &ds)

	var resp StatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return []Decision{unknown(t, StatusPath, fmt.Errorf("decoding status: %s", err))}
	}
	if resp.Peers == nil || resp.Nodes == nil {
		return []Decision{unknown(t, StatusPath, fmt.Errorf("status is missing peers or nodes"))}
	}
	peers, nodes := *resp.Peers, *resp.Nodes

	return []Decision{
		decide(peers != nodes, fault.New(fault.PeersNodesMismatch, fmt.Sprintf("nOfPeers != nOfNodes on node %s", t.URL))),
		decide(peers < th.MinPeers, fault.New(fault.PeersDropped, fmt.Sprintf("nOfPeers < %d on node %s", th.MinPeers, t.URL))),
		decide(nodes < th.MinNodes, fault.New(fault.NodesDropped, fmt.Sprintf("nOfNodes < %d on node %s", th.MinNodes, t.URL))),
	}
}
