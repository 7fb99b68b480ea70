package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	logging "github.com/ipfs/go-log/v2"
	"github.com/stretchr/testify/require"
	"github.com/textileio/fleetwatch/fault"
)

var target = Target{
	URL: "https://node0.example.com:443",
	Validators: map[string]int{
		"04aa": 0,
		"04bb": 1,
	},
}

func TestMain(m *testing.M) {
	logging.SetAllLoggers(logging.LevelError)
	os.Exit(m.Run())
}

func TestEvaluateStatus(t *testing.T) {
	t.Parallel()
	mismatch := fault.New(fault.PeersNodesMismatch, "nOfPeers != nOfNodes on node https://node0.example.com:443")
	peers := fault.New(fault.PeersDropped, "nOfPeers < 6 on node https://node0.example.com:443")
	nodes := fault.New(fault.NodesDropped, "nOfNodes < 6 on node https://node0.example.com:443")

	tests := []struct {
		name   string
		body   string
		expect []Decision
	}{
		{
			name:   "Healthy",
			body:   `{"peers": 6, "nodes": 6}`,
			expect: []Decision{retract(mismatch), retract(peers), retract(nodes)},
		},
		{
			name:   "Mismatch",
			body:   `{"peers": 7, "nodes": 6}`,
			expect: []Decision{assert(mismatch), retract(peers), retract(nodes)},
		},
		{
			name:   "PeersDropped",
			body:   `{"peers": 5, "nodes": 6}`,
			expect: []Decision{assert(mismatch), assert(peers), retract(nodes)},
		},
		{
			name:   "BothDropped",
			body:   `{"peers": 2, "nodes": 2, "extra": true}`,
			expect: []Decision{retract(mismatch), assert(peers), assert(nodes)},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := EvaluateStatus(target, []byte(tt.body), DefaultThresholds)
			if diff := cmp.Diff(tt.expect, got); diff != "" {
				t.Fatalf("unexpected decisions (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEvaluateStatusMalformed(t *testing.T) {
	t.Parallel()
	for _, body := range []string{`not json`, `{"peers": "six", "nodes": 6}`, `{"nodes": 6}`, `[]`} {
		got := EvaluateStatus(target, []byte(body), DefaultThresholds)
		require.Len(t, got, 1, body)
		require.True(t, got[0].Assert)
		require.Equal(t, fault.Unknown, got[0].Fault.Kind)
		require.True(t, strings.HasPrefix(got[0].Fault.Detail, target.URL+StatusPath+": "), got[0].Fault.Detail)
	}
}

func TestEvaluateBlocks(t *testing.T) {
	t.Parallel()
	body := `[
		{"blockNumber": 10, "bonds": [
			{"validator": "04aa", "stake": 0},
			{"validator": "04bb", "stake": 100},
			{"validator": "04cc", "stake": 0}
		]},
		{"blockNumber": 9, "bonds": [{"validator": "04bb", "stake": 0}]}
	]`
	got := EvaluateBlocks(target, []byte(body))
	expect := []Decision{
		assert(fault.New(fault.ValidatorSlashed, "Validator 0 slashed")),
		retract(fault.New(fault.ValidatorSlashed, "Validator 1 slashed")),
		assert(fault.New(fault.ValidatorSlashed, "Validator 04cc slashed")),
	}
	if diff := cmp.Diff(expect, got); diff != "" {
		t.Fatalf("unexpected decisions (-want +got):\n%s", diff)
	}
}

func TestEvaluateBlocksMalformed(t *testing.T) {
	t.Parallel()
	for _, body := range []string{`{}`, `[]`, `[{"blockNumber": 1}]`, `[{"bonds": [{"validator": "04aa"}]}]`, `[{"bonds": "x"}]`} {
		got := EvaluateBlocks(target, []byte(body))
		require.Len(t, got, 1, body)
		require.True(t, got[0].Assert)
		require.Equal(t, fault.Unknown, got[0].Fault.Kind, body)
	}
}

func TestClearUnknown(t *testing.T) {
	t.Parallel()
	bad := EvaluateStatus(target, []byte(`not json`), DefaultThresholds)
	require.False(t, Interpreted(bad))
	require.True(t, Interpreted(EvaluateStatus(target, []byte(`{"peers": 6, "nodes": 6}`), DefaultThresholds)))

	otherNode := Target{URL: "https://node1.example.com:443"}
	active := []fault.Fault{
		bad[0].Fault,
		fault.New(fault.Unknown, target.URL+BlocksPath+": blocks response is empty"),
		EvaluateStatus(otherNode, []byte(`{}`), DefaultThresholds)[0].Fault,
		fault.New(fault.PeersDropped, "nOfPeers < 6 on node "+target.URL),
	}
	got := ClearUnknown(target, StatusPath, active)
	if diff := cmp.Diff([]Decision{retract(bad[0].Fault)}, got); diff != "" {
		t.Fatalf("unexpected decisions (-want +got):\n%s", diff)
	}
	require.Empty(t, ClearUnknown(otherNode, BlocksPath, active))
}

func TestReachability(t *testing.T) {
	t.Parallel()
	d := Reachability(target, StatusPath, errors.New("timeout"))
	require.True(t, d.Assert)
	require.Equal(t, fault.NodeUnreachable, d.Fault.Kind)
	require.Equal(t, "https://node0.example.com:443 can't be reached (/api/status).", d.Fault.Detail)

	ok := Reachability(target, StatusPath, nil)
	require.False(t, ok.Assert)
	require.Equal(t, d.Fault.Identity(), ok.Fault.Identity())

	blocks := Reachability(target, BlocksPath, errors.New("timeout"))
	require.NotEqual(t, d.Fault.Identity(), blocks.Fault.Identity())
}

func TestGuard(t *testing.T) {
	t.Parallel()
	eval := func() (ds []Decision) {
		defer guard(target, BlocksPath, &ds)
		var m map[string]int
		m["boom"] = 1
		return nil
	}
	got := eval()
	require.Len(t, got, 1)
	require.Equal(t, fault.Unknown, got[0].Fault.Kind)
	require.Contains(t, got[0].Fault.Detail, "nil map")
}

func TestClient(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case StatusPath:
			_, _ = w.Write([]byte(`{"peers": 6, "nodes": 6}`))
		case "/slow":
			time.Sleep(200 * time.Millisecond)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c, err := NewClient(50 * time.Millisecond)
	require.NoError(t, err)
	ctx := context.Background()

	body, err := c.Get(ctx, srv.URL+StatusPath)
	require.NoError(t, err)
	require.JSONEq(t, `{"peers": 6, "nodes": 6}`, string(body))

	_, err = c.Get(ctx, srv.URL+BlocksPath)
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")

	_, err = c.Get(ctx, srv.URL+"/slow")
	require.Error(t, err)

	_, err = c.Get(ctx, "http://127.0.0.1:1/api/status")
	require.Error(t, err)
}
