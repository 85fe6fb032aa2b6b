package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dantte-lp/etcmesh/internal/mesh"
	"github.com/dantte-lp/etcmesh/internal/server"
)

// fakeNode implements server.Node without a running actor loop.
type fakeNode struct {
	triggerResult  mesh.TriggerResult
	commandResult  mesh.CommandResult
	gotReceiver    mesh.Addr
	gotCmd         mesh.Command
	gotThreshold   uint32
	statusSnapshot mesh.Snapshot
}

func (n *fakeNode) Trigger(_, _ uint32) mesh.TriggerResult { return n.triggerResult }

func (n *fakeNode) Command(receiver mesh.Addr, cmd mesh.Command, threshold uint32) mesh.CommandResult {
	n.gotReceiver, n.gotCmd, n.gotThreshold = receiver, cmd, threshold
	return n.commandResult
}

func (n *fakeNode) Status() mesh.Snapshot { return n.statusSnapshot }

func testAddr(hi, lo byte) mesh.Addr { return mesh.Addr{hi, lo} }

func newTestServer(node server.Node) *httptest.Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return httptest.NewServer(server.New(node, logger))
}

func doJSON(t *testing.T, srv *httptest.Server, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func TestHandleTriggerOK(t *testing.T) {
	node := &fakeNode{triggerResult: mesh.TriggerStarted}
	srv := newTestServer(node)
	defer srv.Close()

	resp, out := doJSON(t, srv, http.MethodPost, "/trigger", map[string]any{"value": 42, "threshold": 10})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if out["result"] != mesh.TriggerStarted.String() {
		t.Errorf("result = %v, want %q", out["result"], mesh.TriggerStarted.String())
	}
}

func TestHandleTriggerMalformedBody(t *testing.T) {
	srv := newTestServer(&fakeNode{})
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/trigger", bytes.NewBufferString("{not json"))
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleCommandOK(t *testing.T) {
	node := &fakeNode{commandResult: mesh.CommandResult(0)}
	srv := newTestServer(node)
	defer srv.Close()

	resp, _ := doJSON(t, srv, http.MethodPost, "/command", map[string]any{
		"receiver": "00:02", "command": "RESET", "threshold": 0,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if node.gotReceiver != testAddr(0, 2) {
		t.Errorf("gotReceiver = %v, want 00:02", node.gotReceiver)
	}
	if node.gotCmd != mesh.CommandReset {
		t.Errorf("gotCmd = %v, want CommandReset", node.gotCmd)
	}
}

func TestHandleCommandInvalidCommandName(t *testing.T) {
	srv := newTestServer(&fakeNode{})
	defer srv.Close()

	resp, out := doJSON(t, srv, http.MethodPost, "/command", map[string]any{
		"receiver": "00:02", "command": "BOGUS",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if out["error"] == "" {
		t.Error("expected an error message in the response body")
	}
}

func TestHandleCommandInvalidReceiverLiteral(t *testing.T) {
	srv := newTestServer(&fakeNode{})
	defer srv.Close()

	resp, _ := doJSON(t, srv, http.MethodPost, "/command", map[string]any{
		"receiver": "not-an-address", "command": "RESET",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleStatus(t *testing.T) {
	node := &fakeNode{statusSnapshot: mesh.Snapshot{
		Self:          testAddr(0, 1),
		Role:          mesh.RoleSensor,
		CurrentParent: testAddr(0, 9),
		BufferLen:     3,
		BeaconSeqn:    7,
	}}
	srv := newTestServer(node)
	defer srv.Close()

	resp, out := doJSON(t, srv, http.MethodGet, "/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if out["self"] != "00:01" || out["role"] != "sensor" {
		t.Errorf("body = %v", out)
	}
	if out["buffer_len"].(float64) != 3 {
		t.Errorf("buffer_len = %v, want 3", out["buffer_len"])
	}
}

func TestHandleForwardTableOmitsEmptySlots(t *testing.T) {
	node := &fakeNode{statusSnapshot: mesh.Snapshot{
		ForwardTable: map[mesh.Addr][]mesh.ForwardHop{
			testAddr(0, 5): {
				{HopAddr: testAddr(0, 2), Distance: 1},
				{HopAddr: mesh.NullAddr},
			},
		},
	}}
	srv := newTestServer(node)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/forward-table")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	var out map[string][]map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	hops := out[testAddr(0, 5).String()]
	if len(hops) != 1 {
		t.Fatalf("hops = %v, want exactly the one non-null slot", hops)
	}
	if hops[0]["hop"] != testAddr(0, 2).String() {
		t.Errorf("hop = %v, want %s", hops[0]["hop"], testAddr(0, 2))
	}
}

func TestHandleParentsOmitsEmptySlots(t *testing.T) {
	node := &fakeNode{statusSnapshot: mesh.Snapshot{
		Parents: []mesh.ParentEntry{
			{ParentAddr: testAddr(0, 9), Seqn: 3, Hopn: 1, RSSI: -40},
			{ParentAddr: mesh.NullAddr},
		},
	}}
	srv := newTestServer(node)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/parents")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	var out []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("parents = %v, want exactly one non-null entry", out)
	}
	if out[0]["parent_addr"] != testAddr(0, 9).String() {
		t.Errorf("parent_addr = %v, want %s", out[0]["parent_addr"], testAddr(0, 9))
	}
}
