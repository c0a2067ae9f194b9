package debugapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	core "github.com/vaultmesh/core"
	"github.com/vaultmesh/core/radio"
)

func newTestBackend(t *testing.T) *core.Backend {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := "DataDirectory: " + filepath.Join(dir, "data") + "\nNickname: Alice\nBattery: normal\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}

	mesh := radio.NewMesh()
	node := mesh.Node("alice")

	backend, status, err := core.Init("alice-agent/1.0", configPath, node, node, nil)
	if err != nil || status != core.ExitSuccess {
		t.Fatalf("Init: status=%d err=%v", status, err)
	}
	if _, _, err := backend.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(backend.Stop)
	return backend
}

func TestIsLoopbackAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:8182": true,
		"localhost:8182": true,
		"[::1]:8182":     true,
		"0.0.0.0:8182":   false,
		"10.0.0.5:8182":  false,
		":8182":          false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestStartRejectsNonLoopback(t *testing.T) {
	backend := newTestBackend(t)
	if _, err := Start(backend, "0.0.0.0:0"); err != ErrNotLoopback {
		t.Fatalf("expected ErrNotLoopback, got %v", err)
	}
}

func TestHandlePeersAndStats(t *testing.T) {
	backend := newTestBackend(t)
	api := &Instance{Backend: backend, Router: nil}

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	api.handleStats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var stats core.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if !stats.Started {
		t.Fatal("expected Started to be true")
	}
	if stats.PeerID == "" {
		t.Fatal("expected a non-empty peerID")
	}

	req = httptest.NewRequest(http.MethodGet, "/peers", nil)
	rec = httptest.NewRecorder()
	api.handlePeers(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var peers []core.PeerInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &peers); err != nil {
		t.Fatalf("decoding peers: %v", err)
	}
	if len(peers) != 0 {
		t.Fatalf("expected no peers yet, got %d", len(peers))
	}
}

func TestStartServesStats(t *testing.T) {
	backend := newTestBackend(t)

	api, err := Start(backend, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { api.Stop() })

	resp, err := http.Get("http://" + api.Addr() + "/stats")
	if err != nil {
		t.Fatalf("GET /stats: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var stats core.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if !stats.Started {
		t.Fatal("expected Started to be true")
	}
}
