package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mctier/lanlobby/internal/adapters/tunnel"
	"github.com/mctier/lanlobby/internal/app"
	"github.com/mctier/lanlobby/internal/chat"
	"github.com/mctier/lanlobby/internal/config"
	"github.com/mctier/lanlobby/internal/core"
	"github.com/mctier/lanlobby/internal/share"
)

type stubTunnel struct{}

func (stubTunnel) Start(context.Context, string, string, string) (string, error) {
	return "10.144.144.7", nil
}
func (stubTunnel) Stop()                     {}
func (stubTunnel) Status() core.TunnelStatus { return core.TunnelStatus{State: core.TunnelConnected} }
func (stubTunnel) VirtualIP() (string, bool) { return "10.144.144.7", true }

type stubDiscovery struct{}

func (stubDiscovery) Start(context.Context, string, string, string) error { return nil }
func (stubDiscovery) Stop()                                               {}

func newTestAPI(t *testing.T) (*httptest.Server, *app.SessionManager) {
	t.Helper()
	cfg := &config.Config{
		Mode:          "release",
		ServerNode:    "tcp://127.0.0.1:11010",
		HostVirtualIP: "10.126.126.1",
		CorePath:      "missing",
		CLIPath:       "missing",
		WorkDir:       t.TempDir(),
		StartTimeout:  time.Second,
	}
	session := app.NewSessionManager(stubTunnel{}, stubDiscovery{}, app.NewBus(), cfg.HostVirtualIP)
	api := NewAPI(cfg, session, tunnel.NewSupervisor(cfg), chat.NewStore(), share.NewRegistry(), nil)

	ts := httptest.NewServer(SetupRouter(cfg, api))
	t.Cleanup(ts.Close)
	return ts, session
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func createLobby(t *testing.T, base string) {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, base+"/api/lobby", map[string]string{
		"lobbyName":  "game night",
		"password":   "secret42",
		"playerName": "alice",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "create failed: %v", body)
}

func TestLobbyLifecycleOverHTTP(t *testing.T) {
	ts, _ := newTestAPI(t)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/lobby", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	createLobby(t, ts.URL)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/lobby", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	lobby := body["lobby"].(map[string]any)
	assert.Equal(t, "game night", lobby["name"])
	assert.Equal(t, "10.144.144.7", lobby["virtualIp"])
	assert.Len(t, body["players"], 1)

	// Second create conflicts.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/lobby", map[string]string{
		"lobbyName": "game night", "password": "secret42", "playerName": "alice",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/lobby", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/lobby", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestJoinUsesConfiguredServerNode(t *testing.T) {
	ts, session := newTestAPI(t)

	// serverNode omitted: the config default applies.
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/lobby/join", map[string]string{
		"lobbyName": "game night", "password": "secret42", "playerName": "bob",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lobby, ok := session.Lobby()
	require.True(t, ok)
	assert.Equal(t, "game night", lobby.Name)
}

func TestChatOverHTTP(t *testing.T) {
	ts, _ := newTestAPI(t)

	// Posting outside a lobby is refused.
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/chat", map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	createLobby(t, ts.URL)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/chat", map[string]string{"text": "hello"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "hello", body["text"])
	assert.Equal(t, "alice", body["playerName"])

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/chat?limit=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["messages"], 1)
}

func TestSharesOverHTTP(t *testing.T) {
	ts, _ := newTestAPI(t)
	createLobby(t, ts.URL)

	path := filepath.Join(t.TempDir(), "save.dat")
	require.NoError(t, os.WriteFile(path, []byte("save bytes"), 0o644))

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/shares", map[string]string{"path": path})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	shareID := body["id"].(string)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/shares", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["shares"], 1)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/shares/"+shareID+"/files", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	files := body["files"].([]any)
	require.Len(t, files, 1)
	assert.Equal(t, "save.dat", files[0].(map[string]any)["path"])

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/shares/"+shareID+"/verify", map[string]string{"password": ""})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	dl, err := http.Get(ts.URL + "/api/shares/" + shareID + "/download")
	require.NoError(t, err)
	defer dl.Body.Close()
	require.Equal(t, http.StatusOK, dl.StatusCode)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(dl.Body)
	require.NoError(t, err)
	assert.Equal(t, "save bytes", buf.String())

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/shares/"+shareID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/shares/"+shareID+"/download", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusEndpoint(t *testing.T) {
	ts, _ := newTestAPI(t)
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "state")
}

func TestBadBodies(t *testing.T) {
	ts, _ := newTestAPI(t)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/lobby", bytes.NewBufferString("not json"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
