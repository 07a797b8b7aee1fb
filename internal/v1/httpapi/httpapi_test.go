package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhyline/rhyline-server/internal/v1/config"
	"github.com/rhyline/rhyline-server/internal/v1/identity"
	"github.com/rhyline/rhyline-server/internal/v1/protocol"
	"github.com/rhyline/rhyline-server/internal/v1/replay"
	"github.com/rhyline/rhyline-server/internal/v1/room"
	"github.com/rhyline/rhyline-server/internal/v1/session"
	"github.com/rhyline/rhyline-server/internal/v1/store"
	"github.com/rhyline/rhyline-server/internal/v1/trust"
)

type stubIdentity struct {
	users map[string]identity.Me
}

func (s *stubIdentity) Me(_ context.Context, token string) (identity.Me, error) {
	me, ok := s.users[token]
	if !ok {
		return identity.Me{}, errors.New("401")
	}
	return me, nil
}

func (s *stubIdentity) ChartName(_ context.Context, id int32) string {
	return fmt.Sprintf("Chart%d", id)
}

func (s *stubIdentity) Record(_ context.Context, id int32) (identity.Record, error) {
	return identity.Record{}, errors.New("404")
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, http.Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.DataDir = dir
	cfg.AdminDataPath = filepath.Join(dir, "admin_data.json")
	if mutate != nil {
		mutate(cfg)
	}

	data, err := store.Load(cfg.AdminDataPath)
	require.NoError(t, err)
	stub := &stubIdentity{users: map[string]identity.Me{
		"token-a": {ID: 42, Name: "A"},
	}}
	hub := session.NewHub(cfg, stub, data, nil)

	srv := NewServer(cfg, hub, stub, nil,
		trust.NewOTPStore(), trust.NewTokenStore(), trust.NewBlacklist(),
		replay.NewSessions([]byte("test-secret")))
	router, err := srv.Router()
	require.NoError(t, err)
	return srv, router
}

type request struct {
	method string
	path   string
	body   any
	header map[string]string
	addr   string
}

func do(t *testing.T, h http.Handler, r request) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	var body *bytes.Buffer = bytes.NewBuffer(nil)
	if r.body != nil {
		raw, err := json.Marshal(r.body)
		require.NoError(t, err)
		body = bytes.NewBuffer(raw)
	}
	req := httptest.NewRequest(r.method, r.path, body)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range r.header {
		req.Header.Set(k, v)
	}
	if r.addr != "" {
		req.RemoteAddr = r.addr
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]json.RawMessage
	if strings.Contains(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func field[T any](t *testing.T, body map[string]json.RawMessage, key string) T {
	t.Helper()
	var v T
	require.Contains(t, body, key)
	require.NoError(t, json.Unmarshal(body[key], &v))
	return v
}

func TestStatus(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec, body := do(t, h, request{method: http.MethodGet, path: "/status"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rhyline", field[string](t, body, "serverName"))
	assert.Equal(t, "1.0.0", field[string](t, body, "version"))
	assert.Equal(t, 0, field[int](t, body, "roomCount"))
	assert.Equal(t, 0, field[int](t, body, "userCount"))
}

func TestPublicRoomListingsEmpty(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec, body := do(t, h, request{method: http.MethodGet, path: "/rooms"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, field[int](t, body, "count"))

	rec, body = do(t, h, request{method: http.MethodGet, path: "/room"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, field[int](t, body, "total"))
}

func TestRoomSummaryProjection(t *testing.T) {
	chart := &room.ChartInfo{ID: 100, Name: "Spectrum"}
	snap := room.Snapshot{
		ID:         "match-1",
		Stage:      protocol.StageWaitingForReady,
		HostID:     42,
		HostName:   "A",
		Players:    []protocol.UserInfo{{ID: 42, Name: "A"}, {ID: 43, Name: "B"}},
		Monitors:   []protocol.UserInfo{{ID: 50, Name: "caster", Monitor: true}},
		Locked:     true,
		Recruiting: false,
		MaxPlayers: 8,
		Chart:      chart,
	}
	out := summarize(snap)
	assert.Equal(t, "match-1", out.ID)
	assert.Equal(t, "WaitingForReady", out.State)
	assert.Equal(t, 2, out.PlayerCount)
	assert.Equal(t, 1, out.MonitorCount)
	assert.True(t, out.IsLocked)
	require.NotNil(t, out.SelectedChartID)
	assert.Equal(t, int32(100), *out.SelectedChartID)
	require.Len(t, out.Players, 3)
	assert.True(t, out.Players[2].IsMonitor)
}

func TestAdminAuthMatrix(t *testing.T) {
	_, h := newTestServer(t, func(cfg *config.Config) {
		cfg.AdminToken = "secret"
		cfg.ViewToken = "viewer"
	})

	rec, body := do(t, h, request{method: http.MethodGet, path: "/admin/rooms"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing-token", field[string](t, body, "error"))

	rec, _ = do(t, h, request{method: http.MethodGet, path: "/admin/rooms?token=wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// All three token transports are accepted.
	rec, _ = do(t, h, request{method: http.MethodGet, path: "/admin/rooms?token=secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, h, request{method: http.MethodGet, path: "/admin/rooms",
		header: map[string]string{"X-Admin-Token": "secret"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, h, request{method: http.MethodGet, path: "/admin/rooms",
		header: map[string]string{"Authorization": "Bearer secret"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	// The view token reads but never writes.
	rec, _ = do(t, h, request{method: http.MethodGet, path: "/admin/rooms?token=viewer"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, body = do(t, h, request{method: http.MethodPost, path: "/admin/broadcast?token=viewer",
		body: gin.H{"message": "hi"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "view-token-readonly", field[string](t, body, "error"))
}

func TestOTPDisabledWithPermanentToken(t *testing.T) {
	_, h := newTestServer(t, func(cfg *config.Config) { cfg.AdminToken = "secret" })
	rec, body := do(t, h, request{method: http.MethodPost, path: "/admin/otp/request"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "otp-disabled", field[string](t, body, "error"))
}

func TestOTPFlowIssuesIPBoundToken(t *testing.T) {
	srv, h := newTestServer(t, nil)

	rec, body := do(t, h, request{method: http.MethodPost, path: "/admin/otp/request"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, field[string](t, body, "ssid"))

	// The password never travels in the response; operators read it from the
	// server log. The test reaches into the store the same way.
	ssid, otp := srv.otps.Create()
	rec, body = do(t, h, request{
		method: http.MethodPost,
		path:   "/admin/otp/verify",
		body:   gin.H{"ssid": ssid, "otp": otp},
		addr:   "127.0.0.1:5000",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	token := field[string](t, body, "token")
	assert.Equal(t, trust.TempTokenTTL.Milliseconds(), field[int64](t, body, "expiresIn"))

	// Loopback-bound tokens work from any loopback address.
	rec, _ = do(t, h, request{method: http.MethodGet, path: "/admin/rooms?token=" + token,
		addr: "[::1]:9999"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// A foreign address is rejected and the token is evicted.
	rec, _ = do(t, h, request{method: http.MethodGet, path: "/admin/rooms?token=" + token,
		addr: "203.0.113.9:443"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = do(t, h, request{method: http.MethodGet, path: "/admin/rooms?token=" + token,
		addr: "127.0.0.1:5000"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOTPWrongGuessBurnsRequest(t *testing.T) {
	srv, h := newTestServer(t, nil)
	ssid, otp := srv.otps.Create()

	rec, _ := do(t, h, request{method: http.MethodPost, path: "/admin/otp/verify",
		body: gin.H{"ssid": ssid, "otp": "nope00"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, h, request{method: http.MethodPost, path: "/admin/otp/verify",
		body: gin.H{"ssid": ssid, "otp": otp}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRepeatedAuthFailuresBlacklistIP(t *testing.T) {
	_, h := newTestServer(t, func(cfg *config.Config) { cfg.AdminToken = "secret" })
	attacker := "203.0.113.7:1000"

	for i := 0; i < 5; i++ {
		rec, _ := do(t, h, request{method: http.MethodGet,
			path: "/admin/rooms?token=wrong", addr: attacker})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	// Even the right token is refused once the IP is banned.
	rec, body := do(t, h, request{method: http.MethodGet,
		path: "/admin/rooms?token=secret", addr: attacker})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "ip-blacklisted", field[string](t, body, "error"))

	// Other addresses are unaffected.
	rec, _ = do(t, h, request{method: http.MethodGet,
		path: "/admin/rooms?token=secret", addr: "198.51.100.2:1000"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFeatureToggles(t *testing.T) {
	_, h := newTestServer(t, func(cfg *config.Config) { cfg.AdminToken = "secret" })
	auth := map[string]string{"X-Admin-Token": "secret"}

	rec, body := do(t, h, request{method: http.MethodGet, path: "/admin/replay/config", header: auth})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, field[bool](t, body, "enabled"))

	rec, _ = do(t, h, request{method: http.MethodPost, path: "/admin/replay/config",
		body: gin.H{"enabled": true}, header: auth})
	require.Equal(t, http.StatusOK, rec.Code)
	_, body = do(t, h, request{method: http.MethodGet, path: "/admin/replay/config", header: auth})
	assert.True(t, field[bool](t, body, "enabled"))

	_, body = do(t, h, request{method: http.MethodGet, path: "/admin/room-creation/config", header: auth})
	assert.True(t, field[bool](t, body, "enabled"))

	// Missing "enabled" is rejected rather than defaulting to false.
	rec, body = do(t, h, request{method: http.MethodPost, path: "/admin/room-creation/config",
		body: gin.H{}, header: auth})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid-request", field[string](t, body, "error"))
}

func TestBlacklistAdminEndpoints(t *testing.T) {
	srv, h := newTestServer(t, func(cfg *config.Config) { cfg.AdminToken = "secret" })
	auth := map[string]string{"X-Admin-Token": "secret"}

	srv.blacklist.Add("203.0.113.50", trust.AutoBanTTL)
	_, body := do(t, h, request{method: http.MethodGet, path: "/admin/ip-blacklist", header: auth})
	entries := field[[]trust.BlacklistEntry](t, body, "entries")
	require.Len(t, entries, 1)
	assert.Equal(t, "203.0.113.50", entries[0].IP)

	rec, _ := do(t, h, request{method: http.MethodPost, path: "/admin/ip-blacklist/remove",
		body: gin.H{"ip": "203.0.113.50"}, header: auth})
	require.Equal(t, http.StatusOK, rec.Code)
	_, body = do(t, h, request{method: http.MethodGet, path: "/admin/ip-blacklist", header: auth})
	assert.Empty(t, field[[]trust.BlacklistEntry](t, body, "entries"))

	srv.blacklist.Add("203.0.113.51", trust.AutoBanTTL)
	rec, _ = do(t, h, request{method: http.MethodPost, path: "/admin/ip-blacklist/clear", header: auth})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, srv.blacklist.IsBlacklisted("203.0.113.51"))
}

func TestAdminValidationErrors(t *testing.T) {
	_, h := newTestServer(t, func(cfg *config.Config) { cfg.AdminToken = "secret" })
	auth := map[string]string{"X-Admin-Token": "secret"}

	rec, body := do(t, h, request{method: http.MethodPost, path: "/admin/rooms/nosuch/disband", header: auth})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "room-not-found", field[string](t, body, "error"))

	rec, body = do(t, h, request{method: http.MethodGet, path: "/admin/users/99", header: auth})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "user-not-found", field[string](t, body, "error"))

	rec, body = do(t, h, request{method: http.MethodGet, path: "/admin/users/abc", header: auth})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid-user-id", field[string](t, body, "error"))

	rec, body = do(t, h, request{method: http.MethodPost, path: "/admin/broadcast",
		body: gin.H{}, header: auth})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "message-required", field[string](t, body, "error"))

	long := strings.Repeat("字", maxChatLength+1)
	rec, body = do(t, h, request{method: http.MethodPost, path: "/admin/broadcast",
		body: gin.H{"message": long}, header: auth})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "message-too-long", field[string](t, body, "error"))
}

func TestReplayAuthListsFiles(t *testing.T) {
	srv, h := newTestServer(t, nil)
	path := replay.FilePath(srv.recordDir, 42, 100, 1700000000000)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("replay-bytes"), 0o644))

	rec, body := do(t, h, request{method: http.MethodPost, path: "/replay/auth",
		body: gin.H{"token": "token-a"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(42), field[int32](t, body, "userId"))
	assert.NotEmpty(t, field[string](t, body, "sessionToken"))

	files := field[map[string][]replay.FileInfo](t, body, "files")
	require.Contains(t, files, "100")
	require.Len(t, files["100"], 1)
	assert.Equal(t, int64(1700000000000), files["100"][0].Timestamp)

	rec, body = do(t, h, request{method: http.MethodPost, path: "/replay/auth",
		body: gin.H{"token": "bad-token"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "authentication-failed", field[string](t, body, "error"))
}

func TestReplayDownloadAndDelete(t *testing.T) {
	srv, h := newTestServer(t, nil)
	content := []byte("replay-bytes")
	path := replay.FilePath(srv.recordDir, 42, 100, 1700000000000)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))

	token, err := srv.replaySessions.Issue(42)
	require.NoError(t, err)
	download := "/replay/download?sessionToken=" + token + "&chartId=100&timestamp=1700000000000"

	rec, _ := do(t, h, request{method: http.MethodGet, path: download})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=1700000000000.phirarec",
		rec.Header().Get("Content-Disposition"))
	assert.Equal(t, content, rec.Body.Bytes())

	rec, body := do(t, h, request{method: http.MethodGet,
		path: "/replay/download?sessionToken=garbage&chartId=100&timestamp=1700000000000"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid-session", field[string](t, body, "error"))

	rec, _ = do(t, h, request{method: http.MethodPost, path: "/replay/delete",
		body: gin.H{"sessionToken": token, "chartId": 100, "timestamp": 1700000000000}})
	require.Equal(t, http.StatusOK, rec.Code)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	rec, body = do(t, h, request{method: http.MethodPost, path: "/replay/delete",
		body: gin.H{"sessionToken": token, "chartId": 100, "timestamp": 1700000000000}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "replay-not-found", field[string](t, body, "error"))
}

func TestHealthEndpoints(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec, body := do(t, h, request{method: http.MethodGet, path: "/health/live"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alive", field[string](t, body, "status"))

	rec, body = do(t, h, request{method: http.MethodGet, path: "/health/ready"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", field[string](t, body, "status"))
}
