package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/events"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, *orch.Loop) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<h1>huddle</h1>"), 0o600))
	cfg := &config.Config{
		Mode:       "test",
		Secret:     "test-secret",
		StaticPath: static,
		Signal: config.SignalConfig{
			ReadLimit:  65536,
			PingPeriod: time.Second,
			PongWait:   2 * time.Second,
			WriteWait:  time.Second,
		},
	}

	loop := orch.NewLoop(orch.New(orch.Options{}, events.Nop{}), app.NewRegistry(), app.SimplePolicy{}, 16)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()
	t.Cleanup(cancel)

	return SetupRouter(ctx, cfg, loop), loop
}

func TestRouter_Healthz(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "HuddleSessions=")
}

func TestRouter_Index(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "huddle")
}

func TestRouter_Rooms(t *testing.T) {
	r, loop := newTestRouter(t)

	require.NoError(t, loop.Submit(context.Background(), "a", protocol.JoinRoom{RoomID: "standup", UserName: "Ann"}))
	require.NoError(t, loop.Submit(context.Background(), "b", protocol.JoinRoom{RoomID: "design", UserName: "Bob"}))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status protocol.RoomStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Len(t, status.Rooms, 2)
	assert.Equal(t, 1, status.Rooms["standup"].Users)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms?meeting=design", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	status = protocol.RoomStatus{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Len(t, status.Rooms, 1)
	assert.Contains(t, status.Rooms, domain.RoomID("design"))
}

func TestClientTokenMiddleware_StableAcrossRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(sessions.Sessions("HuddleSessions", cookie.NewStore([]byte("k"))))
	r.Use(ClientTokenMiddleware())
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("client_token"))
	})

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	token := first.Body.String()
	require.NotEmpty(t, token)
	cookies := first.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	second := httptest.NewRecorder()
	r.ServeHTTP(second, req)
	assert.Equal(t, token, second.Body.String())

	third := httptest.NewRecorder()
	r.ServeHTTP(third, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.NotEqual(t, token, third.Body.String(), "new browser, new token")
}
