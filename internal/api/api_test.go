package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manpreetbhatti/drawsync/internal/db"
	"github.com/manpreetbhatti/drawsync/internal/protocol"
	"github.com/manpreetbhatti/drawsync/internal/ratelimit"
	"github.com/manpreetbhatti/drawsync/internal/updates"
	"github.com/manpreetbhatti/drawsync/internal/ws"
)

type listener struct {
	id, room string
	mu       sync.Mutex
	got      []map[string]any
}

func (l *listener) ID() string   { return l.id }
func (l *listener) Room() string { return l.room }
func (l *listener) Close() error { return nil }

func (l *listener) Send(data []byte) error {
	var msg map[string]any
	_ = json.Unmarshal(data, &msg)
	l.mu.Lock()
	l.got = append(l.got, msg)
	l.mu.Unlock()
	return nil
}

func (l *listener) lastType() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.got) == 0 {
		return ""
	}
	return l.got[len(l.got)-1]["type"].(string)
}

type testEnv struct {
	api      *API
	hub      *ws.Hub
	database *db.Database
	handler  http.Handler
}

func setupTestAPI(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	database, err := db.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	releases, err := updates.NewStore(filepath.Join(dir, "updates"), 1<<20, database)
	require.NoError(t, err)

	limiter := ratelimit.NewClientLimiters(60, 1)
	t.Cleanup(limiter.Stop)

	hub := ws.NewHub(nil)
	a := New(hub, database, Options{
		Handler:       protocol.NewHandler(hub, database, protocol.Options{}),
		Updates:       releases,
		ConnLimiter:   limiter,
		MaxUploadSize: 1 << 20,
	})
	return &testEnv{api: a, hub: hub, database: database, handler: a.Routes()}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)

	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

const eventBody = `{"event_id":"e1","drawing_type":"line","action":"create","platform":"web","data":{"x":1}}`

func TestHealth(t *testing.T) {
	env := setupTestAPI(t)

	w, resp := env.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestPreflight(t *testing.T) {
	env := setupTestAPI(t)
	w, _ := env.do(t, "OPTIONS", "/api/events/r1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateEventThenConflict(t *testing.T) {
	env := setupTestAPI(t)
	l := &listener{id: "l", room: "r1"}
	env.hub.Join(l)

	w, resp := env.do(t, "POST", "/api/events/r1", strings.NewReader(eventBody))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "e1", resp["event_id"])
	assert.Equal(t, "drawing_event", l.lastType())

	w, _ = env.do(t, "POST", "/api/events/r1", strings.NewReader(eventBody))
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = env.do(t, "POST", "/api/events/r2", strings.NewReader(eventBody))
	assert.Equal(t, http.StatusConflict, w.Code, "event ids are unique across rooms")
}

func TestCreateEventValidation(t *testing.T) {
	env := setupTestAPI(t)

	w, resp := env.do(t, "POST", "/api/events/r1", strings.NewReader(`{"event_id":"e1"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, resp["error"], "drawing_type")
}

func TestGetEventStatuses(t *testing.T) {
	env := setupTestAPI(t)
	w, _ := env.do(t, "POST", "/api/events/r1", strings.NewReader(eventBody))
	require.Equal(t, http.StatusOK, w.Code)

	w, resp := env.do(t, "GET", "/api/events/r1/e1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "r1", resp["room_id"])
	assert.Equal(t, "e1", resp["event_id"])

	w, _ = env.do(t, "GET", "/api/events/r1/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = env.do(t, "GET", "/api/events/r2/e1", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp = env.do(t, "GET", "/api/events/r1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), resp["count"])
}

func TestDeleteEvent(t *testing.T) {
	env := setupTestAPI(t)
	l := &listener{id: "l", room: "r1"}
	env.hub.Join(l)
	env.do(t, "POST", "/api/events/r1", strings.NewReader(eventBody))

	w, _ := env.do(t, "DELETE", "/api/events/r2/e1", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = env.do(t, "DELETE", "/api/events/r1/e1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "drawing_event_deleted", l.lastType())

	w, _ = env.do(t, "DELETE", "/api/events/r1/e1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestClearEvents(t *testing.T) {
	env := setupTestAPI(t)
	l := &listener{id: "l", room: "r1"}
	env.hub.Join(l)
	env.do(t, "POST", "/api/events/r1", strings.NewReader(eventBody))

	w, resp := env.do(t, "DELETE", "/api/events/r1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), resp["removed"])
	assert.Equal(t, "clear_events", l.lastType())

	count, err := env.database.CountEvents("r1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRoomEndpoints(t *testing.T) {
	env := setupTestAPI(t)
	l := &listener{id: "l", room: "r1"}
	env.hub.Join(l)

	require.NoError(t, env.database.AppendAction("r1", protocol.DrawingAction{Action: "draw", Color: "#000000", Size: 5, Tool: "brush", Timestamp: time.Now().UTC()}))
	_, err := env.database.SaveTemplate("r1", "Grid", json.RawMessage(`{"name":"Grid"}`))
	require.NoError(t, err)

	w, resp := env.do(t, "GET", "/api/rooms", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), resp["count"])
	require.Len(t, resp["stored_rooms"], 1)
	assert.Equal(t, "r1", resp["stored_rooms"].([]any)[0].(map[string]any)["id"])

	w, resp = env.do(t, "GET", "/api/rooms/r1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), resp["drawings_count"])
	assert.Equal(t, float64(1), resp["templates_count"])
	live := resp["room"].(map[string]any)
	assert.Equal(t, float64(1), live["users_count"])
	stored := resp["stored"].(map[string]any)
	assert.NotEmpty(t, stored["created_at"])

	w, resp = env.do(t, "GET", "/api/rooms/idle", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), resp["room"].(map[string]any)["users_count"])
	assert.NotContains(t, resp, "stored")

	w, resp = env.do(t, "GET", "/api/rooms/r1/templates", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), resp["count"])

	w, resp = env.do(t, "POST", "/api/rooms/r1/join", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/ws/r1", resp["websocket_url"])

	w, resp = env.do(t, "GET", "/api/rooms/r1/export", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp["drawings"], 1)
	assert.Len(t, resp["templates"], 1)

	w, _ = env.do(t, "DELETE", "/api/rooms/r1/drawings", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "clear", l.lastType())
	l.mu.Lock()
	assert.Equal(t, "api", l.got[len(l.got)-1]["source"])
	l.mu.Unlock()

	w, resp = env.do(t, "GET", "/api/rooms/r1/drawings", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), resp["count"])
}

func TestListRoomsPaging(t *testing.T) {
	env := setupTestAPI(t)
	for _, id := range []string{"a", "b", "c"} {
		_, err := env.database.SaveTemplate(id, "t", json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	w, resp := env.do(t, "GET", "/api/rooms?limit=2", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp["stored_rooms"], 2)
	assert.Equal(t, float64(0), resp["count"])

	w, resp = env.do(t, "GET", "/api/rooms?limit=2&offset=2", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp["stored_rooms"], 1)

	for _, query := range []string{"limit=0", "limit=abc", "offset=-1"} {
		w, _ = env.do(t, "GET", "/api/rooms?"+query, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
	}
}

func TestStatus(t *testing.T) {
	env := setupTestAPI(t)
	env.hub.Join(&listener{id: "l", room: "r1"})

	w, resp := env.do(t, "GET", "/api/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), resp["active_rooms"])
	assert.Equal(t, float64(1), resp["active_clients"])
	assert.Contains(t, resp, "total_event_count")
}

func TestWebSocketConnectionLimit(t *testing.T) {
	env := setupTestAPI(t)

	// the first attempt consumes the only token; it fails the upgrade
	// because the recorder is not a real socket
	env.do(t, "GET", "/ws/r1", nil)

	w, _ := env.do(t, "GET", "/ws/r1", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func multipartUpload(t *testing.T, fields map[string]string, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, k := range []string{"version", "release_notes", "is_required"} {
		if v, ok := fields[k]; ok {
			require.NoError(t, mw.WriteField(k, v))
		}
	}
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUpdatesFlow(t *testing.T) {
	env := setupTestAPI(t)

	w, resp := env.do(t, "GET", "/api/updates/check/android?current_version=1.0.0", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, resp["has_update"])

	w, _ = env.do(t, "GET", "/api/updates/check/ios", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, contentType := multipartUpload(t, map[string]string{
		"version":       "2.0.0",
		"release_notes": "new brushes",
		"is_required":   "true",
	}, "drawing.APK", "apk-bytes")
	req := httptest.NewRequest("POST", "/api/updates/upload/android", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	w, resp = env.do(t, "GET", "/api/updates/check/android?current_version=1.0.0", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["has_update"])
	assert.Equal(t, "2.0.0", resp["latest_version"])

	w, _ = env.do(t, "GET", "/api/updates/download/android", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "apk-bytes", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "DrawingApp_2.0.0.apk")

	w, resp = env.do(t, "GET", "/api/updates/versions/android", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp["versions"], 1)
}

func TestUploadRejectsWrongExtension(t *testing.T) {
	env := setupTestAPI(t)

	body, contentType := multipartUpload(t, map[string]string{"version": "1.0.0"}, "drawing.exe", "x")
	req := httptest.NewRequest("POST", "/api/updates/upload/android", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadRejectsBadRequiredFlag(t *testing.T) {
	env := setupTestAPI(t)

	body, contentType := multipartUpload(t, map[string]string{"version": "1.0.0", "is_required": "yes"}, "drawing.apk", "x")
	req := httptest.NewRequest("POST", "/api/updates/upload/android", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "is_required")

	versions, err := env.database.ListAppVersions("android")
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestCreateEventKeepsContent(t *testing.T) {
	env := setupTestAPI(t)

	body := `{"event_id":"e1","event_name":"Tom & Jerry","drawing_type":"line","action":"create","platform":"web","timestamp":"2262-04-11T23:47:16Z","data":{"x":1}}`
	w, _ := env.do(t, "POST", "/api/events/r1", strings.NewReader(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, resp := env.do(t, "GET", "/api/events/r1/e1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Tom & Jerry", resp["event_name"])
	assert.Equal(t, "2262-04-11T23:47:16Z", resp["timestamp"])

	late := strings.Replace(body, `"e1"`, `"e2"`, 1)
	late = strings.Replace(late, "2262-04-11T23:47:16Z", "2300-01-01T00:00:00Z", 1)
	w, resp = env.do(t, "POST", "/api/events/r1", strings.NewReader(late))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, resp["error"], "timestamp")
}
