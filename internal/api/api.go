package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"goji.io/v3"
	"goji.io/v3/pat"

	"github.com/manpreetbhatti/drawsync/internal/db"
	"github.com/manpreetbhatti/drawsync/internal/protocol"
	"github.com/manpreetbhatti/drawsync/internal/ratelimit"
	"github.com/manpreetbhatti/drawsync/internal/updates"
	"github.com/manpreetbhatti/drawsync/internal/ws"
)

type Options struct {
	// Session protocol run for every socket connection
	Handler ws.MessageHandler
	// Binary storage behind /api/updates; nil disables those routes
	Updates *updates.Store
	// Per-IP limiter for socket connection attempts; nil disables it
	ConnLimiter *ratelimit.ClientLimiters

	Client        ws.Config
	LegacyGeoShim bool
	MaxUploadSize int64
}

type API struct {
	hub        *ws.Hub
	database   *db.Database
	normalizer *protocol.Normalizer
	opts       Options
}

func New(hub *ws.Hub, database *db.Database, opts Options) *API {
	return &API{
		hub:        hub,
		database:   database,
		normalizer: protocol.NewNormalizer(opts.LegacyGeoShim),
		opts:       opts,
	}
}

// Routes builds the full HTTP surface: socket endpoint, REST and health
func (a *API) Routes() http.Handler {
	mux := goji.NewMux()
	mux.Use(corsMiddleware)

	mux.HandleFunc(pat.Get("/health"), a.HealthHandler)
	mux.HandleFunc(pat.Get("/api/status"), a.StatusHandler)

	mux.HandleFunc(pat.Get("/ws/:room"), a.WebSocketHandler)

	mux.HandleFunc(pat.Get("/api/rooms"), a.ListRoomsHandler)
	mux.HandleFunc(pat.Get("/api/rooms/:room"), a.GetRoomHandler)
	mux.HandleFunc(pat.Get("/api/rooms/:room/drawings"), a.GetDrawingsHandler)
	mux.HandleFunc(pat.Delete("/api/rooms/:room/drawings"), a.ClearDrawingsHandler)
	mux.HandleFunc(pat.Get("/api/rooms/:room/templates"), a.GetTemplatesHandler)
	mux.HandleFunc(pat.Post("/api/rooms/:room/join"), a.JoinRoomHandler)
	mux.HandleFunc(pat.Get("/api/rooms/:room/export"), a.ExportRoomHandler)

	mux.HandleFunc(pat.Post("/api/events/:room"), a.CreateEventHandler)
	mux.HandleFunc(pat.Get("/api/events/:room"), a.ListEventsHandler)
	mux.HandleFunc(pat.Delete("/api/events/:room"), a.ClearEventsHandler)
	mux.HandleFunc(pat.Get("/api/events/:room/:id"), a.GetEventHandler)
	mux.HandleFunc(pat.Delete("/api/events/:room/:id"), a.DeleteEventHandler)

	if a.opts.Updates != nil {
		mux.HandleFunc(pat.Get("/api/updates/check/:platform"), a.CheckUpdateHandler)
		mux.HandleFunc(pat.Get("/api/updates/download/:platform"), a.DownloadUpdateHandler)
		mux.HandleFunc(pat.Post("/api/updates/upload/:platform"), a.UploadUpdateHandler)
		mux.HandleFunc(pat.Get("/api/updates/versions/:platform"), a.ListVersionsHandler)
	}

	return mux
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encode JSON response", "error", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatusHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"status":         "running",
		"active_rooms":   a.hub.GetRoomCount(),
		"active_clients": a.hub.GetClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats()
		if err != nil {
			slog.Error("load stats", "error", err)
		} else {
			for k, v := range dbStats {
				stats["total_"+k] = v
			}
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// WebSocketHandler upgrades /ws/:room into a session for that room
func (a *API) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	roomID := pat.Param(r, "room")
	if roomID == "" {
		errorResponse(w, http.StatusBadRequest, "Room ID is required")
		return
	}

	if a.opts.ConnLimiter != nil {
		ip := ratelimit.ClientIP(r)
		if !a.opts.ConnLimiter.Allow(ip) {
			slog.Warn("connection rate limit exceeded", "ip", ip, "room", roomID)
			errorResponse(w, http.StatusTooManyRequests, "Too many connection attempts")
			return
		}
	}

	ws.ServeWs(a.opts.Handler, w, r, roomID, a.opts.Client)
}
