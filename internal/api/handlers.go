package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/manpreetbhatti/wordrush/internal/db"
	"github.com/manpreetbhatti/wordrush/internal/ratelimit"
	"github.com/manpreetbhatti/wordrush/internal/room"
	"github.com/manpreetbhatti/wordrush/internal/ws"
)

const roomCodeLength = 6

type API struct {
	hub      *ws.Hub
	database *db.Database
	limits   room.Limits
	creates  *ratelimit.ClientLimiters
}

func New(hub *ws.Hub, database *db.Database, creates *ratelimit.ClientLimiters) *API {
	return &API{
		hub:      hub,
		database: database,
		limits:   room.DefaultLimits(),
		creates:  creates,
	}
}

// Router mounts the REST endpoints and the websocket relay
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(corsMiddleware)

	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(a.hub, w, r)
	})
	r.Get("/health", a.HealthHandler)
	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", a.StatsHandler)
		r.Get("/rooms", a.ListRoomsHandler)
		r.Post("/rooms", a.CreateRoomHandler)
		r.Get("/rooms/{roomID}", a.GetRoomHandler)
		r.Delete("/rooms/{roomID}", a.DeleteRoomHandler)
	})
	return r
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("encode json response")
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   a.hub.GetRoomCount(),
		"active_clients": a.hub.GetClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats()
		if err == nil {
			stats["total_rooms"] = dbStats.Rooms
			stats["registry_rooms"] = dbStats.RegistryRooms
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Room handlers

type RoomResponse struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	MaxPlayers  int             `json:"max_players"`
	Settings    json.RawMessage `json:"settings,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	ActiveUsers int             `json:"active_users"`
}

type CreateRoomRequest struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	MaxPlayers int            `json:"max_players"`
	Settings   *room.Settings `json:"settings,omitempty"`
}

func toResponse(rec *db.Room, active int) RoomResponse {
	return RoomResponse{
		ID:          rec.ID,
		Kind:        rec.Kind,
		MaxPlayers:  rec.MaxPlayers,
		Settings:    rec.Settings,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
		ActiveUsers: active,
	}
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	rooms, err := a.database.ListRooms(limit, offset)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list rooms")
		return
	}

	activeRooms := a.hub.GetActiveRooms()

	response := make([]RoomResponse, len(rooms))
	for i := range rooms {
		response[i] = toResponse(&rooms[i], activeRooms[rooms[i].ID])
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms":  response,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	if a.creates != nil && !a.creates.Allow(clientKey(r)) {
		errorResponse(w, http.StatusTooManyRequests, "Too many rooms created, slow down")
		return
	}

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Kind == "" {
		req.Kind = room.KindPush
	}
	if req.Kind != room.KindPush && req.Kind != room.KindRegistry {
		errorResponse(w, http.StatusBadRequest, "Unknown room kind")
		return
	}

	var settings json.RawMessage
	if req.Kind == room.KindRegistry {
		if req.Settings == nil {
			errorResponse(w, http.StatusBadRequest, "Registry rooms require settings")
			return
		}
		if err := a.limits.ValidateSettings(*req.Settings); err != nil {
			errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		encoded, err := json.Marshal(req.Settings)
		if err != nil {
			errorResponse(w, http.StatusInternalServerError, "Failed to encode settings")
			return
		}
		settings = encoded
		// Registry rooms are sized by their canonical settings
		req.MaxPlayers = req.Settings.MaxPlayers
	}

	if req.MaxPlayers == 0 {
		req.MaxPlayers = room.DefaultSettings().MaxPlayers
	}
	if !a.limits.MaxPlayers.Contains(req.MaxPlayers) {
		errorResponse(w, http.StatusBadRequest, "max_players out of range")
		return
	}

	if req.ID == "" {
		req.ID = newRoomCode()
	}

	rec, err := a.database.CreateRoom(req.ID, req.Kind, req.MaxPlayers, settings)
	if errors.Is(err, db.ErrRoomExists) {
		errorResponse(w, http.StatusConflict, "Room already exists")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("room", req.ID).Msg("create room")
		errorResponse(w, http.StatusInternalServerError, "Failed to create room")
		return
	}

	jsonResponse(w, http.StatusCreated, toResponse(rec, 0))
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	rec, err := a.database.GetRoom(roomID)
	if errors.Is(err, db.ErrRoomNotFound) {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}

	jsonResponse(w, http.StatusOK, toResponse(rec, a.hub.GetActiveRooms()[roomID]))
}

// Live rooms cannot be deleted; the relay removes them when the last member leaves
func (a *API) DeleteRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	if a.hub.HasRoom(roomID) {
		errorResponse(w, http.StatusConflict, "Room has connected players")
		return
	}

	if _, err := a.database.GetRoom(roomID); errors.Is(err, db.ErrRoomNotFound) {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	if err := a.database.DeleteRoom(roomID); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to delete room")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Short upper-case code players can type
func newRoomCode() string {
	code := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(code[:roomCodeLength])
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
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
