package blackjack

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

const InstanceHeader = "X-Instance-Name"

type actionRequest struct {
	Player int    `json:"player"`
	Action string `json:"action"`
}

type Handler struct {
	store    *Store
	instance string
	logger   *slog.Logger
	mux      *http.ServeMux
}

// NewHandler serves the game API for store. instance is echoed in the
// X-Instance-Name header of every response.
func NewHandler(store *Store, instance string, logger *slog.Logger) *Handler {
	h := &Handler{
		store:    store,
		instance: instance,
		logger:   logger,
		mux:      http.NewServeMux(),
	}

	h.mux.HandleFunc("/game/start/", h.handleStart)
	h.mux.HandleFunc("/game/state/", h.handleState)
	h.mux.HandleFunc("/game/action/", h.handleAction)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.instance != "" {
		w.Header().Set(InstanceHeader, h.instance)
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	room, ok := roomID(r.URL.Path)
	if !ok {
		http.Error(w, "Missing gameroomid", http.StatusBadRequest)
		return
	}

	game := h.store.Start(room)
	h.logger.Info("Game started", slog.String("room", room))
	h.writeGame(w, game)
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	room, ok := roomID(r.URL.Path)
	if !ok {
		http.Error(w, "Missing gameroomid", http.StatusBadRequest)
		return
	}

	game, err := h.store.Get(room)
	if err != nil {
		http.Error(w, "Game not found", http.StatusNotFound)
		return
	}

	h.writeGame(w, game)
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	room, ok := roomID(r.URL.Path)
	if !ok {
		http.Error(w, "Missing gameroomid", http.StatusBadRequest)
		return
	}

	if !h.store.Playable(room) {
		http.Error(w, "Game not found or not in playing state", http.StatusBadRequest)
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid input", http.StatusBadRequest)
		return
	}

	game, err := h.store.Act(room, req.Player, req.Action)
	if err != nil {
		http.Error(w, actionErrorText(err), http.StatusBadRequest)
		return
	}

	if game.Status == StatusFinished {
		h.logger.Info("Game finished",
			slog.String("room", room),
			slog.Any("results", game.Results))
	}

	h.writeGame(w, game)
}

func (h *Handler) writeGame(w http.ResponseWriter, game *Game) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(game); err != nil {
		h.logger.Warn("Failed to write game state", slog.Any("err", err))
	}
}

// roomID returns the segment after /game/<verb>/.
func roomID(path string) (string, bool) {
	seg := strings.Split(path, "/")
	if len(seg) < 4 || seg[3] == "" {
		return "", false
	}
	return seg[3], true
}

func actionErrorText(err error) string {
	switch {
	case errors.Is(err, ErrNotPlaying):
		return "Game not found or not in playing state"
	case errors.Is(err, ErrInvalidPlayer):
		return "Invalid player"
	case errors.Is(err, ErrPlayerFinished):
		return "Player already finished"
	case errors.Is(err, ErrUnknownAction):
		return "Unknown action"
	default:
		return err.Error()
	}
}
