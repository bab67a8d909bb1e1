package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chilledoj/ghostrace"
	"github.com/chilledoj/ghostrace/protocol"
)

func addRoutes(r chi.Router, logger *slog.Logger, reg *ghostrace.Registry) {
	r.Get("/healthz", handleHealth(reg))
	r.Route("/rooms", func(r chi.Router) {
		r.Get("/", handleListRooms(reg))
		r.Post("/", handleCreateRoom(logger, reg))
		r.Get("/{code}", handleGetRoom(reg))
		r.Get("/{code}/ws", reg.HandleSocket(func(r *http.Request) string {
			return chi.URLParam(r, "code")
		}, socketError(logger)))
	})
}

func handleHealth(reg *ghostrace.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"rooms":  reg.Len(),
		})
	}
}

func handleListRooms(reg *ghostrace.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, reg.Rooms())
	}
}

type roomDetail struct {
	ghostrace.RoomSummary
	Roster []protocol.PlayerInfo `json:"roster"`
}

func handleGetRoom(reg *ghostrace.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, ok := reg.Room(chi.URLParam(r, "code"))
		if !ok {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		roster := room.Players()
		writeJSON(w, http.StatusOK, roomDetail{
			RoomSummary: ghostrace.RoomSummary{
				Code:    room.Code,
				Phase:   room.Phase().String(),
				Players: len(roster),
			},
			Roster: roster,
		})
	}
}

func handleCreateRoom(logger *slog.Logger, reg *ghostrace.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, err := reg.AllocateCode()
		if err != nil {
			logger.Error("allocating room code", "err", err)
			writeError(w, http.StatusServiceUnavailable, "no room code available")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"code": code})
	}
}

// socketError only sees failures from before the upgrade.
func socketError(logger *slog.Logger) ghostrace.ErrorHandler {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		if errors.Is(err, ghostrace.ErrInvalidRoomCode) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Warn("socket upgrade failed", "err", err, "remote", r.RemoteAddr)
		writeError(w, http.StatusBadRequest, "websocket upgrade required")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
