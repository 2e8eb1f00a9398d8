package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"botwatch/internal/model"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// WebSocket upgrader for real-time stats
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	statsPushInterval = 1 * time.Second
	maxHistoryLimit   = 1000
)

// startHealthServer starts the HTTP API in the background.
func (r *Runner) startHealthServer(port int, allowedOrigins []string) {
	r.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r.Handler(allowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("health server error", zap.Error(err))
		}
	}()
}

// Handler builds the API router wrapped in CORS.
func (r *Runner) Handler(allowedOrigins []string) http.Handler {
	router := mux.NewRouter()

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	// JSON stats endpoint
	router.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, r.GetStats())
	}).Methods(http.MethodGet)

	// WebSocket endpoint for real-time stats
	router.HandleFunc("/ws", r.handleStatsSocket)

	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/bots", r.handleListBots).Methods(http.MethodGet)
	api.HandleFunc("/bots/{bot}/health", r.handleBotHealth).Methods(http.MethodGet)
	api.HandleFunc("/bots/{bot}/evaluate", r.handleEvaluate).Methods(http.MethodPost)
	api.HandleFunc("/bots/{bot}/history", r.handleHistory).Methods(http.MethodGet)

	api.HandleFunc("/fillsync", r.handleListFillSync).Methods(http.MethodGet)
	api.HandleFunc("/fillsync/{market}", r.handleFillSyncMarket).Methods(http.MethodGet)
	api.HandleFunc("/fillsync/{market}", r.handleResetFillSync).Methods(http.MethodDelete)

	NewSettingsHandler(r.logger, r.settingsManager).RegisterRoutes(api)

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(router)
}

func (r *Runner) handleStatsSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(statsPushInterval)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(r.GetStats()); err != nil {
			return // Client disconnected
		}
		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-req.Context().Done():
			return
		}
	}
}

func (r *Runner) handleListBots(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, r.Bots())
}

func (r *Runner) handleBotHealth(w http.ResponseWriter, req *http.Request) {
	botID := mux.Vars(req)["bot"]
	if !r.liveConfig.Get().HasBot(botID) {
		respondError(w, http.StatusNotFound, "unknown_bot", ErrUnknownBot.Error())
		return
	}
	state, ok := r.Latest(botID)
	if !ok {
		respondError(w, http.StatusNotFound, "not_evaluated", "bot has not been evaluated yet")
		return
	}
	respondJSON(w, http.StatusOK, state)
}

func (r *Runner) handleEvaluate(w http.ResponseWriter, req *http.Request) {
	botID := mux.Vars(req)["bot"]
	state, err := r.Evaluate(req.Context(), botID)
	switch {
	case errors.Is(err, ErrUnknownBot):
		respondError(w, http.StatusNotFound, "unknown_bot", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "evaluation_timeout", err.Error())
	case err != nil:
		r.logger.Warn("on-demand evaluation failed", zap.String("bot", botID), zap.Error(err))
		respondError(w, http.StatusBadGateway, "evaluation_failed", err.Error())
	default:
		respondJSON(w, http.StatusOK, state)
	}
}

func (r *Runner) handleHistory(w http.ResponseWriter, req *http.Request) {
	botID := mux.Vars(req)["bot"]

	limit := 0
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := r.History(req.Context(), botID, limit)
	switch {
	case errors.Is(err, ErrUnknownBot):
		respondError(w, http.StatusNotFound, "unknown_bot", err.Error())
	case err != nil:
		r.logger.Error("failed to read history", zap.String("bot", botID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "history_failed", err.Error())
	default:
		respondJSON(w, http.StatusOK, entries)
	}
}

func (r *Runner) handleListFillSync(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, r.FillSyncMarkets())
}

func (r *Runner) handleFillSyncMarket(w http.ResponseWriter, req *http.Request) {
	market := mux.Vars(req)["market"]

	var side *model.Side
	if raw := req.URL.Query().Get("side"); raw != "" {
		s, ok := model.ParseSide(raw)
		if !ok {
			respondError(w, http.StatusBadRequest, "invalid_side", "side must be UP or DOWN")
			return
		}
		side = &s
	}

	detail, ok := r.FillSyncMarket(market, side)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown_market", "no fills recorded for market")
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

func (r *Runner) handleResetFillSync(w http.ResponseWriter, req *http.Request) {
	market := mux.Vars(req)["market"]
	if !r.ResetFillSync(market) {
		respondError(w, http.StatusNotFound, "unknown_market", "no fills recorded for market")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
