package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"botwatch/config"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxSettingsBody = 1 << 20

// SettingsHandler handles settings-related HTTP requests.
type SettingsHandler struct {
	logger   *zap.Logger
	settings *config.SettingsManager
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(logger *zap.Logger, settings *config.SettingsManager) *SettingsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsHandler{
		logger:   logger,
		settings: settings,
	}
}

// RegisterRoutes registers the settings routes on the given router.
func (h *SettingsHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/settings", h.getSettings).Methods(http.MethodGet)
	router.HandleFunc("/settings", h.updateSettings).Methods(http.MethodPut)
	router.HandleFunc("/settings/info", h.handleSettingsInfo).Methods(http.MethodGet)
}

// getSettings returns the current settings as JSON. Secrets are never encoded.
func (h *SettingsHandler) getSettings(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.settings.GetLiveConfig().Get())
}

// updateSettings merges the request body over the running config, validates
// it, applies it and persists it.
func (h *SettingsHandler) updateSettings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSettingsBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := h.settings.UpdateFromJSON(ctx, body); err != nil {
		var validationErr *config.ConfigValidationError
		if errors.As(err, &validationErr) {
			respondJSON(w, http.StatusBadRequest, map[string]any{
				"success": false,
				"errors":  validationErr.Errors,
			})
			return
		}
		h.logger.Warn("failed to update settings", zap.Error(err))
		respondError(w, http.StatusBadRequest, "invalid_settings", err.Error())
		return
	}

	live := h.settings.GetLiveConfig()
	h.logger.Info("settings updated via API", zap.Int("version", live.Version()))

	respondJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"version":    live.Version(),
		"applied_at": live.LastUpdated(),
	})
}

// handleSettingsInfo returns metadata about settings state.
func (h *SettingsHandler) handleSettingsInfo(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.settings.GetSettingsInfo())
}
