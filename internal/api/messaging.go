package api

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue/internal/messaging"
)

type messagingHandler struct {
	session    Session
	dispatcher DispatcherStats
	logger     zerolog.Logger
}

func (h *messagingHandler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.statusResponse())
}

func (h *messagingHandler) statusResponse() MessagingStatusResponse {
	resp := MessagingStatusResponse{Status: h.session.Status()}
	if h.dispatcher != nil {
		stats := h.dispatcher.Stats()
		resp.Notifications = &stats
	}
	return resp
}

func (h *messagingHandler) connect(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Connect(); err != nil {
		if errors.Is(err, messaging.ErrNotConfigured) {
			writeError(w, http.StatusServiceUnavailable, "messaging_not_configured", "set MESSAGING_BRIDGE_URL to enable notifications")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "messaging_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, h.statusResponse())
}

// pairing serves the outstanding pairing code as a PNG, or as JSON with a
// terminal rendering when format=text.
func (h *messagingHandler) pairing(w http.ResponseWriter, r *http.Request) {
	challenge, err := h.session.Challenge()
	if err != nil {
		if errors.Is(err, messaging.ErrNoChallenge) {
			writeError(w, http.StatusNotFound, "no_pairing_challenge", "session is not awaiting pairing")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	if r.URL.Query().Get("format") == "text" {
		qr, err := messaging.PairingText(challenge.Code)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "qr_render_failed", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, PairingTextResponse{Code: challenge.Code, IssuedAt: challenge.IssuedAt, QR: qr})
		return
	}

	png, err := messaging.PairingPNG(challenge.Code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "qr_render_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (h *messagingHandler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Disconnect(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("messaging logout finished with error")
	}
	writeJSON(w, http.StatusOK, h.statusResponse())
}
