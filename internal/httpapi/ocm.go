package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/fedcal/fedcal/internal/federation"
	"github.com/rs/zerolog/log"
)

// ReceiveShare handles POST /ocm/shares.
func (s *Server) ReceiveShare(w http.ResponseWriter, r *http.Request) {
	var req federation.ShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, federation.BadRequest("invalid request body"))
		return
	}

	id, err := s.Inbound.ShareReceived(r.Context(), req)
	if err != nil {
		log.Debug().Err(err).Str("sharer", req.Owner).Msg("share offer rejected")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

// ReceiveNotification handles POST /ocm/notifications.
func (s *Server) ReceiveNotification(w http.ResponseWriter, r *http.Request) {
	var req federation.NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, federation.BadRequest("invalid request body"))
		return
	}

	result, err := s.Inbound.NotificationReceived(r.Context(), req.NotificationType, req.ResourceType, req.Notification)
	if err != nil {
		log.Debug().Err(err).Str("type", req.NotificationType).Msg("notification rejected")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}
