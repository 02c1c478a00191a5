package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/fedcal/fedcal/internal/caldav"
	"github.com/fedcal/fedcal/internal/federation"
	"github.com/fedcal/fedcal/internal/identity"
	"github.com/fedcal/fedcal/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// maxObjectBytes caps the size of an uploaded calendar object.
const maxObjectBytes = 10 << 20

// shareReq is the request body for sharing a local calendar out.
type shareReq struct {
	RemotePrincipal string `json:"remotePrincipal"`
	Access          int    `json:"access"`
}

func (s *Server) lookupCalendar(w http.ResponseWriter, r *http.Request) *store.Calendar {
	owner := chi.URLParam(r, "owner")
	uri := chi.URLParam(r, "calendar")
	cal, err := s.Calendars.GetByOwnerAndURI(r.Context(), owner, uri)
	if err != nil {
		log.Error().Err(err).Str("owner", owner).Str("calendar", uri).Msg("calendar lookup failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "internal error"})
		return nil
	}
	if cal == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "calendar not found"})
		return nil
	}
	return cal
}

// ShareCalendar handles POST /v1/calendars/{owner}/{calendar}/shares.
func (s *Server) ShareCalendar(w http.ResponseWriter, r *http.Request) {
	cal := s.lookupCalendar(w, r)
	if cal == nil {
		return
	}

	var req shareReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, federation.BadRequest("invalid request body"))
		return
	}
	if req.Access == 0 {
		req.Access = federation.AccessReadOnly
	}

	if err := s.Outbound.ShareWith(r.Context(), cal, req.RemotePrincipal, req.Access); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PutObject handles PUT /v1/calendars/{owner}/{calendar}/objects/{object}.
// The write lands locally first; sharees are then notified to resync.
func (s *Server) PutObject(w http.ResponseWriter, r *http.Request) {
	cal := s.lookupCalendar(w, r)
	if cal == nil {
		return
	}
	objectURI := chi.URLParam(r, "object")

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxObjectBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"message": "object too large"})
			return
		}
		writeError(w, federation.BadRequest("unreadable body"))
		return
	}
	if len(data) == 0 {
		writeError(w, federation.BadRequest("empty body"))
		return
	}

	etag := uuid.NewString()
	obj, err := s.Objects.Put(r.Context(), cal.ID, objectURI, caldav.ExtractUID(string(data)), etag, string(data))
	if err != nil {
		log.Error().Err(err).Str("object", objectURI).Msg("object write failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "internal error"})
		return
	}

	s.notifySharees(r, cal)
	w.Header().Set("ETag", `"`+obj.ETag+`"`)
	w.WriteHeader(http.StatusCreated)
}

// DeleteObject handles DELETE /v1/calendars/{owner}/{calendar}/objects/{object}.
func (s *Server) DeleteObject(w http.ResponseWriter, r *http.Request) {
	cal := s.lookupCalendar(w, r)
	if cal == nil {
		return
	}
	objectURI := chi.URLParam(r, "object")

	if err := s.Objects.Delete(r.Context(), cal.ID, objectURI); err != nil {
		log.Error().Err(err).Str("object", objectURI).Msg("object delete failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "internal error"})
		return
	}

	s.notifySharees(r, cal)
	w.WriteHeader(http.StatusNoContent)
}

// notifySharees fires a SYNC_CALENDAR notification at every remote sharee of
// the calendar. The local write already committed; delivery failures are
// logged and the peer falls back to its next poll.
func (s *Server) notifySharees(r *http.Request, cal *store.Calendar) {
	shares, err := s.Shares.ListByCalendar(r.Context(), cal.ID)
	if err != nil {
		log.Error().Err(err).Str("calendar", cal.URI).Msg("listing shares for notification failed")
		return
	}
	for _, sh := range shares {
		remoteID, err := identity.ParseRemotePrincipal(sh.RemotePrincipal)
		if err != nil {
			continue
		}
		recipient, err := identity.Parse(remoteID)
		if err != nil {
			continue
		}
		if err := s.Notifier.NotifySyncCalendar(r.Context(), recipient, cal.OwnerUID, cal.URI, sh.SharedSecret); err != nil {
			log.Warn().Err(err).Str("recipient", remoteID).Msg("change notification not delivered")
		}
	}
}
