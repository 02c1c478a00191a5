// Package davserve is the sharer-side DAV surface of federation: the
// endpoint a remote sharee polls with sync-collection REPORTs and object
// GETs, authenticated by per-share Basic credentials.
package davserve

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/beevik/etree"
	"github.com/fedcal/fedcal/internal/federation"
	"github.com/fedcal/fedcal/internal/metrics"
	"github.com/fedcal/fedcal/internal/store"
	"github.com/rs/zerolog/log"
)

// Handler serves /dav/remote-calendars requests.
type Handler struct {
	Auth      *federation.ShareAuthenticator
	Calendars store.CalendarRepository
	Objects   store.CalendarObjectRepository
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ok, reason := h.Auth.Check(r.Context(), r.URL.Path, r.Header.Get("Authorization"))
	if !ok {
		metrics.DAVRequests.WithLabelValues(r.Method, metrics.OutcomeRejected).Inc()
		w.Header().Set("WWW-Authenticate", `Basic realm="federated calendars"`)
		http.Error(w, reason, http.StatusUnauthorized)
		return
	}

	rp, _ := federation.ParseRemoteCalendarPath(r.URL.Path)
	cal, err := h.Calendars.GetByOwnerAndURI(r.Context(), rp.SharerUID, rp.CalendarURI)
	if err != nil {
		metrics.DAVRequests.WithLabelValues(r.Method, metrics.OutcomeError).Inc()
		log.Error().Err(err).Str("calendar", rp.CalendarURI).Msg("calendar lookup failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if cal == nil {
		// The share outlived its calendar; nothing to serve.
		http.Error(w, "calendar not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.serveObject(w, r, cal, rp)
	case "REPORT":
		h.serveSyncReport(w, r, cal, rp)
	default:
		metrics.DAVRequests.WithLabelValues(r.Method, metrics.OutcomeRejected).Inc()
		w.Header().Set("Allow", "GET, REPORT")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) serveObject(w http.ResponseWriter, r *http.Request, cal *store.Calendar, rp federation.RemotePath) {
	if rp.ObjectURI == "" {
		http.Error(w, "not an object resource", http.StatusMethodNotAllowed)
		return
	}
	obj, err := h.Objects.Get(r.Context(), cal.ID, rp.ObjectURI)
	if err != nil {
		metrics.DAVRequests.WithLabelValues(r.Method, metrics.OutcomeError).Inc()
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if obj == nil || obj.DeletedAt != nil {
		http.Error(w, "object not found", http.StatusNotFound)
		return
	}
	metrics.DAVRequests.WithLabelValues(r.Method, metrics.OutcomeOK).Inc()
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("ETag", `"`+obj.ETag+`"`)
	fmt.Fprint(w, obj.Data)
}

// requestSyncToken pulls the sync-token out of a sync-collection REPORT
// body. An absent or empty token means initial sync.
func requestSyncToken(body []byte) (int64, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return 0, federation.BadRequest("malformed report body")
	}
	root := doc.Root()
	if root == nil || root.Tag != "sync-collection" {
		return 0, federation.BadRequest("unsupported report")
	}
	tok := root.FindElement("./sync-token")
	if tok == nil || strings.TrimSpace(tok.Text()) == "" {
		return 0, nil
	}
	return federation.ParseSyncToken(strings.TrimSpace(tok.Text()))
}

func (h *Handler) serveSyncReport(w http.ResponseWriter, r *http.Request, cal *store.Calendar, rp federation.RemotePath) {
	if rp.ObjectURI != "" {
		http.Error(w, "report target must be a collection", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	since, err := requestSyncToken(body)
	if err != nil {
		metrics.DAVRequests.WithLabelValues(r.Method, metrics.OutcomeRejected).Inc()
		http.Error(w, err.Error(), federation.StatusOf(err))
		return
	}

	changes, seq, err := h.Objects.ChangesSince(r.Context(), cal.ID, since)
	if err != nil {
		metrics.DAVRequests.WithLabelValues(r.Method, metrics.OutcomeError).Inc()
		log.Error().Err(err).Str("calendar", rp.CalendarURI).Msg("change listing failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	collection := strings.TrimSuffix(r.URL.Path, "/")
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	ms := doc.CreateElement("d:multistatus")
	ms.CreateAttr("xmlns:d", "DAV:")
	for _, ch := range changes {
		resp := ms.CreateElement("d:response")
		resp.CreateElement("d:href").SetText(collection + "/" + ch.URI)
		if ch.Deleted {
			resp.CreateElement("d:status").SetText("HTTP/1.1 404 Not Found")
			continue
		}
		ps := resp.CreateElement("d:propstat")
		prop := ps.CreateElement("d:prop")
		prop.CreateElement("d:getetag").SetText(`"` + ch.ETag + `"`)
		ps.CreateElement("d:status").SetText("HTTP/1.1 200 OK")
	}
	ms.CreateElement("d:sync-token").SetText(federation.FormatSyncToken(seq))

	out, err := doc.WriteToBytes()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	metrics.DAVRequests.WithLabelValues(r.Method, metrics.OutcomeOK).Inc()
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusMultiStatus)
	w.Write(out)
}
