package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/pdm-core/internal/audit"
)

// handleListEvents returns protection events, most recent first.
//
// Query parameters: kind, target, channel_id, since (RFC 3339), limit and
// offset.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeUnavailable(w, "event log unavailable")
		return
	}

	q := r.URL.Query()
	f := audit.Filter{
		Kind:   audit.Kind(q.Get("kind")),
		Target: q.Get("target"),
	}
	if v := q.Get("channel_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil || id < 0 {
			writeBadRequest(w, "invalid channel_id")
			return
		}
		f.ChannelID = &id
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be RFC 3339")
			return
		}
		f.Since = t
	}
	var ok bool
	if f.Limit, ok = queryInt(w, q.Get("limit"), "limit"); !ok {
		return
	}
	if f.Offset, ok = queryInt(w, q.Get("offset"), "offset"); !ok {
		return
	}

	res, err := s.events.List(r.Context(), f)
	if err != nil {
		s.logger.Error("listing events", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// queryInt parses an optional non-negative integer parameter.
func queryInt(w http.ResponseWriter, v, name string) (int, bool) {
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeBadRequest(w, "invalid "+name)
		return 0, false
	}
	return n, true
}
