package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/pdm-core/internal/channel"
)

// channelResponse is a channel snapshot as served by the API.
type channelResponse struct {
	channel.Channel
	// Reading is what Get returns: 0 while the channel is disabled.
	Reading   int32    `json:"reading"`
	FlagNames []string `json:"flag_names"`
}

func toChannelResponse(c channel.Channel) channelResponse {
	return channelResponse{Channel: c, Reading: c.Reading(), FlagNames: c.Flags.Names()}
}

// setValueRequest is the body of PUT /channels/{id}/value.
type setValueRequest struct {
	Value *int32 `json:"value"`
}

// setEnabledRequest is the body of PUT /channels/{id}/enabled.
type setEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleListChannels returns channels in id order.
//
// Query parameters:
//   - class: comma-separated class filter
//   - from, to: inclusive id range
//   - hidden: "true" includes hidden channels
func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var preds []channel.Predicate
	if q.Get("hidden") != "true" {
		preds = append(preds, channel.Visible())
	}
	if raw := q.Get("class"); raw != "" {
		var classes []channel.Class
		for _, c := range strings.Split(raw, ",") {
			cl := channel.Class(strings.TrimSpace(c))
			if err := channel.ValidateClass(cl); err != nil {
				writeBadRequest(w, err.Error())
				return
			}
			classes = append(classes, cl)
		}
		preds = append(preds, channel.ByClass(classes...))
	}
	if q.Has("from") || q.Has("to") {
		lo, hi := channel.ID(0), channel.ID(channel.MaxID-1)
		var ok bool
		if v := q.Get("from"); v != "" {
			if lo, ok = parseChannelID(v); !ok {
				writeBadRequest(w, "invalid from")
				return
			}
		}
		if v := q.Get("to"); v != "" {
			if hi, ok = parseChannelID(v); !ok {
				writeBadRequest(w, "invalid to")
				return
			}
		}
		preds = append(preds, channel.InRange(lo, hi))
	}

	out := make([]channelResponse, 0)
	for c := range s.core.Registry().List(allOf(preds)) {
		out = append(out, toChannelResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channels": out,
		"count":    len(out),
	})
}

// handleGetChannel returns a single channel by id.
func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseChannelID(chi.URLParam(r, "id"))
	if !ok {
		writeBadRequest(w, "invalid channel id")
		return
	}
	c, err := s.core.Registry().Describe(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChannelResponse(c))
}

// handleGetChannelByName returns a single channel by exact name.
func (s *Server) handleGetChannelByName(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	id, ok := s.core.Registry().FindByName(name)
	if !ok {
		writeNotFound(w, "channel not found: "+name)
		return
	}
	c, err := s.core.Registry().Describe(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChannelResponse(c))
}

// handleSetChannelValue writes a channel through the registry's public
// contract, so readonly channels answer 409.
func (s *Server) handleSetChannelValue(w http.ResponseWriter, r *http.Request) {
	id, ok := parseChannelID(chi.URLParam(r, "id"))
	if !ok {
		writeBadRequest(w, "invalid channel id")
		return
	}
	var req setValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == nil {
		writeBadRequest(w, `body must be {"value": <int32>}`)
		return
	}

	reg := s.core.Registry()
	if err := reg.Set(id, *req.Value); err != nil {
		writeDomainError(w, err)
		return
	}
	s.logger.Info("channel value set",
		"channel_id", id,
		"value", *req.Value,
		"subject", subject(r),
	)

	c, err := reg.Describe(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChannelResponse(c))
}

// handleSetChannelEnabled sets or clears the enabled flag of a channel.
func (s *Server) handleSetChannelEnabled(w http.ResponseWriter, r *http.Request) {
	id, ok := parseChannelID(chi.URLParam(r, "id"))
	if !ok {
		writeBadRequest(w, "invalid channel id")
		return
	}
	var req setEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeBadRequest(w, `body must be {"enabled": <bool>}`)
		return
	}

	reg := s.core.Registry()
	if err := reg.SetEnabled(id, *req.Enabled); err != nil {
		writeDomainError(w, err)
		return
	}
	s.logger.Info("channel enabled changed",
		"channel_id", id,
		"enabled", *req.Enabled,
		"subject", subject(r),
	)

	c, err := reg.Describe(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChannelResponse(c))
}

func parseChannelID(s string) (channel.ID, bool) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil || n >= channel.MaxID {
		return 0, false
	}
	return channel.ID(n), true
}

// allOf combines predicates; nil when there are none.
func allOf(preds []channel.Predicate) channel.Predicate {
	if len(preds) == 0 {
		return nil
	}
	return func(c channel.Channel) bool {
		for _, p := range preds {
			if !p(c) {
				return false
			}
		}
		return true
	}
}
