package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/nerrad567/pdm-core/internal/channel"
	"github.com/nerrad567/pdm-core/internal/core"
	"github.com/nerrad567/pdm-core/internal/layout"
	"github.com/nerrad567/pdm-core/internal/operator"
)

// slotResponse is one running slot with its operator kind spelled out.
type slotResponse struct {
	Output   channel.ID      `json:"output"`
	Kind     operator.Kind   `json:"kind"`
	Inputs   []channel.ID    `json:"inputs"`
	Config   operator.Config `json:"config"`
	Disabled bool            `json:"disabled,omitempty"`
}

// handleGetLayout returns the running slot, output and bridge configuration.
func (s *Server) handleGetLayout(w http.ResponseWriter, _ *http.Request) {
	plan := s.core.Applied()
	slots := make([]slotResponse, 0, len(plan.Slots))
	for _, sl := range plan.Slots {
		slots = append(slots, slotResponse{
			Output:   sl.Output,
			Kind:     sl.Config.Kind(),
			Inputs:   sl.Inputs,
			Config:   sl.Config,
			Disabled: sl.Disabled,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"generation": s.core.Generation(),
		"slots":      slots,
		"outputs":    plan.Outputs,
		"bridges":    plan.Bridges,
	})
}

// handleLayoutSchema serves the JSON Schema layout documents are checked
// against.
func (s *Server) handleLayoutSchema(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	w.Write(layout.Schema()) //nolint:errcheck // Response write error is unrecoverable
}

// handleLayoutHistory returns recently committed layouts, newest first.
func (s *Server) handleLayoutHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "layout history unavailable")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(w, "invalid limit")
			return
		}
		limit = min(n, 200)
	}
	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("loading layout history", "error", err)
		writeInternalError(w, "failed to load layout history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"history": entries,
		"count":   len(entries),
	})
}

// handleApplyLayout applies a YAML layout document from the request body.
//
// The document's own mode wins; otherwise the mode query parameter
// ("replace" or "merge", default "replace") is used. A rejected layout
// leaves the running configuration untouched and answers 422.
func (s *Server) handleApplyLayout(w http.ResponseWriter, r *http.Request) {
	fallback := core.ModeReplace
	if v := r.URL.Query().Get("mode"); v != "" {
		m, err := core.ParseMode(v)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		fallback = m
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}
	if len(body) == 0 {
		writeBadRequest(w, "layout document is required")
		return
	}

	l, err := layout.Parse(body, "api:"+subject(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	res, err := layout.Apply(r.Context(), s.core, l, fallback, s.history)
	if err != nil && res.Generation == 0 {
		s.logger.Warn("layout rejected", "error", err, "subject", subject(r))
		writeDomainError(w, err)
		return
	}

	resp := map[string]any{
		"result":   res,
		"checksum": l.Checksum,
	}
	if err != nil {
		// Committed, but the history entry was lost.
		s.logger.Error("layout applied without history", "error", err)
		resp["warning"] = err.Error()
	}
	s.logger.Info("layout applied via API",
		"generation", res.Generation,
		"checksum", l.Checksum,
		"subject", subject(r),
	)
	if s.publisher != nil {
		s.publisher.ClearStateCache()
	}
	writeJSON(w, http.StatusOK, resp)
}
