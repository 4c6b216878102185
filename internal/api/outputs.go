package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/pdm-core/internal/channel"
	"github.com/nerrad567/pdm-core/internal/protection"
)

// outputResponse is a protection snapshot of one power output plus the
// name of its command channel.
type outputResponse struct {
	protection.OutputInfo
	ChannelID channel.ID `json:"channel_id"`
	Name      string     `json:"name,omitempty"`
}

// bridgeResponse is a protection snapshot of one H-bridge.
type bridgeResponse struct {
	protection.BridgeInfo
	ChannelID channel.ID `json:"channel_id"`
	Name      string     `json:"name,omitempty"`
}

func (s *Server) channelName(id channel.ID) string {
	if c, err := s.core.Registry().Describe(id); err == nil {
		return c.Name
	}
	return ""
}

func (s *Server) toOutputResponse(o protection.OutputInfo) outputResponse {
	id := channel.PowerOutputID(o.Index)
	return outputResponse{OutputInfo: o, ChannelID: id, Name: s.channelName(id)}
}

// handleListOutputs returns every configured power output.
func (s *Server) handleListOutputs(w http.ResponseWriter, _ *http.Request) {
	infos := s.core.Protection().Outputs()
	out := make([]outputResponse, 0, len(infos))
	for _, o := range infos {
		out = append(out, s.toOutputResponse(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"outputs":          out,
		"count":            len(out),
		"fault_count":      s.core.Protection().FaultCount(),
		"total_current_ma": s.core.Protection().TotalCurrentMA(),
	})
}

// handleGetOutput returns one power output by index.
func (s *Server) handleGetOutput(w http.ResponseWriter, r *http.Request) {
	index, ok := parseIndex(w, r)
	if !ok {
		return
	}
	o, found := s.core.Protection().Output(index)
	if !found {
		writeNotFound(w, "output not configured: "+strconv.Itoa(index))
		return
	}
	writeJSON(w, http.StatusOK, s.toOutputResponse(o))
}

// handleClearOutput resets a tripped or latched output to off.
func (s *Server) handleClearOutput(w http.ResponseWriter, r *http.Request) {
	index, ok := parseIndex(w, r)
	if !ok {
		return
	}
	if err := s.core.ClearOutput(index); err != nil {
		writeDomainError(w, err)
		return
	}
	s.logger.Info("output cleared via API", "index", index, "subject", subject(r))

	o, _ := s.core.Protection().Output(index)
	writeJSON(w, http.StatusOK, s.toOutputResponse(o))
}

// handleListBridges returns every configured H-bridge.
func (s *Server) handleListBridges(w http.ResponseWriter, _ *http.Request) {
	infos := s.core.Protection().Bridges()
	out := make([]bridgeResponse, 0, len(infos))
	for _, b := range infos {
		id := channel.BridgeCommandID(b.Index)
		out = append(out, bridgeResponse{BridgeInfo: b, ChannelID: id, Name: s.channelName(id)})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bridges": out,
		"count":   len(out),
	})
}

// handleClearBridge resets a tripped or latched bridge to coast.
func (s *Server) handleClearBridge(w http.ResponseWriter, r *http.Request) {
	index, ok := parseIndex(w, r)
	if !ok {
		return
	}
	if err := s.core.ClearBridge(index); err != nil {
		writeDomainError(w, err)
		return
	}
	s.logger.Info("bridge cleared via API", "index", index, "subject", subject(r))
	w.WriteHeader(http.StatusNoContent)
}

// handleGetSafeState reports whether the core holds every output off.
func (s *Server) handleGetSafeState(w http.ResponseWriter, _ *http.Request) {
	active, reason := s.core.SafeState()
	writeJSON(w, http.StatusOK, map[string]any{
		"active": active,
		"reason": reason,
	})
}

// handleResetSafeState leaves the safe state. A registry that still fails
// its structure checks answers 409 and the core stays safe.
func (s *Server) handleResetSafeState(w http.ResponseWriter, r *http.Request) {
	if err := s.core.ResetSafeState(); err != nil {
		writeDomainError(w, err)
		return
	}
	s.logger.Warn("safe state reset via API", "subject", subject(r))
	active, reason := s.core.SafeState()
	writeJSON(w, http.StatusOK, map[string]any{
		"active": active,
		"reason": reason,
	})
}

func parseIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeBadRequest(w, "invalid index")
		return 0, false
	}
	return index, true
}
