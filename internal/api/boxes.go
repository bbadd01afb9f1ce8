package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// historyLimitParam is the query parameter controlling history page size.
const historyLimitParam = "limit"

// handleListBoxes returns every box in the current snapshot.
func (s *Server) handleListBoxes(w http.ResponseWriter, _ *http.Request) {
	boxes := s.snapshot.Boxes()
	writeJSON(w, http.StatusOK, map[string]any{
		"boxes":     boxes,
		"count":     len(boxes),
		"available": s.snapshot.IsAvailable(),
	})
}

// handleGetBox returns one box by device key.
func (s *Server) handleGetBox(w http.ResponseWriter, r *http.Request) {
	deviceKey, ok := parseDeviceKey(w, r)
	if !ok {
		return
	}

	box, found := s.snapshot.Box(deviceKey)
	if !found {
		writeNotFound(w, "box not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"box": box})
}

// handleBoxHistory returns recent recorded state changes for one box.
func (s *Server) handleBoxHistory(w http.ResponseWriter, r *http.Request) {
	if s.hist == nil {
		writeNotFound(w, "state history is not enabled")
		return
	}

	deviceKey, ok := parseDeviceKey(w, r)
	if !ok {
		return
	}
	if _, found := s.snapshot.Box(deviceKey); !found {
		writeNotFound(w, "box not found")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get(historyLimitParam); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	entries, err := s.hist.GetHistory(r.Context(), deviceKey, limit)
	if err != nil {
		s.logger.Error("history query failed", "device_key", deviceKey, "error", err)
		writeInternalError(w, "failed to query state history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_key": deviceKey,
		"entries":    entries,
		"count":      len(entries),
	})
}

// handleBoxFavorites returns the favorites applicable to a box's
// currently installed capsules.
func (s *Server) handleBoxFavorites(w http.ResponseWriter, r *http.Request) {
	deviceKey, ok := parseDeviceKey(w, r)
	if !ok {
		return
	}
	if _, found := s.snapshot.Box(deviceKey); !found {
		writeNotFound(w, "box not found")
		return
	}

	favorites := s.snapshot.AvailableFavorites(deviceKey)
	writeJSON(w, http.StatusOK, map[string]any{
		"device_key": deviceKey,
		"favorites":  favorites,
		"count":      len(favorites),
	})
}

// handleIntervalTypes returns the interval presets known to the bridge.
func (s *Server) handleIntervalTypes(w http.ResponseWriter, _ *http.Request) {
	types := s.snapshot.IntervalTypes()
	writeJSON(w, http.StatusOK, map[string]any{
		"interval_types": types,
		"count":          len(types),
	})
}

// parseDeviceKey extracts and validates the deviceKey URL parameter,
// writing a 400 response on failure.
func parseDeviceKey(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "deviceKey")
	deviceKey, err := strconv.Atoi(raw)
	if err != nil || deviceKey <= 0 {
		writeBadRequest(w, "device key must be a positive integer")
		return 0, false
	}
	return deviceKey, true
}
