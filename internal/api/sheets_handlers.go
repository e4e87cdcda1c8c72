package api

import (
	"net/http"
	"strings"

	"fieldops/internal/google"
)

type syncResponse struct {
	OK      bool   `json:"ok"`
	Kind    string `json:"kind"`
	Rows    int    `json:"rows"`
	Buckets int    `json:"buckets"`
	Error   string `json:"error,omitempty"`
}

func resultStatus(res google.Result) int {
	switch res.Kind {
	case google.KindNone:
		return http.StatusOK
	case google.KindConfig:
		return http.StatusServiceUnavailable
	case google.KindTransport:
		return http.StatusBadGateway
	case google.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeResult(w http.ResponseWriter, res google.Result) {
	body := syncResponse{
		OK:      res.OK(),
		Kind:    res.Kind.String(),
		Rows:    res.Rows,
		Buckets: res.Buckets,
	}
	if res.Err != nil {
		body.Error = res.Err.Error()
	}
	writeJSON(w, resultStatus(res), body)
}

// handleSheetSync runs a full resync now, or queues one with ?async=true.
func (s *HTTPServer) handleSheetSync(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("async") == "true" {
		if s.deps.Worker == nil {
			writeError(w, http.StatusServiceUnavailable, "sheet worker is not running")
			return
		}
		taskID, err := s.deps.Worker.EnqueueResync(r.Context(), 0)
		if err != nil {
			s.requestLog(r).Error().Err(err).Msg("enqueue resync")
			writeError(w, http.StatusInternalServerError, "failed to queue resync")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"task_id": taskID})
		return
	}

	if hdr := s.deps.Sheets.EnsureHeaders(r.Context()); !hdr.OK() && hdr.Kind != google.KindConfig {
		s.requestLog(r).Warn().Err(hdr.Err).Msg("ensure headers before sync")
	}
	writeResult(w, s.deps.Sheets.SyncAllJobs(r.Context()))
}

func (s *HTTPServer) handleSheetHeaders(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.deps.Sheets.EnsureHeaders(r.Context()))
}

func (s *HTTPServer) handleSheetStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"configured":     s.deps.Sheets.Configured(),
		"spreadsheet_id": s.deps.Sheets.SpreadsheetID(),
		"sheet_name":     s.deps.SheetName,
	}

	if s.deps.Sheets.Configured() {
		res := s.deps.Sheets.TestConnection(r.Context())
		status["connected"] = res.OK()
		if res.Err != nil {
			status["connection_error"] = res.Err.Error()
		}
	} else {
		status["connected"] = false
	}

	if s.deps.Queue != nil {
		if pending, err := s.deps.Queue.GetPendingSyncTasks(r.Context(), 1000); err == nil {
			status["pending_tasks"] = len(pending)
		}
		if failed, err := s.deps.Queue.GetFailedSyncTasks(r.Context()); err == nil {
			status["failed_tasks"] = len(failed)
		}
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *HTTPServer) handleSheetDeleteRow(w http.ResponseWriter, r *http.Request) {
	no := strings.TrimSpace(r.PathValue("no"))
	if no == "" {
		writeError(w, http.StatusBadRequest, "display number is required")
		return
	}
	if s.deps.Worker == nil {
		writeError(w, http.StatusServiceUnavailable, "sheet worker is not running")
		return
	}
	taskID, err := s.deps.Worker.EnqueueDeleteRow(r.Context(), no)
	if err != nil {
		s.requestLog(r).Error().Err(err).Str("no", no).Msg("enqueue delete row")
		writeError(w, http.StatusInternalServerError, "failed to queue row deletion")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"task_id": taskID})
}
