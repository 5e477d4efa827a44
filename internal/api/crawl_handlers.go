package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/anime-guide-crawler/internal/pipeline"
)

// triggerCrawl handles POST /v1/crawl/run. The cycle runs in the background;
// the response is 202, or 409 while another cycle is running.
func (s *Server) triggerCrawl(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "crawler unavailable")
		return
	}
	if s.trigger.Running() {
		writeError(w, http.StatusConflict, pipeline.ErrRunInProgress.Error())
		return
	}
	reqID := RequestID(r.Context())
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		summary, err := s.trigger.RunOnce(s.runCtx)
		switch {
		case errors.Is(err, pipeline.ErrRunInProgress):
			s.logger.Info("triggered crawl skipped, run in progress", zap.String("request_id", reqID))
		case err != nil:
			s.logger.Error("triggered crawl failed", zap.String("request_id", reqID), zap.Error(err))
		default:
			s.logger.Info("triggered crawl finished",
				zap.String("request_id", reqID),
				zap.String("run_id", summary.RunID),
				zap.String("status", string(summary.Status)),
			)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
