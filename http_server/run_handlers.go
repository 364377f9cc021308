package http_server

import (
	"net/http"

	"github.com/danthegoodman1/etlpipe/pipeline"
	"github.com/danthegoodman1/etlpipe/utils"
)

type RunReqBody struct {
	// Overrides the configured archive URL
	SourceURL *string `validate:"omitempty,url"`
}

// RunHandler runs the pipeline synchronously and responds with the report. Only one run may be in flight.
func (s *HTTPServer) RunHandler(c *CustomContext) error {
	var reqBody RunReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return err
	}

	if !s.running.TryLock() {
		return c.String(http.StatusConflict, "a run is already in progress")
	}
	defer s.running.Unlock()

	report, err := s.runner.Run(c.Request().Context(), pipeline.RunOptions{
		SourceURL: utils.Deref(reqBody.SourceURL, ""),
	})
	if report != nil {
		s.lastMu.Lock()
		s.lastRun = report
		s.lastMu.Unlock()
	}
	if err != nil {
		return c.InternalError(err, "run failed")
	}

	return c.JSON(http.StatusOK, report)
}

func (s *HTTPServer) LastRunHandler(c *CustomContext) error {
	s.lastMu.RLock()
	report := s.lastRun
	s.lastMu.RUnlock()
	if report == nil {
		return c.String(http.StatusNotFound, "no runs yet")
	}
	return c.JSON(http.StatusOK, report)
}
