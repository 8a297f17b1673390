package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/seenimoa/b3fetch/internal/logger"
	"github.com/seenimoa/b3fetch/internal/orchestrator"
	"github.com/seenimoa/b3fetch/internal/pipeline"
	"github.com/seenimoa/b3fetch/internal/scraper"
)

// Error codes carried in APIResponse.Code.
const (
	codeInvalidTicker = "invalid_ticker"
	codeUnsupported   = "unsupported_instrument"
	codeNotFound      = "not_found"
	codeSiteChanged   = "site_changed"
	codeDegraded      = "degraded"
	codeTryLater      = "try_later"
	codeCanceled      = "canceled"
	codeInternal      = "internal"
)

// classifyError maps an acquisition error onto an HTTP status and code.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidTicker):
		return http.StatusBadRequest, codeInvalidTicker
	case errors.Is(err, pipeline.ErrUnsupportedInstrument):
		return http.StatusUnprocessableEntity, codeUnsupported
	case errors.Is(err, orchestrator.ErrNoRawAudit):
		return http.StatusNotFound, codeNotFound
	}

	switch scraper.KindOf(err) {
	case scraper.KindNotFound:
		return http.StatusNotFound, codeNotFound
	case scraper.KindStructuralMismatch:
		return http.StatusBadGateway, codeSiteChanged
	case scraper.KindAntiBot, scraper.KindCircuitOpen:
		return http.StatusServiceUnavailable, codeDegraded
	case scraper.KindTimeout, scraper.KindCaptureIncomplete:
		return http.StatusGatewayTimeout, codeTryLater
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, codeTryLater
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, codeCanceled
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classifyError(err)
	if code == codeDegraded {
		retry := int(s.cfg.Resilience.BreakerCooldown.Seconds())
		if retry <= 0 {
			retry = 60
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
	}

	msg := err.Error()
	if status >= http.StatusInternalServerError && code == codeInternal {
		s.log.Error("request failed",
			logger.String("path", r.URL.Path),
			logger.Error(err))
		msg = "internal error"
	}
	writeError(w, status, code, msg)
}
