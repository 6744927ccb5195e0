package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/mindmate/cognigate/ai/engine"
	"github.com/mindmate/cognigate/internal/version"
	"github.com/mindmate/cognigate/store"
)

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleQuery(c echo.Context) error {
	var req engine.QueryRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "BadRequest", Message: "malformed request body"})
	}
	if req.Query == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "BadRequest", Message: "query is required"})
	}

	resp := s.engine.Query(c.Request().Context(), req)
	return c.JSON(statusFor(resp), resp)
}

// statusFor keeps the envelope the source of truth while still giving
// HTTP clients a meaningful status code.
func statusFor(resp *engine.QueryResponse) int {
	if resp.Success {
		return http.StatusOK
	}
	switch resp.Error {
	case engine.KindInputTooLarge, engine.KindUnresolvableReference, engine.KindBudgetExceeded:
		return http.StatusBadRequest
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindTimeout:
		return http.StatusGatewayTimeout
	case engine.KindProviderError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleAtRisk(c echo.Context) error {
	threshold := 0.5
	if raw := c.QueryParam("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 || v > 1 {
			return c.JSON(http.StatusBadRequest, errorBody{Error: "BadRequest", Message: "threshold must be in (0, 1]"})
		}
		threshold = v
	}

	patients, err := s.engine.AtRisk(c.Request().Context(), threshold)
	if err != nil {
		return s.jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":   true,
		"threshold": threshold,
		"count":     len(patients),
		"patients":  patients,
	})
}

func (s *Server) handlePatient(c echo.Context) error {
	detail, err := s.engine.PatientDetail(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "patient": detail})
}

func (s *Server) handleDashboard(c echo.Context) error {
	res, err := s.engine.Dashboard(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":    true,
		"dashboard":  res.Dashboard,
		"cached":     res.Cached,
		"ageSeconds": res.Age,
	})
}

func (s *Server) handleMemoryStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"success": true, "memory": s.engine.MemoryStats()})
}

func (s *Server) handleCacheStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"success": true, "cache": s.engine.CacheStats()})
}

func (s *Server) handleCacheInvalidate(c echo.Context) error {
	n := s.engine.InvalidatePatient(c.Param("patientID"))
	return c.JSON(http.StatusOK, map[string]any{"success": true, "invalidated": n})
}

func (s *Server) handleCacheClear(c echo.Context) error {
	n := s.engine.ClearCache()
	return c.JSON(http.StatusOK, map[string]any{"success": true, "cleared": n})
}

func (s *Server) handleCacheCleanup(c echo.Context) error {
	n := s.engine.CleanupExpired()
	return c.JSON(http.StatusOK, map[string]any{"success": true, "evicted": n})
}

func (s *Server) healthz(c echo.Context) error {
	if err := s.store.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status": "degraded",
			"error":  "record store unreachable",
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   version.GetCurrentVersion(s.profile.Mode),
		"aiEnabled": s.profile.IsAIEnabled(),
		"cache":     s.engine.CacheStats(),
	})
}

func (s *Server) jsonError(c echo.Context, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorBody{Error: engine.KindNotFound, Message: err.Error()})
	}
	return c.JSON(http.StatusInternalServerError, errorBody{Error: engine.ErrorKind(err), Message: err.Error()})
}
