package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"

	"github.com/granthub/granthub/internal/db"
	"github.com/granthub/granthub/internal/ingest"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// RunLister reads the ingest run log.
type RunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]db.RunRecord, error)
}

type Server struct {
	Echo     *echo.Echo
	Pipeline *ingest.Pipeline
	Registry *ingest.Registry
	Runs     RunLister
	// Retries is the whole-run retry budget for triggered runs.
	Retries int

	adminSecret string
}

// NewServer wires the trigger routes. An empty adminSecret is replaced by a
// random one that is never logged, which effectively disables admin routes.
func NewServer(p *ingest.Pipeline, reg *ingest.Registry, runs RunLister, adminSecret string) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	adminSecret = strings.TrimSpace(adminSecret)
	if adminSecret == "" {
		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			return nil, eris.Wrap(err, "api: generate admin secret fallback")
		}
		adminSecret = base64.RawURLEncoding.EncodeToString(buf)
		zap.L().Warn("admin secret is not set; using ephemeral in-memory fallback secret")
	}

	s := &Server{
		Echo:        e,
		Pipeline:    p,
		Registry:    reg,
		Runs:        runs,
		adminSecret: adminSecret,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	api := s.Echo.Group("/api/v1")
	api.GET("/sources", s.handleGetSources)

	admin := api.Group("")
	admin.Use(s.adminMiddleware)
	admin.POST("/etl/:source/run", s.handleRunSource)
	admin.GET("/etl/runs", s.handleListRuns)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

type sourceInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	ListURL  string `json:"list_url"`
	ItemCap  int    `json:"default_item_cap"`
	Strategy string `json:"strategy"`
}

func (s *Server) handleGetSources(c echo.Context) error {
	out := make([]sourceInfo, 0, len(s.Registry.Sources))
	for _, src := range s.Registry.Sources {
		out = append(out, sourceInfo{
			ID:       src.ID,
			Name:     src.Name,
			Kind:     string(src.Kind),
			ListURL:  src.ListURL,
			ItemCap:  ingest.DefaultTriggerParams(src).ItemCap,
			Strategy: src.Strategy,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// handleRunSource runs one source synchronously. Query parameters override
// the source's defaults; any other query key that names one of the source's
// list parameters overrides that parameter.
func (s *Server) handleRunSource(c echo.Context) error {
	cfg, err := s.Registry.Config(c.Param("source"))
	if err != nil {
		return errorJSON(c, err)
	}

	params := ingest.DefaultTriggerParams(cfg)
	params.Retries = s.Retries
	err = echo.QueryParamsBinder(c).
		Int("pages", &params.PageCount).
		Int("start_page", &params.StartPage).
		Int("limit", &params.ItemCap).
		Int("per_page", &params.PerPage).
		Float64("throttle_sec", &params.ThrottleSeconds).
		Bool("dry_run", &params.DryRun).
		Bool("skip_past_years", &params.SkipStale).
		BindError()
	if err != nil {
		return errorJSON(c, eris.Wrapf(ingest.ErrInvalidParams, "%v", err))
	}
	for key, vals := range c.QueryParams() {
		if _, ok := cfg.ListParams[key]; ok && len(vals) > 0 {
			if params.Params == nil {
				params.Params = make(map[string]string)
			}
			params.Params[key] = vals[0]
		}
	}

	res, err := ingest.Trigger(c.Request().Context(), s.Pipeline, s.Registry, cfg.ID, params)
	if err != nil {
		zap.L().Error("triggered run failed", zap.String("source", cfg.ID), zap.Error(err))
		status, payload := errorResponse(err)
		// records written before the failure stay written
		payload.Partial = res
		return c.JSON(status, payload)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleListRuns(c echo.Context) error {
	if s.Runs == nil {
		return c.JSON(http.StatusOK, []db.RunRecord{})
	}
	limit := 20
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 200 {
		limit = l
	}
	runs, err := s.Runs.RecentRuns(c.Request().Context(), limit)
	if err != nil {
		return errorJSON(c, err)
	}
	if runs == nil {
		runs = []db.RunRecord{}
	}
	return c.JSON(http.StatusOK, runs)
}

type errorPayload struct {
	Error   string                `json:"error"`
	Message string                `json:"message"`
	Partial *ingest.TriggerResult `json:"partial,omitempty"`
}

func errorJSON(c echo.Context, err error) error {
	status, payload := errorResponse(err)
	return c.JSON(status, payload)
}

func errorResponse(err error) (int, errorPayload) {
	kind := ingest.ErrorKind(err)
	status := http.StatusInternalServerError
	switch kind {
	case ingest.KindInvalidParams:
		status = http.StatusBadRequest
	case ingest.KindUnknownSource:
		status = http.StatusNotFound
	case ingest.KindFetchError:
		status = http.StatusBadGateway
	}
	return status, errorPayload{Error: kind, Message: err.Error()}
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}

func (s *Server) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		// Check X-Admin-Secret header or Bearer token
		authHeader := c.Request().Header.Get("Authorization")
		adminHeader := c.Request().Header.Get("X-Admin-Secret")

		if adminHeader == s.adminSecret {
			return next(c)
		}
		if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
			if authHeader[7:] == s.adminSecret {
				return next(c)
			}
		}
		return c.JSON(http.StatusUnauthorized, errorPayload{Error: "unauthorized", Message: "admin secret required"})
	}
}
