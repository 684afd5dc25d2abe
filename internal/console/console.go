// Package console serves the analytics screens over HTTP. Each request runs the
// pipeline against the backend API with the caller's own token, so the backend
// remains the authority on what the caller may read and write.
package console

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	analyticssdk "github.com/law1om/analytics-platform/sdk/go"

	"github.com/law1om/analytics-platform/internal/analytics"
	"github.com/law1om/analytics-platform/internal/engine/auth"
	"github.com/law1om/analytics-platform/internal/httpapi"
	"github.com/law1om/analytics-platform/internal/pipeline"
)

const defaultSessions = 256

type Config struct {
	APIURL       string
	BasePath     string
	JWTSecret    string
	FetchTimeout time.Duration
	// Sessions bounds how many screen views are kept between requests.
	Sessions   int
	Logger     *zap.Logger
	HTTPClient *http.Client
}

type Console struct {
	cfg    Config
	client *analyticssdk.Client
	logger *zap.Logger

	mu    sync.Mutex
	views *lru.Cache[string, *pipeline.View]
}

// New returns the console HTTP handler.
func New(cfg Config) (http.Handler, error) {
	c, err := newConsole(cfg)
	if err != nil {
		return nil, err
	}
	return c.routes(), nil
}

func newConsole(cfg Config) (*Console, error) {
	if strings.TrimSpace(cfg.APIURL) == "" {
		return nil, errors.New("console: api url is required")
	}
	if cfg.BasePath == "" {
		cfg.BasePath = "/v0"
	}
	if !strings.HasPrefix(cfg.BasePath, "/") {
		cfg.BasePath = "/" + cfg.BasePath
	}
	if cfg.Sessions <= 0 {
		cfg.Sessions = defaultSessions
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	views, err := lru.New[string, *pipeline.View](cfg.Sessions)
	if err != nil {
		return nil, fmt.Errorf("console: view cache: %w", err)
	}
	client := analyticssdk.New(cfg.APIURL, "")
	client.HTTPClient = cfg.HTTPClient
	if cfg.FetchTimeout > 0 {
		client.Timeout = cfg.FetchTimeout
	}
	return &Console{cfg: cfg, client: client, logger: logger, views: views}, nil
}

func (c *Console) routes() http.Handler {
	httpapi.InstallErrorOverrides()
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(httpapi.RequestLogger(c.logger))
	router.Use(c.authMiddleware)
	hcfg := huma.DefaultConfig("Bank Analytics Console", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, c.cfg.BasePath)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(httpapi.SwaggerHTML("Bank Analytics Console", c.cfg.BasePath)))
	})
	registerHealth(group)
	c.registerViews(group)
	c.registerMutations(group)
	httpapi.ServeOpenAPI(router, api, c.cfg.BasePath, "health")
	return router
}

type callerKey struct{}

// caller is the authenticated user behind a console request together with the
// token forwarded to the backend.
type caller struct {
	Principal auth.Principal
	Token     string
}

func (cl caller) actor() analytics.Actor {
	return analytics.Actor{UserID: cl.Principal.UserID, Role: cl.Principal.Role, DivisionID: cl.Principal.DivisionID}
}

func callerFromContext(ctx context.Context) (caller, huma.StatusError) {
	if cl, ok := ctx.Value(callerKey{}).(caller); ok {
		return cl, nil
	}
	return caller{}, httpapi.NewError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func (c *Console) authMiddleware(next http.Handler) http.Handler {
	base := c.cfg.BasePath
	open := map[string]bool{
		path.Join(base, "health"):       true,
		path.Join(base, "openapi.json"): true,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !strings.HasPrefix(req.URL.Path, base) || open[req.URL.Path] {
			next.ServeHTTP(w, req)
			return
		}
		token, ok := auth.BearerToken(req.Header.Get("Authorization"))
		if !ok {
			httpapi.Respond(w, httpapi.NewError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
			return
		}
		p, err := auth.ParseToken(c.cfg.JWTSecret, token)
		if err != nil {
			c.logger.Debug("rejected token", zap.Error(err))
			httpapi.Respond(w, httpapi.NewError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
			return
		}
		ctx := context.WithValue(req.Context(), callerKey{}, caller{Principal: p, Token: token})
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// view returns the shared View for a screen key, creating it on first use.
func (c *Console) view(key string) *pipeline.View {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.views.Get(key); ok {
		return v
	}
	v := &pipeline.View{}
	c.views.Add(key, v)
	return v
}

// session binds req to the caller's backend client. Employees read through a
// DivisionSource so only their division's goals are fetched.
func (c *Console) session(cl caller, req pipeline.Request) *pipeline.Session {
	client := c.client.WithToken(cl.Token)
	runner := pipeline.NewRunner(pipeline.SourceFor(client, cl.actor()), c.logger)
	runner.Timeout = c.cfg.FetchTimeout
	return &pipeline.Session{Runner: runner, View: c.view(req.Key()), Request: req, Mutator: client}
}

// request builds the pipeline request for a screen. Division and block screens
// are reserved for admins.
func request(cl caller, kind pipeline.ViewKind, divisionID int64, block string) (pipeline.Request, error) {
	req := pipeline.Request{Actor: cl.actor(), Kind: kind}
	switch kind {
	case "", pipeline.ViewDashboard:
		req.Kind = pipeline.ViewDashboard
	case pipeline.ViewMyDivision:
	case pipeline.ViewDivision, pipeline.ViewBlock:
		if err := auth.RequireAdmin(cl.Principal, "analytics.division.read"); err != nil {
			return pipeline.Request{}, err
		}
		req.DivisionID = divisionID
		if kind == pipeline.ViewBlock {
			req.Block = block
		}
	default:
		return pipeline.Request{}, httpapi.NewError(http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown view %q", kind), nil)
	}
	return req, nil
}

// defaultView is the screen a mutation refreshes when none is named.
func defaultView(cl caller) pipeline.ViewKind {
	if cl.Principal.IsAdmin() {
		return pipeline.ViewDashboard
	}
	return pipeline.ViewMyDivision
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return httpapi.NewError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"action": fe.Action})
	}
	switch analytics.KindOf(err) {
	case analytics.KindFetchFailure:
		details := map[string]any{}
		var fetchErr *analytics.FetchError
		if errors.As(err, &fetchErr) {
			details["collection"] = fetchErr.Collection
		}
		return httpapi.NewError(http.StatusBadGateway, "fetch_failed", err.Error(), details)
	case analytics.KindScopeResolution:
		return httpapi.NewError(http.StatusNotFound, "scope_division_not_found", err.Error(), nil)
	case analytics.KindNotFound:
		code := "not_found"
		switch {
		case errors.Is(err, analytics.ErrBlockNotFound):
			code = "block_not_found"
		case errors.Is(err, analytics.ErrDivisionNotFound):
			code = "division_not_found"
		case errors.Is(err, analytics.ErrNoDivision):
			code = "no_division"
		}
		return httpapi.NewError(http.StatusNotFound, code, err.Error(), nil)
	}
	var apiErr *analyticssdk.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= http.StatusInternalServerError {
			return httpapi.NewError(http.StatusBadGateway, "upstream_error", apiErr.Error(), nil)
		}
		return httpapi.NewError(apiErr.StatusCode, apiErr.Code, apiErr.Message, nil)
	}
	return httpapi.NewError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}
