package web

import (
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	lo "github.com/samber/lo"

	"cost-dashboard/command/app"
	"cost-dashboard/domain/auth"
	"cost-dashboard/domain/cloudspending"
	"cost-dashboard/domain/pipeline"
)

// Run starts a small Echo web server exposing the cost pipeline as JSON and
// an optional SPA dashboard.
//
// Usage:
//
//	cost-dashboard web [-addr :8080] [-ui ./ui/dist]
//
// Endpoints:
//
//	GET /api/session                                  -> who is signed in
//	GET /api/subscriptions[?q=name]                   -> visible subscriptions
//	GET /api/cost_records?subscriptionId=&from=&to=   -> runs the pipeline
//	GET /api/cost_records/latest?subscriptionId=      -> last committed result
//	GET /api/cost_records/daily?subscriptionId=       -> daily totals of it
//	GET /api/invoices                                 -> monthly totals
//
// When -ui points to a built Vite app (index.html exists), static files are served at / and
// unknown routes fall back to index.html for SPA routing.
func Run(args []string) error {
	fs := flag.NewFlagSet("web", flag.ContinueOnError)
	addr := fs.String("addr", "", "http listen address (host:port), defaults to web.addr")
	uiDir := fs.String("ui", "", "directory containing built UI (Vite dist), defaults to web.ui_dir")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := app.Load()
	if err != nil {
		return err
	}
	if *addr == "" {
		*addr = a.Config.Web.Addr
	}
	if *uiDir == "" {
		*uiDir = a.Config.Web.UIDir
	}

	e := newServer(a.Pipeline, a.Session).routes()
	serveUI(e, *uiDir)
	slog.Info("web.start", "addr", *addr)
	return e.Start(*addr)
}

type server struct {
	pipeline *pipeline.Pipeline
	session  func() (*auth.Session, error)
	tracker  *pipeline.Tracker

	mu      sync.Mutex
	account string
}

func newServer(p *pipeline.Pipeline, session func() (*auth.Session, error)) *server {
	return &server{pipeline: p, session: session, tracker: pipeline.NewTracker()}
}

// currentSession returns the signed-in session. When the account changes,
// including a sign-out from another process, results committed for the
// previous account are dropped.
func (s *server) currentSession() (*auth.Session, error) {
	session, err := s.session()
	if err != nil {
		return nil, err
	}
	account := ""
	if session != nil {
		account = session.AccountHandle
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if account != s.account {
		slog.Info("web.session.changed", "signed_in", session != nil)
		s.tracker.Reset()
		s.account = account
	}
	return session, nil
}

func (s *server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.GET("/api/session", s.getSession)
	e.GET("/api/subscriptions", s.getSubscriptions)
	e.GET("/api/cost_records", s.getCostRecords)
	e.GET("/api/cost_records/latest", s.getLatest)
	e.GET("/api/cost_records/daily", s.getDaily)
	e.GET("/api/invoices", s.getInvoices)
	return e
}

func (s *server) getSession(c echo.Context) error {
	session, err := s.currentSession()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"signedIn": session != nil,
		"session":  session,
	})
}

func (s *server) getSubscriptions(c echo.Context) error {
	session, err := s.currentSession()
	if err != nil {
		return errorJSON(c, err)
	}
	subs, err := s.pipeline.ListSubscriptions(c.Request().Context(), session)
	if err != nil {
		return errorJSON(c, err)
	}
	if q := strings.ToLower(strings.TrimSpace(c.QueryParam("q"))); q != "" {
		subs = lo.Filter(subs, func(sub cloudspending.Subscription, _ int) bool {
			return strings.Contains(strings.ToLower(sub.DisplayName), q) || strings.Contains(strings.ToLower(sub.SubscriptionID), q)
		})
	}
	return c.JSON(http.StatusOK, subs)
}

// getCostRecords runs one pipeline pass. Concurrent requests for the same
// subscription race; only the newest one is committed as latest.
func (s *server) getCostRecords(c echo.Context) error {
	query, err := parseQuery(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": err.Error()})
	}
	session, err := s.currentSession()
	if err != nil {
		return errorJSON(c, err)
	}

	key := query.SubscriptionID
	gen := s.tracker.Begin(key)
	res, _ := s.pipeline.GetCostRecords(c.Request().Context(), session, query)
	if !s.tracker.Commit(key, gen, res) {
		slog.Debug("web.cost_records.stale", "subscription_id", key, "generation", gen, "newest", s.tracker.Current(key))
	}
	c.Response().Header().Set("X-Generation", strconv.FormatUint(gen, 10))
	return c.JSON(statusFor(res), res)
}

func (s *server) getLatest(c echo.Context) error {
	if _, err := s.currentSession(); err != nil {
		return errorJSON(c, err)
	}
	committed, ok := s.tracker.Latest(c.QueryParam("subscriptionId"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]any{"error": "no result yet"})
	}
	return c.JSON(http.StatusOK, committed)
}

func (s *server) getDaily(c echo.Context) error {
	if _, err := s.currentSession(); err != nil {
		return errorJSON(c, err)
	}
	committed, ok := s.tracker.Latest(c.QueryParam("subscriptionId"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]any{"error": "no result yet"})
	}
	if !committed.Result.OK() {
		return c.JSON(statusFor(committed.Result), committed.Result)
	}
	return c.JSON(http.StatusOK, cloudspending.DailyTotals(committed.Result.Records))
}

func (s *server) getInvoices(c echo.Context) error {
	session, err := s.currentSession()
	if err != nil {
		return errorJSON(c, err)
	}
	invoices, err := s.pipeline.GetInvoices(c.Request().Context(), session)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, invoices)
}

func parseQuery(c echo.Context) (cloudspending.BillingQuery, error) {
	q := cloudspending.BillingQuery{SubscriptionID: strings.TrimSpace(c.QueryParam("subscriptionId"))}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &q.From}, {"to", &q.To}} {
		v := c.QueryParam(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return q, errors.New(p.name + " must be YYYY-MM-DD")
		}
		*p.dst = &t
	}
	return q, nil
}

// statusFor maps a failed result to 401 for auth and 502 for upstream
// failures.
func statusFor(res pipeline.FetchResult) int {
	switch {
	case res.OK():
		return http.StatusOK
	case res.Error.Kind == pipeline.KindAuth:
		return http.StatusUnauthorized
	default:
		return http.StatusBadGateway
	}
}

func errorJSON(c echo.Context, err error) error {
	res := pipeline.ErrorResult(err)
	return c.JSON(statusFor(res), res)
}

// serveUI mounts a built Vite app when uiDir holds an index.html.
func serveUI(e *echo.Echo, uiDir string) {
	indexPath := filepath.Join(uiDir, "index.html")
	fi, err := os.Stat(indexPath)
	if err != nil || fi.IsDir() {
		return
	}
	e.Static("/", uiDir)
	e.GET("/", func(c echo.Context) error { return c.File(indexPath) })

	// Fallback to index.html for non-API 404s (SPA routing) while keeping static assets working
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Code == http.StatusNotFound && !strings.HasPrefix(c.Request().URL.Path, "/api") {
			_ = c.File(indexPath)
			return
		}
		e.DefaultHTTPErrorHandler(err, c)
	}
}
