// Package dashboard serves ticket statistics over HTTP.
package dashboard

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/netmaker/internal/reconcile"
	"github.com/zulandar/netmaker/internal/stats"
	"gorm.io/gorm"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Refresher runs one reconciliation pass on demand.
type Refresher interface {
	RunOnce(ctx context.Context) (reconcile.Result, error)
}

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	DB             *gorm.DB
	Port           int
	Network        string
	Stats          *stats.Publisher
	Refresher      Refresher     // optional; polled before the page renders
	RefreshTimeout time.Duration // bound on the on-demand pass
	Logger         *slog.Logger
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("dashboard listening", "url", fmt.Sprintf("http://localhost:%d", opts.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// NewRouter builds the gin engine serving every dashboard route.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("dashboard: db is required")
	}
	if opts.Stats == nil {
		opts.Stats = &stats.Publisher{}
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	tmpl, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	router.SetHTMLTemplate(tmpl)

	registerRoutes(router, &handlers{opts: opts, log: opts.Logger.With("component", "dashboard")})
	return router, nil
}

// parseTemplates loads the embedded HTML templates.
func parseTemplates() (*template.Template, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"timeAgo": func(t time.Time) string { return timeAgo(t, time.Now()) },
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return tmpl, nil
}
