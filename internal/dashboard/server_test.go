package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/netmaker/internal/config"
	"github.com/zulandar/netmaker/internal/content"
	"github.com/zulandar/netmaker/internal/db"
	"github.com/zulandar/netmaker/internal/gateway"
	"github.com/zulandar/netmaker/internal/models"
	"github.com/zulandar/netmaker/internal/reconcile"
	"github.com/zulandar/netmaker/internal/stats"
	"github.com/zulandar/netmaker/internal/ticket"
	"gorm.io/gorm"
)

type fakeRefresher struct {
	calls atomic.Int32
	err   error
	block bool
}

func (f *fakeRefresher) RunOnce(ctx context.Context) (reconcile.Result, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return reconcile.Result{}, ctx.Err()
	}
	return reconcile.Result{}, f.err
}

// heldGateway keeps every GetResult waiting until release is closed.
type heldGateway struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *heldGateway) Submit(ctx context.Context, kind models.Kind, req gateway.SubmitRequest) (*gateway.RequestResult, error) {
	return nil, errors.New("not implemented")
}

func (g *heldGateway) GetResult(ctx context.Context, kind models.Kind, resultID string) (*gateway.ResultRegistration, error) {
	g.once.Do(func() { close(g.started) })
	<-g.release
	return nil, gateway.ErrNoResult
}

func (g *heldGateway) Close() error { return nil }

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Open(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close(gdb) })
	return gdb
}

// seed adds one content item with a pending sense ticket and a successful
// cascade ticket.
func seed(t *testing.T, gdb *gorm.DB) {
	t.Helper()
	item, err := content.Add(gdb, content.AddOpts{Description: "tower at night", FilePath: "images/a.png"})
	if err != nil {
		t.Fatalf("add content: %v", err)
	}
	for _, k := range []models.Kind{models.KindSense, models.KindCascade} {
		opts := ticket.CreateOpts{
			Kind:      k,
			ContentID: &item.ID,
			Status:    models.StatusPending,
			ResultID:  "r-" + string(k),
		}
		if k == models.KindCascade {
			opts.Options = map[string]interface{}{ticket.OptPubliclyAccessible: false}
		}
		tk, err := ticket.Create(gdb, opts)
		if err != nil {
			t.Fatalf("create %s ticket: %v", k, err)
		}
		if k == models.KindCascade {
			if err := ticket.UpdateStatus(gdb, tk.ID, models.StatusSuccess, "reg", "act"); err != nil {
				t.Fatalf("update: %v", err)
			}
		}
	}
}

func newTestRouter(t *testing.T, opts StartOpts) *gin.Engine {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	router, err := NewRouter(opts)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return router
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNewRouter_NilDB(t *testing.T) {
	_, err := NewRouter(StartOpts{})
	if err == nil {
		t.Fatal("expected error for nil db")
	}
	if !strings.Contains(err.Error(), "db is required") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "db is required")
	}
}

func TestStart_NilDB(t *testing.T) {
	if err := Start(context.Background(), StartOpts{}); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestEmbeddedTemplates(t *testing.T) {
	data, err := templatesFS.ReadFile("templates/index.html")
	if err != nil {
		t.Fatalf("index.html not embedded: %v", err)
	}
	if !strings.Contains(string(data), "Netmaker") {
		t.Error("index.html does not contain 'Netmaker'")
	}
}

func TestIndex_RefreshesThenRenders(t *testing.T) {
	gdb := testDB(t)
	seed(t, gdb)
	ref := &fakeRefresher{}
	router := newTestRouter(t, StartOpts{DB: gdb, Network: "testnet", Refresher: ref})

	rec := get(t, router, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := ref.calls.Load(); got != 1 {
		t.Errorf("refresher calls = %d, want 1", got)
	}
	body := rec.Body.String()
	for _, want := range []string{"testnet", "Cascade", "Sense", "NFT", "Collection", "r-sense"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
	if !strings.Contains(body, `id="content-total">1<`) {
		t.Error("content total not rendered")
	}
}

func TestIndex_RefreshFailureStillRenders(t *testing.T) {
	gdb := testDB(t)
	router := newTestRouter(t, StartOpts{DB: gdb, Refresher: &fakeRefresher{err: errors.New("gateway down")}})

	rec := get(t, router, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No tickets yet") {
		t.Error("expected empty ticket list")
	}
}

func TestIndex_RefreshIsBounded(t *testing.T) {
	gdb := testDB(t)
	router := newTestRouter(t, StartOpts{
		DB:             gdb,
		Refresher:      &fakeRefresher{block: true},
		RefreshTimeout: 50 * time.Millisecond,
	})

	start := time.Now()
	rec := get(t, router, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("index took %v, want bounded by refresh timeout", elapsed)
	}
}

func TestIndex_DoesNotWaitForRunningPass(t *testing.T) {
	gdb := testDB(t)
	seed(t, gdb)
	gw := &heldGateway{started: make(chan struct{}), release: make(chan struct{})}
	pub := &stats.Publisher{}
	rec, err := reconcile.New(reconcile.Opts{
		DB:      gdb,
		Gateway: gw,
		Stats:   pub,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("reconcile.New: %v", err)
	}
	if _, err := pub.Refresh(gdb); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		rec.RunOnce(context.Background())
	}()
	<-gw.started
	defer func() {
		close(gw.release)
		<-loopDone
	}()

	router := newTestRouter(t, StartOpts{
		DB:             gdb,
		Network:        "testnet",
		Stats:          pub,
		Refresher:      rec,
		RefreshTimeout: 100 * time.Millisecond,
	})

	start := time.Now()
	resp := get(t, router, "/")
	elapsed := time.Since(start)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Code)
	}
	if elapsed > time.Second {
		t.Errorf("index took %v while a pass was running, want about the refresh timeout", elapsed)
	}
	if !strings.Contains(resp.Body.String(), `id="content-total">1<`) {
		t.Error("last published statistics not rendered")
	}
}

func TestAPIStats_BuildsWhenNothingPublished(t *testing.T) {
	gdb := testDB(t)
	seed(t, gdb)
	pub := &stats.Publisher{}
	router := newTestRouter(t, StartOpts{DB: gdb, Network: "devnet", Stats: pub})

	rec := get(t, router, "/api/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Network  string         `json:"network"`
		Snapshot stats.Snapshot `json:"snapshot"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Network != "devnet" {
		t.Errorf("network = %q, want devnet", resp.Network)
	}
	if resp.Snapshot.ContentTotal != 1 {
		t.Errorf("content_total = %d, want 1", resp.Snapshot.ContentTotal)
	}
	if got := resp.Snapshot.Kind(models.KindCascade).Success; got != 1 {
		t.Errorf("cascade success = %d, want 1", got)
	}
	if pub.Current().GeneratedAt.IsZero() {
		t.Error("snapshot was not published")
	}
}

func TestAPIStats_ServesPublishedSnapshot(t *testing.T) {
	gdb := testDB(t)
	seed(t, gdb)
	pub := &stats.Publisher{}
	pub.Publish(&stats.Snapshot{ContentTotal: 42, GeneratedAt: time.Now()})
	router := newTestRouter(t, StartOpts{DB: gdb, Stats: pub})

	rec := get(t, router, "/api/stats")
	if !strings.Contains(rec.Body.String(), `"content_total":42`) {
		t.Errorf("body = %s, want published snapshot", rec.Body.String())
	}
}

func TestAPITickets(t *testing.T) {
	gdb := testDB(t)
	seed(t, gdb)
	router := newTestRouter(t, StartOpts{DB: gdb})

	tests := []struct {
		path      string
		wantCode  int
		wantCount int
	}{
		{"/api/tickets", http.StatusOK, 2},
		{"/api/tickets?kind=sense", http.StatusOK, 1},
		{"/api/tickets?kind=CASCADE&status=success", http.StatusOK, 1},
		{"/api/tickets?kind=cascade&status=pending", http.StatusOK, 0},
		{"/api/tickets?limit=1", http.StatusOK, 1},
		{"/api/tickets?kind=bogus", http.StatusBadRequest, 0},
		{"/api/tickets?status=done", http.StatusBadRequest, 0},
		{"/api/tickets?limit=-3", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := get(t, router, tt.path)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var resp struct {
				Tickets []TicketRow `json:"tickets"`
				Count   int         `json:"count"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Count != tt.wantCount || len(resp.Tickets) != tt.wantCount {
				t.Errorf("count = %d (%d rows), want %d", resp.Count, len(resp.Tickets), tt.wantCount)
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	gdb := testDB(t)
	router := newTestRouter(t, StartOpts{DB: gdb})

	rec := get(t, router, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestUnknownRoute_Returns404(t *testing.T) {
	router := newTestRouter(t, StartOpts{DB: testDB(t)})
	if rec := get(t, router, "/cars"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSSE_StreamsNewSnapshots(t *testing.T) {
	prev := ssePollInterval
	ssePollInterval = 10 * time.Millisecond
	t.Cleanup(func() { ssePollInterval = prev })

	pub := &stats.Publisher{}
	router := newTestRouter(t, StartOpts{DB: testDB(t), Stats: pub})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		pub.Publish(&stats.Snapshot{ContentTotal: 5, GeneratedAt: time.Now()})
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	router.ServeHTTP(rec, req)

	body := rec.Body.String()
	if got := strings.Count(body, "event: stats"); got != 2 {
		t.Errorf("stats events = %d, want 2\n%s", got, body)
	}
	if !strings.Contains(body, `"content_total":5`) {
		t.Errorf("published snapshot not streamed\n%s", body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestTimeAgo(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		t    time.Time
		want string
	}{
		{time.Time{}, "never"},
		{now.Add(-10 * time.Second), "just now"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-3 * time.Hour), "3h ago"},
		{now.Add(-50 * time.Hour), "2d ago"},
	}
	for _, tt := range tests {
		if got := timeAgo(tt.t, now); got != tt.want {
			t.Errorf("timeAgo(%v) = %q, want %q", tt.t, got, tt.want)
		}
	}
}
