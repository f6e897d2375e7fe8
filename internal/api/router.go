package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/AgentMesh-Net/labeler-go/internal/config"
	"github.com/AgentMesh-Net/labeler-go/internal/core/label"
	"github.com/AgentMesh-Net/labeler-go/internal/fortune"
	"github.com/AgentMesh-Net/labeler-go/internal/labeling"
	"github.com/AgentMesh-Net/labeler-go/internal/ledger"
	"github.com/AgentMesh-Net/labeler-go/internal/reconcile"
	"github.com/AgentMesh-Net/labeler-go/internal/stream"
)

// Deps are the components the HTTP surface serves.
type Deps struct {
	Ledger    *ledger.Ledger
	Signer    *label.Signer
	Publisher *stream.Publisher
	Labeler   *labeling.Orchestrator
	Table     *fortune.Table
	Engine    *reconcile.Engine
	// Records publishes the labeler declaration. Nil disables the route.
	Records RecordWriter
	Config  config.Config
	Logger  *slog.Logger
	// Background scopes work that outlives a request (report overrides,
	// admin runs, stream sessions). Cancelled at shutdown.
	Background context.Context
}

// NewRouter creates the HTTP router with the XRPC and v1 endpoints.
func NewRouter(d Deps) http.Handler {
	return newHandlers(d).routes()
}

func newHandlers(d Deps) *handlers {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Background == nil {
		d.Background = context.Background()
	}
	h := &handlers{
		ledger:   d.Ledger,
		signer:   d.Signer,
		pub:      d.Publisher,
		labeler:  d.Labeler,
		table:    d.Table,
		engine:   d.Engine,
		records:  d.Records,
		cfg:      d.Config,
		maxBody:  d.Config.MaxBodyBytes,
		maxLimit: d.Config.QueryMaxLimit,
		bg:       d.Background,
		logger:   d.Logger.With("component", "api"),
		async:    func(f func()) { go f() },
		now:      time.Now,
	}
	if h.maxBody <= 0 {
		h.maxBody = 64 * 1024
	}
	if h.maxLimit <= 0 {
		h.maxLimit = 250
	}
	return h
}

func (h *handlers) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	// Long-lived stream; no request timeout.
	r.Get("/xrpc/com.atproto.label.subscribeLabels", h.SubscribeLabels)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/xrpc/com.atproto.label.queryLabels", h.QueryLabels)
		r.Post("/xrpc/com.atproto.moderation.createReport", h.CreateReport)

		r.Route("/v1", func(r chi.Router) {
			r.Get("/health", h.GetHealth)
			r.Get("/labeler/info", h.GetInfo)

			r.Route("/admin", func(r chi.Router) {
				r.Use(h.requireAdmin)
				r.Post("/reconcile", h.PostReconcile)
				r.Post("/migrate", h.PostMigrate)
				r.Post("/declare", h.PostDeclare)
			})
		})
	})

	return r
}

type handlers struct {
	ledger   *ledger.Ledger
	signer   *label.Signer
	pub      *stream.Publisher
	labeler  *labeling.Orchestrator
	table    *fortune.Table
	engine   *reconcile.Engine
	records  RecordWriter
	cfg      config.Config
	maxBody  int64
	maxLimit int
	bg       context.Context
	logger   *slog.Logger
	async    func(func())
	now      func() time.Time
}
