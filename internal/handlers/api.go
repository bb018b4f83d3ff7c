package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/multi-llm-chat-go/internal/config"
	"github.com/multi-llm-chat-go/internal/middleware"
	"github.com/multi-llm-chat-go/internal/services/ai"
	"github.com/multi-llm-chat-go/internal/services/cache"
	"github.com/multi-llm-chat-go/internal/services/chat"
	dynconfig "github.com/multi-llm-chat-go/internal/services/config"
	"github.com/multi-llm-chat-go/internal/services/knowledge"
	"github.com/multi-llm-chat-go/internal/services/storage"
	"github.com/sirupsen/logrus"
)

// Services are the components the API serves
type Services struct {
	Sessions  *chat.Manager
	Providers *ai.Registry
	Settings  *dynconfig.SettingsService
	Catalog   *cache.ModelCatalog
	// Knowledge is nil when the knowledge base is disabled
	Knowledge *knowledge.Service
	Histories storage.Storage
	Limiter   *middleware.ClientRateLimiter
	Metrics   *middleware.Metrics
}

// API handles the chat HTTP endpoints
type API struct {
	cfg       *config.Config
	sessions  *chat.Manager
	providers *ai.Registry
	settings  *dynconfig.SettingsService
	catalog   *cache.ModelCatalog
	knowledge *knowledge.Service
	histories storage.Storage
	limiter   *middleware.ClientRateLimiter
	security  *middleware.SecurityMiddleware
	metrics   *middleware.Metrics
	logger    *logrus.Logger
}

// NewAPI creates the API. Cached model catalogs of a provider are dropped
// whenever its settings change.
func NewAPI(cfg *config.Config, svc Services, logger *logrus.Logger) *API {
	if svc.Metrics == nil {
		svc.Metrics = middleware.NewMetrics()
	}
	if svc.Limiter == nil {
		svc.Limiter = middleware.NewRateLimiter(cfg, logger)
	}
	svc.Settings.RegisterChangeListener(svc.Catalog.Invalidate)

	return &API{
		cfg:       cfg,
		sessions:  svc.Sessions,
		providers: svc.Providers,
		settings:  svc.Settings,
		catalog:   svc.Catalog,
		knowledge: svc.Knowledge,
		histories: svc.Histories,
		limiter:   svc.Limiter,
		security:  middleware.NewSecurityMiddleware(cfg, logger),
		metrics:   svc.Metrics,
		logger:    logger,
	}
}

// Router registers every route
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(a.metrics.Instrument)

	r.HandleFunc("/health", a.health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	limited := a.limiter.Middleware(a.metrics)

	// Sessions
	api.HandleFunc("/sessions", a.createSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", a.getSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", a.deleteSession).Methods(http.MethodDelete)
	api.Handle("/sessions/{id}/messages", limited(http.HandlerFunc(a.sendMessage))).Methods(http.MethodPost)
	api.Handle("/sessions/{id}/images", limited(http.HandlerFunc(a.sendImage))).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/cancel", a.cancelStream).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/reset", a.resetSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/events", a.sessionEvents).Methods(http.MethodGet)

	// Persisted histories
	api.HandleFunc("/histories", a.listHistories).Methods(http.MethodGet)
	api.HandleFunc("/histories/{id}", a.deleteHistory).Methods(http.MethodDelete)

	// Providers
	api.HandleFunc("/providers", a.listProviders).Methods(http.MethodGet)
	api.HandleFunc("/providers/{provider}/models", a.listModels).Methods(http.MethodGet)
	api.HandleFunc("/providers/{provider}/settings", a.updateSettings).Methods(http.MethodPut)

	// Knowledge base
	api.HandleFunc("/documents", a.listDocuments).Methods(http.MethodGet)
	api.Handle("/documents", limited(http.HandlerFunc(a.uploadDocument))).Methods(http.MethodPost)
	api.HandleFunc("/documents/{name}", a.deleteDocument).Methods(http.MethodDelete)

	return r
}

// Handler is the router behind the CORS middleware, so preflight requests
// are answered before method matching
func (a *API) Handler() http.Handler {
	return middleware.CORS(a.cfg.Server.AllowOrigins)(a.Router())
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": a.sessions.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON decodes an optional JSON body; an empty body leaves v untouched
func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
