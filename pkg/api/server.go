// Package api is the admin HTTP surface: trigger syncs, inspect the job
// ledger, diagnose site mappings and run Windows compliance evaluation.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/mfreeman451/telemetrysync/pkg/db"
	httpx "github.com/mfreeman451/telemetrysync/pkg/http"
	"github.com/mfreeman451/telemetrysync/pkg/ledger"
	"github.com/mfreeman451/telemetrysync/pkg/models"
	"github.com/mfreeman451/telemetrysync/pkg/syncer"
	"github.com/mfreeman451/telemetrysync/pkg/winver"
	"github.com/rs/zerolog"
)

const maxJobsLimit = 500

var (
	errUnknownKind    = errors.New("unknown sync kind")
	errAlreadyRunning = errors.New("a sync of this kind is already running")
)

// syncKind is the {kind} path segment of POST /api/sync/{kind}.
type syncKind string

const (
	kindAgents          syncKind = "agents"
	kindVulnerabilities syncKind = "cves"
	kindAll             syncKind = "all"
)

func parseKind(s string) (syncKind, error) {
	switch strings.ToLower(s) {
	case "agents":
		return kindAgents, nil
	case "cves", "vulnerabilities":
		return kindVulnerabilities, nil
	case "all":
		return kindAll, nil
	}

	return "", fmt.Errorf("%w: %s", errUnknownKind, s)
}

// syncTypes are the ledger job types a kind creates.
func (k syncKind) syncTypes() []models.SyncType {
	switch k {
	case kindAgents:
		return []models.SyncType{models.SyncTypeAgents}
	case kindVulnerabilities:
		return []models.SyncType{models.SyncTypeVulnerabilities}
	default:
		return []models.SyncType{models.SyncTypeAgents, models.SyncTypeVulnerabilities}
	}
}

// Dependencies wires an APIServer. Sites, Windows and Metrics are optional;
// their routes answer 503 when absent. Events, when set, serves the run
// event websocket stream.
type Dependencies struct {
	Syncer  Syncer
	Ledger  JobLedger
	Tenants TenantLookup
	Sites   SiteDiagnostics
	Windows WindowsEvaluator
	Metrics RunHistory
	Events  http.Handler
	Logger  zerolog.Logger
}

// APIServer serves the admin API. Syncs triggered without ?wait=true run in
// the background until they finish or Stop is called.
type APIServer struct {
	deps   Dependencies
	router *mux.Router
	logger zerolog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	running map[syncKind]bool
}

// NewAPIServer builds the router.
func NewAPIServer(deps Dependencies) *APIServer {
	ctx, cancel := context.WithCancel(context.Background())

	s := &APIServer{
		deps:    deps,
		router:  mux.NewRouter(),
		logger:  deps.Logger.With().Str("component", "api").Logger(),
		baseCtx: ctx,
		cancel:  cancel,
		running: make(map[syncKind]bool),
	}
	s.setupRoutes()

	return s
}

func (s *APIServer) setupRoutes() {
	s.router.Use(httpx.CommonMiddleware)
	s.router.Use(httpx.RequestLogger(s.logger))

	s.router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)

	s.router.HandleFunc("/api/sync/{kind}", s.triggerSync).Methods(http.MethodPost)

	s.router.HandleFunc("/api/jobs", s.listJobs).Methods(http.MethodGet)
	s.router.HandleFunc("/api/jobs/{id}", s.getJob).Methods(http.MethodGet)

	s.router.HandleFunc("/api/sites/unmapped", s.unmappedSites).Methods(http.MethodGet)

	s.router.HandleFunc("/api/tenants/{slug}/windows/evaluate", s.evaluateWindows).Methods(http.MethodPost)

	s.router.HandleFunc("/api/metrics/runs/{type}", s.recentRuns).Methods(http.MethodGet)

	if s.deps.Events != nil {
		s.router.Handle("/api/events", s.deps.Events).Methods(http.MethodGet)
	}

	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}
}

// ServeHTTP implements http.Handler.
func (s *APIServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start blocks until ctx is done. The router is usable before Start.
func (s *APIServer) Start(ctx context.Context) error {
	<-ctx.Done()

	return nil
}

// Stop cancels background syncs and waits for them to record their outcome.
func (s *APIServer) Stop(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background syncs: %w", ctx.Err())
	}
}

func (*APIServer) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type syncResponse struct {
	Kind    syncKind `json:"kind"`
	Tenant  string   `json:"tenant,omitempty"`
	Status  string   `json:"status"`
	Summary any      `json:"summary,omitempty"`
	Error   string   `json:"error,omitempty"`
}

func (s *APIServer) triggerSync(w http.ResponseWriter, r *http.Request) {
	kind, err := parseKind(mux.Vars(r)["kind"])
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	scope := syncer.Scope{TenantSlug: r.URL.Query().Get("tenant")}

	status, err := s.checkNotRunning(r.Context(), kind, scope)
	if err != nil {
		writeError(w, status, err)
		return
	}

	if !s.claim(kind) {
		writeError(w, http.StatusConflict, errAlreadyRunning)
		return
	}

	resp := syncResponse{Kind: kind, Tenant: scope.TenantSlug}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		defer s.release(kind)

		summary, err := s.runSync(r.Context(), kind, scope)
		if err != nil {
			resp.Status = string(models.JobFailed)
			resp.Error = err.Error()
			writeJSON(w, syncErrorStatus(err), resp)

			return
		}

		resp.Status = string(models.JobCompleted)
		resp.Summary = summary
		writeJSON(w, http.StatusOK, resp)

		return
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer s.release(kind)

		if _, err := s.runSync(s.baseCtx, kind, scope); err != nil {
			s.logger.Error().Err(err).Str("kind", string(kind)).Str("tenant", scope.TenantSlug).
				Msg("Background sync failed")
		}
	}()

	resp.Status = "ACCEPTED"
	writeJSON(w, http.StatusAccepted, resp)
}

// checkNotRunning consults the ledger so runs started by another process are
// seen too.
func (s *APIServer) checkNotRunning(ctx context.Context, kind syncKind, scope syncer.Scope) (int, error) {
	var tenantID string

	if scope.TenantSlug != "" && s.deps.Tenants != nil {
		tenant, err := s.deps.Tenants.GetTenantBySlug(ctx, scope.TenantSlug)
		if errors.Is(err, db.ErrNotFound) {
			return http.StatusNotFound, fmt.Errorf("tenant %s not found", scope.TenantSlug)
		}

		if err != nil {
			return http.StatusInternalServerError, err
		}

		tenantID = tenant.ID
	}

	for _, syncType := range kind.syncTypes() {
		running, err := s.deps.Ledger.HasRunning(ctx, tenantID, models.SourceSentinelOne, syncType)
		if err != nil {
			return http.StatusInternalServerError, err
		}

		if running {
			return http.StatusConflict, fmt.Errorf("%w: %s", errAlreadyRunning, syncType)
		}
	}

	return http.StatusOK, nil
}

func (s *APIServer) claim(kind syncKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running[kind] || (kind != kindAll && s.running[kindAll]) {
		return false
	}

	if kind == kindAll && (s.running[kindAgents] || s.running[kindVulnerabilities]) {
		return false
	}

	s.running[kind] = true

	return true
}

func (s *APIServer) release(kind syncKind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, kind)
}

func (s *APIServer) runSync(ctx context.Context, kind syncKind, scope syncer.Scope) (any, error) {
	switch kind {
	case kindAgents:
		return s.deps.Syncer.RunAgents(ctx, scope)
	case kindVulnerabilities:
		return s.deps.Syncer.RunVulnerabilitiesWithRetry(ctx, scope)
	default:
		return s.deps.Syncer.RunAll(ctx, scope)
	}
}

func syncErrorStatus(err error) int {
	switch {
	case errors.Is(err, syncer.ErrConfiguration):
		return http.StatusUnprocessableEntity
	case syncer.IsRetryable(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *APIServer) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := models.JobFilter{
		Type:   models.SyncType(strings.ToUpper(q.Get("type"))),
		Status: models.JobStatus(strings.ToUpper(q.Get("status"))),
	}

	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", limit))
			return
		}

		filter.Limit = min(n, maxJobsLimit)
	}

	if slug := q.Get("tenant"); slug != "" && s.deps.Tenants != nil {
		tenant, err := s.deps.Tenants.GetTenantBySlug(r.Context(), slug)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("tenant %s not found", slug))
			return
		}

		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}

		filter.TenantID = tenant.ID
	}

	jobs, err := s.deps.Ledger.Recent(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if jobs == nil {
		jobs = []models.SyncJob{}
	}

	writeJSON(w, http.StatusOK, jobs)
}

func (s *APIServer) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Ledger.Get(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, ledger.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func (s *APIServer) unmappedSites(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sites == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("site diagnostics are not configured"))
		return
	}

	sites, err := s.deps.Sites.DiagnoseUnmapped(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	writeJSON(w, http.StatusOK, sites)
}

type evaluateRequest struct {
	EndpointIDs []string `json:"endpoint_ids,omitempty"`
}

func (s *APIServer) evaluateWindows(w http.ResponseWriter, r *http.Request) {
	if s.deps.Windows == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("windows evaluation is not configured"))
		return
	}

	var req evaluateRequest

	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
	}

	report, err := s.deps.Windows.EvaluateTenant(r.Context(), mux.Vars(r)["slug"], req.EndpointIDs)

	switch {
	case errors.Is(err, winver.ErrTenantNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, winver.ErrNoActivePolicy):
		writeError(w, http.StatusUnprocessableEntity, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func (s *APIServer) recentRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Metrics == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("metrics are disabled"))
		return
	}

	var syncType models.SyncType

	switch strings.ToLower(mux.Vars(r)["type"]) {
	case "agents":
		syncType = models.SyncTypeAgents
	case "cves", "vulnerabilities":
		syncType = models.SyncTypeVulnerabilities
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", errUnknownKind, mux.Vars(r)["type"]))
		return
	}

	points := s.deps.Metrics.Recent(syncType)
	if points == nil {
		points = []models.RunPoint{}
	}

	writeJSON(w, http.StatusOK, points)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
