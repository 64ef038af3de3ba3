// Package monitor serves the interactive viewer for paired subevents: a
// counter selector, per-pair echarts pages, PNG export and a JSON API over
// the most recent pairs, plus the run history when a database is attached.
package monitor

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/banshee-data/cs-ranging/internal/db"
	"github.com/banshee-data/cs-ranging/internal/httputil"
	"github.com/banshee-data/cs-ranging/internal/monitoring"
	"github.com/banshee-data/cs-ranging/internal/pipeline"
	"github.com/banshee-data/cs-ranging/internal/ranging"
	"github.com/banshee-data/cs-ranging/internal/timeutil"
	"github.com/banshee-data/cs-ranging/internal/version"
	"github.com/google/uuid"
)

//go:embed viewer.html
var viewerFS embed.FS

var viewerTemplates = template.Must(template.New("viewer").Funcs(template.FuncMap{
	"distance": formatDistance,
}).ParseFS(viewerFS, "viewer.html"))

// DefaultKeepAlive is the interval between SSE comment pings.
const DefaultKeepAlive = 15 * time.Second

const defaultRunsLimit = 50

// ServerConfig configures a Server. Only Store is required.
type ServerConfig struct {
	Address string
	Store   *Store
	// DB enables the run history API and the database admin routes.
	DB      *db.DB
	Ranging ranging.Config
	// Plots is used for PNG export; nil renders with Ranging.
	Plots     *PlotWriter
	Clock     timeutil.Clock
	KeepAlive time.Duration
}

// Server is the viewer HTTP server.
type Server struct {
	cfg    ServerConfig
	mux    *http.ServeMux
	server *http.Server
}

// NewServer builds the routes for cfg.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("monitor: store is required")
	}
	if cfg.Ranging.ChannelSpacingHz <= 0 || cfg.Ranging.SpectrumPoints <= 0 {
		cfg.Ranging = ranging.DefaultConfig()
	}
	if cfg.Plots == nil {
		cfg.Plots = NewPlotWriter(nil, "", cfg.Ranging)
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}

	s := &Server{cfg: cfg, mux: http.NewServeMux()}
	if err := s.setupRoutes(); err != nil {
		return nil, err
	}
	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Mux exposes the route table so callers can attach further admin routes.
func (s *Server) Mux() *http.ServeMux { return s.mux }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start serves until ctx is cancelled, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("monitor: listening on http://%s", s.cfg.Address)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("monitor: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("monitor: shutdown error: %v", err)
		if err := s.server.Close(); err != nil {
			monitoring.Logf("monitor: force close error: %v", err)
		}
	}
	monitoring.Logf("monitor: stopped")
	return nil
}

func (s *Server) setupRoutes() error {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /pairs/{counter}", s.handlePair)
	s.mux.HandleFunc("GET /pairs/{counter}/charts", s.handlePairCharts)
	s.mux.HandleFunc("GET /pairs/{counter}/plot.png", s.handlePairPNG)
	s.mux.HandleFunc("GET /api/pairs", s.handlePairs)
	s.mux.HandleFunc("GET /api/pairs/{counter}", s.handlePairJSON)
	s.mux.HandleFunc("GET /events", s.handleEvents)
	s.mux.Handle("GET /metrics", monitoring.Handler())

	if s.cfg.DB == nil {
		return nil
	}
	s.mux.HandleFunc("GET /api/runs", s.handleRuns)
	s.mux.HandleFunc("GET /api/runs/{id}", s.handleRun)
	if err := s.cfg.DB.AttachAdminRoutes(s.mux); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}

func formatDistance(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'f', 3, 64)
}

// pageData feeds both viewer templates.
type pageData struct {
	Title       string
	Unit        string
	Counters    []uint32
	Selected    uint32
	HasSelected bool
	Prev, Next  uint32
	HasPrev     bool
	HasNext     bool

	Summaries []Summary
	Entry     *Entry
	Summary   Summary
}

func (s *Server) render(w http.ResponseWriter, name string, data pageData) {
	var buf bytes.Buffer
	if err := viewerTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
		return
	}
	httputil.WriteBody(w, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, "index", pageData{
		Title:     "CS ranging",
		Unit:      s.cfg.Store.Unit(),
		Counters:  s.cfg.Store.Counters(),
		Summaries: s.cfg.Store.Summaries(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Version,
		"git_sha": version.GitSHA,
		"pairs":   s.cfg.Store.Len(),
	})
}

// lookup resolves the {counter} path value, writing the error response when
// it fails.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*Entry, bool) {
	counter, err := httputil.PathUint32(r, "counter")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return nil, false
	}
	e, ok := s.cfg.Store.Get(counter)
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("no pair for procedure counter %d", counter))
		return nil, false
	}
	return e, true
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(w, r)
	if !ok {
		return
	}
	counters := s.cfg.Store.Counters()
	data := pageData{
		Title:       fmt.Sprintf("CS procedure %d", e.Counter),
		Unit:        s.cfg.Store.Unit(),
		Counters:    counters,
		Selected:    e.Counter,
		HasSelected: true,
		Entry:       e,
		Summary:     s.cfg.Store.summarize(e),
	}
	if i, found := slices.BinarySearch(counters, e.Counter); found {
		if i > 0 {
			data.Prev, data.HasPrev = counters[i-1], true
		}
		if i+1 < len(counters) {
			data.Next, data.HasNext = counters[i+1], true
		}
	}
	s.render(w, "pair", data)
}

func (s *Server) handlePairCharts(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := renderPairPage(&buf, e, s.cfg.Ranging); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render charts: %v", err))
		return
	}
	httputil.WriteBody(w, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) handlePairPNG(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := s.cfg.Plots.WritePNG(&buf, e); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=counter_%05d.png", e.Counter))
	httputil.WriteBody(w, "image/png", buf.Bytes())
}

func (s *Server) handlePairs(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.cfg.Store.Summaries())
}

func (s *Server) handlePairJSON(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, e)
}

// handleEvents streams a Summary per new pair as Server-Sent Events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id, c := s.cfg.Store.Subscribe()
	defer s.cfg.Store.Unsubscribe(id)

	ticker := s.cfg.Clock.NewTicker(s.cfg.KeepAlive)
	defer ticker.Stop()

	fmt.Fprint(w, ": ping\n\n")
	flusher.Flush()

	for {
		select {
		case sum, ok := <-c:
			if !ok {
				return
			}
			payload, err := json.Marshal(sum)
			if err != nil {
				monitoring.Logf("monitor: encode event: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C():
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.cfg.DB.Runs(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, runs)
}

// runDetail is the /api/runs/{id} response.
type runDetail struct {
	*db.Run
	Results   []db.RangingRow      `json:"results"`
	Unmatched []pipeline.Unmatched `json:"unmatched"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.BadRequest(w, "invalid run id")
		return
	}
	ctx := r.Context()
	run, err := s.cfg.DB.GetRun(ctx, runID)
	if errors.Is(err, db.ErrRunNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	results, err := s.cfg.DB.RangingResults(ctx, runID)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	unmatched, err := s.cfg.DB.Unmatched(ctx, runID)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	detail := runDetail{Run: run, Results: results, Unmatched: unmatched}
	httputil.WriteJSON(w, http.StatusOK, detail)
}
