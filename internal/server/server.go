// Package server exposes path resolution over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/manydesigns/portofino/internal/dispatcher"
	"github.com/manydesigns/portofino/internal/pages"
	"github.com/manydesigns/portofino/internal/store"
)

// Server answers dispatch queries and home redirects.
type Server struct {
	dispatcher *dispatcher.Dispatcher
	gatherer   prometheus.Gatherer
	log        *zap.Logger
	requests   *prometheus.CounterVec
}

// New builds a Server. Metrics are registered on reg and served from
// gatherer; either may be nil.
func New(d *dispatcher.Dispatcher, reg prometheus.Registerer, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		dispatcher: d,
		gatherer:   gatherer,
		log:        log.Named("server"),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portofino_dispatch_requests_total",
			Help: "Dispatch requests by outcome.",
		}, []string{"code"}),
	}
	if reg != nil {
		reg.MustRegister(s.requests)
	}
	return s
}

// Handler routes /dispatch, /metrics, /healthz and the application home.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/dispatch", s.handleDispatch)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/", s.handleHome)
	return mux
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.fail(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/"
	}
	d, err := s.dispatcher.Resolve(r.Context(), path)
	if err != nil {
		s.log.Debug("dispatch failed", zap.String("path", path), zap.Error(err))
		s.fail(w, statusOf(err), err)
		return
	}
	view := NewDispatchView(d)
	if expr := r.URL.Query().Get("select"); expr != "" {
		res, err := Select(view, expr)
		if err != nil {
			s.fail(w, http.StatusBadRequest, err)
			return
		}
		s.write(w, http.StatusOK, res)
		return
	}
	s.write(w, http.StatusOK, view)
}

// handleHome redirects the application home to the location the root
// configures for the requested format.
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.fail(w, http.StatusNotFound, errors.New("not found"))
		return
	}
	root, err := dispatcher.ResolveRoot(r.Context(), s.dispatcher.Env(), s.dispatcher.Root())
	if err != nil {
		s.fail(w, statusOf(err), err)
		return
	}
	app, ok := root.(*dispatcher.ApplicationRoot)
	if !ok {
		s.fail(w, http.StatusNotFound, errors.New("no application home"))
		return
	}
	home, ok := app.Home(requestFormat(r))
	if !ok {
		s.fail(w, http.StatusNotFound, errors.New("no home for format"))
		return
	}
	s.requests.WithLabelValues(strconv.Itoa(http.StatusFound)).Inc()
	http.Redirect(w, r, home, http.StatusFound)
}

func requestFormat(r *http.Request) string {
	if f := r.URL.Query().Get("format"); f != "" {
		return f
	}
	accept := r.Header.Get("Accept")
	switch {
	case strings.Contains(accept, "application/json"):
		return dispatcher.FormatJSON
	case strings.Contains(accept, "yaml"):
		return dispatcher.FormatYAML
	default:
		return dispatcher.FormatHTML
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, pages.ErrPageNotActive), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) fail(w http.ResponseWriter, code int, err error) {
	s.write(w, code, errorBody{Error: err.Error()})
}

func (s *Server) write(w http.ResponseWriter, code int, v any) {
	b, err := marshalJSON(v)
	if err != nil {
		s.log.Error("encode response", zap.Error(err))
		code = http.StatusInternalServerError
		b = []byte(`{"error":"encode response"}` + "\n")
	}
	s.requests.WithLabelValues(strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}

func marshalJSON(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
