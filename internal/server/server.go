// Package server publishes layers over HTTP as GeoJSON, SVG maps and
// spatial-weights summaries.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geolab/internal/classify"
	"github.com/sells-group/geolab/internal/layer"
	"github.com/sells-group/geolab/internal/plot"
	"github.com/sells-group/geolab/internal/store"
	"github.com/sells-group/geolab/internal/vector"
	"github.com/sells-group/geolab/internal/weights"
)

// DefaultPermutations is the Moran permutation count when none is given.
const DefaultPermutations = 99

// PlotDefaults size and colour maps rendered without explicit parameters.
type PlotDefaults struct {
	Width   int    `yaml:"width" mapstructure:"width"`
	Height  int    `yaml:"height" mapstructure:"height"`
	Margin  int    `yaml:"margin" mapstructure:"margin"`
	Palette string `yaml:"palette" mapstructure:"palette"`
}

// Options configure the HTTP server.
type Options struct {
	CORSOrigins []string
	Plot        PlotDefaults
}

// Server serves the layers of a Source.
type Server struct {
	src     Source
	opts    Options
	metrics *metrics
}

// New returns a server over src.
func New(src Source, opts Options) *Server {
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	return &Server{src: src, opts: opts, metrics: newMetrics()}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(s.metrics.middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.handler())
	r.Get("/layers", s.listLayers)
	r.Route("/layers/{name}", func(r chi.Router) {
		r.Get("/", s.getLayer)
		r.Get("/map.svg", s.getMap)
		r.Get("/weights", s.getWeights)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("starting server", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func (s *Server) listLayers(w http.ResponseWriter, r *http.Request) {
	infos, err := s.src.ListLayers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if infos == nil {
		infos = []store.LayerInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) load(w http.ResponseWriter, r *http.Request) (*layer.Layer, bool) {
	name := chi.URLParam(r, "name")
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		writeError(w, r, badRequest("invalid layer name %q", name))
		return nil, false
	}
	l, err := s.src.LoadLayer(r.Context(), name)
	s.metrics.layerLoaded(err)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return l, true
}

func (s *Server) getLayer(w http.ResponseWriter, r *http.Request) {
	l, ok := s.load(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	if err := vector.EncodeGeoJSON(w, l); err != nil {
		zap.L().Error("server: encode geojson", zap.String("layer", l.Name), zap.Error(err))
	}
}

// getMap renders the layer as SVG. Query parameters: column (classify by),
// method, k, bins (comma separated), palette, label, title.
func (s *Server) getMap(w http.ResponseWriter, r *http.Request) {
	l, ok := s.load(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	ml := plot.Layer{Data: l, Label: q.Get("label")}
	if col := q.Get("column"); col != "" {
		opts, err := classifyOptions(q.Get("method"), q.Get("k"), q.Get("bins"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		c, err := classify.Column(l, col, "", opts)
		if err != nil {
			writeError(w, r, asBadRequest(err))
			return
		}
		palette := q.Get("palette")
		if palette == "" {
			palette = s.opts.Plot.Palette
		}
		ml.Column = col
		ml.Classification = c
		ml.Palette = plot.Palette(palette, c.K())
	}
	if ml.Label != "" && !l.HasColumn(ml.Label) {
		writeError(w, r, badRequest("no column %q", ml.Label))
		return
	}

	title := q.Get("title")
	if title == "" {
		title = l.Name
	}
	m := &plot.Map{
		Title:  title,
		Width:  s.opts.Plot.Width,
		Height: s.opts.Plot.Height,
		Margin: s.opts.Plot.Margin,
		Layers: []plot.Layer{ml},
	}
	var buf bytes.Buffer
	if err := m.Render(&buf); err != nil {
		writeError(w, r, asBadRequest(err))
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	_, _ = w.Write(buf.Bytes())
}

func classifyOptions(method, k, bins string) (classify.Options, error) {
	var opts classify.Options
	if method != "" {
		m, err := classify.ParseMethod(method)
		if err != nil {
			return opts, asBadRequest(err)
		}
		opts.Method = m
	}
	if k != "" {
		n, err := strconv.Atoi(k)
		if err != nil || n < 1 {
			return opts, badRequest("invalid k %q", k)
		}
		opts.K = n
	}
	if bins != "" {
		for _, b := range strings.Split(bins, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(b), 64)
			if err != nil {
				return opts, badRequest("invalid bin %q", b)
			}
			opts.Bins = append(opts.Bins, v)
		}
		if method == "" {
			opts.Method = classify.UserDefinedMethod
		}
	}
	return opts, nil
}

type weightsResponse struct {
	Layer   string               `json:"layer"`
	Kind    string               `json:"kind"`
	Spec    weights.Spec         `json:"spec"`
	Summary weights.Summary      `json:"summary"`
	Column  string               `json:"column,omitempty"`
	Moran   *weights.MoranResult `json:"moran,omitempty"`
	Lag     map[string][]float64 `json:"lag,omitempty"`
}

// getWeights builds a weights matrix and summarises it. Query parameters:
// kind, k, threshold, function, bandwidth, adaptive, transform; column adds
// Moran's I of that column with permutations (default 99) and seed.
func (s *Server) getWeights(w http.ResponseWriter, r *http.Request) {
	l, ok := s.load(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	spec, err := weightsSpec(q.Get)
	if err != nil {
		writeError(w, r, err)
		return
	}
	wm, err := weights.Build(l, spec)
	if err != nil {
		writeError(w, r, asBadRequest(err))
		return
	}
	resp := weightsResponse{Layer: l.Name, Kind: spec.Kind, Spec: spec, Summary: weights.Summarize(wm)}
	if resp.Kind == "" {
		resp.Kind = weights.KindQueen
	}

	if col := q.Get("column"); col != "" {
		y, err := l.Floats(col)
		if err != nil {
			writeError(w, r, asBadRequest(err))
			return
		}
		perms, err := intParam(q.Get("permutations"), DefaultPermutations)
		if err != nil {
			writeError(w, r, err)
			return
		}
		seed, err := intParam(q.Get("seed"), 1)
		if err != nil {
			writeError(w, r, err)
			return
		}
		mr, err := weights.Moran(wm, y, perms, uint64(seed))
		if err != nil {
			writeError(w, r, asBadRequest(err))
			return
		}
		lag, err := weights.Lag(wm, y)
		if err != nil {
			writeError(w, r, asBadRequest(err))
			return
		}
		resp.Column = col
		resp.Moran = mr
		resp.Lag = map[string][]float64{col: lag}
	}
	writeJSON(w, http.StatusOK, resp)
}

func weightsSpec(get func(string) string) (weights.Spec, error) {
	spec := weights.Spec{
		Kind:      get("kind"),
		Function:  get("function"),
		Transform: get("transform"),
	}
	var err error
	if spec.K, err = intParam(get("k"), 0); err != nil {
		return spec, err
	}
	if spec.Threshold, err = floatParam(get("threshold")); err != nil {
		return spec, err
	}
	if spec.Bandwidth, err = floatParam(get("bandwidth")); err != nil {
		return spec, err
	}
	if spec.Alpha, err = floatParam(get("alpha")); err != nil {
		return spec, err
	}
	spec.Binary = get("binary") == "true"
	spec.Adaptive = get("adaptive") == "true"
	spec.Diagonal = get("diagonal") == "true"
	return spec, nil
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, badRequest("invalid integer %q", s)
	}
	return n, nil
}

func floatParam(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, badRequest("invalid number %q", s)
	}
	return v, nil
}

// requestError carries an HTTP status.
type requestError struct {
	status int
	err    error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, err: fmt.Errorf(format, args...)}
}

func asBadRequest(err error) error {
	return &requestError{status: http.StatusBadRequest, err: err}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var re *requestError
	switch {
	case eris.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &re):
		status = re.status
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("server: request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: write response", zap.Error(err))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
