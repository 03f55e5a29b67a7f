package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/juruen/inkcore/annotations"
	"github.com/juruen/inkcore/encoding/rm"
	"github.com/juruen/inkcore/engine"
	"github.com/juruen/inkcore/ink"
	"github.com/juruen/inkcore/log"
	"github.com/juruen/inkcore/perf"
	"github.com/juruen/inkcore/shell"
)

const requestTimeout = 30 * time.Second

type ApiServer struct {
	engine   *engine.Engine
	registry *prometheus.Registry
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewApiServer(e *engine.Engine) *ApiServer {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		perf.NewCollector("inkcore", e.Monitor()),
		collectors.NewGoCollector(),
	)
	return &ApiServer{engine: e, registry: registry}
}

func (s *ApiServer) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
}

func (s *ApiServer) writeSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SuccessResponse{Data: data})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ink.ErrInvalidStroke), errors.Is(err, ink.ErrDuplicateStroke):
		return http.StatusBadRequest
	case errors.Is(err, ink.ErrDisposed):
		return http.StatusServiceUnavailable
	case errors.Is(err, ink.ErrCancelled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, engine.ErrNoClassifier):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func strokesJSON(strokes []*ink.StrokeData) []shell.StrokeJSON {
	out := make([]shell.StrokeJSON, len(strokes))
	for i, st := range strokes {
		out[i] = shell.StrokeToJSON(st)
	}
	return out
}

// /api/strokes
//
//	GET            list strokes
//	POST           add a JSON array of strokes as one batch
//	DELETE ?id=<id> remove strokes
func (s *ApiServer) handleStrokes(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	switch r.Method {
	case http.MethodGet:
		s.writeSuccess(w, strokesJSON(s.engine.Strokes()))

	case http.MethodPost:
		var strokes []*ink.StrokeData
		if err := json.NewDecoder(r.Body).Decode(&strokes); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid strokes: %v", err))
			return
		}
		for _, st := range strokes {
			if st != nil && st.ID == uuid.Nil {
				st.ID = uuid.New()
			}
			if st != nil && st.CreatedAt.IsZero() {
				st.CreatedAt = time.Now()
			}
		}
		if err := s.engine.AddStrokes(ctx, strokes); err != nil {
			s.writeError(w, statusFor(err), err)
			return
		}
		s.writeSuccess(w, strokesJSON(strokes))

	case http.MethodDelete:
		ids := r.URL.Query()["id"]
		if len(ids) == 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("id parameter is required"))
			return
		}
		var deleted []string
		for _, raw := range ids {
			id, err := uuid.Parse(raw)
			if err != nil {
				s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid id %q: %v", raw, err))
				return
			}
			if err := s.engine.RemoveStrokeByID(ctx, id); err != nil {
				s.writeError(w, statusFor(err), fmt.Errorf("failed to delete stroke: %v", err))
				return
			}
			deleted = append(deleted, raw)
		}
		s.writeSuccess(w, map[string]interface{}{
			"message": "Strokes deleted",
			"deleted": deleted,
		})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// POST /api/clear
func (s *ApiServer) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := s.engine.Clear(ctx); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeSuccess(w, map[string]string{"message": "Strokes cleared"})
}

// GET /api/bounds
func (s *ApiServer) handleBounds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	b := s.engine.StrokesBounds()
	s.writeSuccess(w, map[string]interface{}{"bounds": b, "empty": b.IsEmpty()})
}

func floatParam(r *http.Request, name string, def float64) (float64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", name, err)
	}
	return f, nil
}

// GET /api/hittest?x=&y=&tolerance= or ?x=&y=&w=&h=
func (s *ApiServer) handleHitTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var vals [5]float64
	for i, name := range []string{"x", "y", "tolerance", "w", "h"} {
		def := 0.0
		if name == "tolerance" {
			def = 2
		}
		v, err := floatParam(r, name, def)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		vals[i] = v
	}

	query := r.URL.Query()
	if query.Get("x") == "" || query.Get("y") == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("x and y parameters are required"))
		return
	}

	var hits []*ink.StrokeData
	if query.Get("w") != "" || query.Get("h") != "" {
		hits = s.engine.HitTestRect(ink.Rect{X: vals[0], Y: vals[1], Width: vals[3], Height: vals[4]})
	} else {
		hits = s.engine.HitTest(ink.Point{X: vals[0], Y: vals[1]}, vals[2])
	}
	s.writeSuccess(w, strokesJSON(hits))
}

type recognizeRequest struct {
	IDs []string `json:"ids"`
}

// POST /api/recognize {"ids": [...]}, every stroke when ids is empty
func (s *ApiServer) handleRecognize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var req recognizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %v", err))
		return
	}

	strokes := s.engine.Strokes()
	if len(req.IDs) > 0 {
		strokes = strokes[:0:0]
		for _, raw := range req.IDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid id %q: %v", raw, err))
				return
			}
			st, ok := s.engine.Stroke(id)
			if !ok {
				s.writeError(w, http.StatusNotFound, fmt.Errorf("stroke %s not found", raw))
				return
			}
			strokes = append(strokes, st)
		}
	}

	res, err := s.engine.Recognize(ctx, strokes)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeSuccess(w, res)
}

// GET /api/render.png?incremental=<bool>&thumb=<N>
func (s *ApiServer) handleRender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	query := r.URL.Query()
	var err error
	if query.Get("incremental") == "true" {
		err = s.engine.RenderIncremental(ctx, nil, image.Rectangle{}, ink.EmptyRect)
	} else {
		err = s.engine.Render(ctx, nil, image.Rectangle{}, ink.EmptyRect)
	}
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	var buf bytes.Buffer
	if thumb := query.Get("thumb"); thumb != "" {
		n, perr := strconv.ParseUint(thumb, 10, 32)
		if perr != nil || n == 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid thumb %q", thumb))
			return
		}
		err = png.Encode(&buf, s.engine.Thumbnail(uint(n), uint(n)))
	} else {
		err = png.Encode(&buf, s.engine.Snapshot())
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to encode PNG: %v", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Write(buf.Bytes())
}

// GET /api/export.pdf
func (s *ApiServer) handleExportPdf(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	width, _ := s.engine.Size()
	g := annotations.CreatePdfGenerator(annotations.PdfGeneratorOptions{
		AllPages:       true,
		AddPageNumbers: r.URL.Query().Get("pageNumbers") == "true",
		SurfaceWidth:   float64(width),
	})

	var buf bytes.Buffer
	if err := g.Generate(&buf, [][]*ink.StrokeData{s.engine.Strokes()}); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to export: %v", err))
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="strokes.pdf"`)
	w.Write(buf.Bytes())
}

// /api/page.rm
//
//	GET   download the strokes as a v5 page
//	POST  multipart "file" upload, adds its strokes; clear=true replaces
func (s *ApiServer) handlePage(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := rm.FromStrokes(s.engine.Strokes()).MarshalBinary()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", `attachment; filename="page.rm"`)
		w.Write(data)

	case http.MethodPost:
		if err := r.ParseMultipartForm(32 << 20); err != nil { // 32 MB max
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("failed to parse multipart form: %v", err))
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("file is required: %v", err))
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		var page rm.Rm
		if err := page.UnmarshalBinary(data); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		if r.FormValue("clear") == "true" {
			if err := s.engine.Clear(ctx); err != nil {
				s.writeError(w, statusFor(err), err)
				return
			}
		}
		strokes := rm.ToStrokes(&page)
		if err := s.engine.AddStrokes(ctx, strokes); err != nil {
			s.writeError(w, statusFor(err), err)
			return
		}
		s.writeSuccess(w, map[string]interface{}{"message": "Page imported", "strokes": len(strokes)})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type settingsRequest struct {
	Recognition *bool `json:"recognition"`
	Width       int   `json:"width"`
	Height      int   `json:"height"`
}

// POST /api/settings {"recognition": bool, "width": N, "height": N}
func (s *ApiServer) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %v", err))
		return
	}
	if req.Recognition != nil {
		s.engine.SetRecognitionEnabled(*req.Recognition)
	}
	if req.Width != 0 || req.Height != 0 {
		if err := s.engine.Resize(req.Width, req.Height); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	width, height := s.engine.Size()
	s.writeSuccess(w, map[string]interface{}{
		"recognition": s.engine.RecognitionEnabled(),
		"width":       width,
		"height":      height,
	})
}

// GET /api/stats
func (s *ApiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rc := s.engine.RenderCacheStats()
	s.writeSuccess(w, map[string]interface{}{
		"operations":       s.engine.Monitor().Snapshot(),
		"strokes":          s.engine.Count(),
		"recognitionCache": s.engine.RecognitionCacheLen(),
		"renderCache": map[string]int{
			"brushes":  rc.Brushes.Len,
			"pens":     rc.Pens.Len,
			"geometry": rc.Geometry.Len,
		},
	})
}

func (s *ApiServer) Handler() http.Handler {
	mux := chi.NewRouter()

	mux.HandleFunc("/api/strokes", s.handleStrokes)
	mux.HandleFunc("/api/clear", s.handleClear)
	mux.HandleFunc("/api/bounds", s.handleBounds)
	mux.HandleFunc("/api/hittest", s.handleHitTest)
	mux.HandleFunc("/api/recognize", s.handleRecognize)
	mux.HandleFunc("/api/render.png", s.handleRender)
	mux.HandleFunc("/api/export.pdf", s.handleExportPdf)
	mux.HandleFunc("/api/page.rm", s.handlePage)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `
<!DOCTYPE html>
<html>
<head>
	<title>inkcore REST API</title>
</head>
<body>
	<h1>inkcore REST API</h1>
	<h2>Endpoints:</h2>
	<ul>
		<li>GET /api/strokes - List strokes</li>
		<li>POST /api/strokes - Add strokes</li>
		<li>DELETE /api/strokes?id= - Remove strokes</li>
		<li>POST /api/clear - Remove every stroke</li>
		<li>GET /api/bounds - Union bounds</li>
		<li>GET /api/hittest - Strokes under a point or rectangle</li>
		<li>POST /api/recognize - Classify strokes</li>
		<li>GET /api/render.png - Render to PNG</li>
		<li>GET /api/export.pdf - Export to PDF</li>
		<li>GET|POST /api/page.rm - Download or import a .rm page</li>
		<li>POST /api/settings - Toggle recognition, resize</li>
		<li>GET /api/stats - Timings and cache sizes</li>
		<li>GET /metrics - Prometheus metrics</li>
	</ul>
</body>
</html>
		`)
	})
	return mux
}

// runServerMode serves until ctx is cancelled.
func runServerMode(ctx context.Context, addr string, e *engine.Engine) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewApiServer(e).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info.Printf("Starting HTTP server on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
