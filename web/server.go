// Package web serves a browser front end for a running simulation: a REST
// API for state, scenes, entities and rendered frames, and a WebSocket that
// streams status updates and accepts run control commands.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"wavefront/dsp"
	"wavefront/internal/engine"
	"wavefront/internal/export"
	"wavefront/render"
	"wavefront/sim"
)

const (
	broadcastInterval = 50 * time.Millisecond
	maxBodySize       = 1 << 20
	maxStepCount      = 10000
	maxSpectrumSize   = 1 << 16
)

var (
	// ErrUnsupportedPlatform is returned when browser opening is not supported.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrBadRequest          = errors.New("web: bad request")
)

//go:embed static/*
var staticFiles embed.FS

// Controller is the running simulation as seen by the server.
type Controller interface {
	Sim() *sim.Simulation
	Running() bool
	SetRunning(on bool)
	Levels() []engine.Level
	Spectrum(id sim.ID, size int) ([]dsp.Bin, error)
}

// Message represents a WebSocket message.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type command struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StatePayload is the periodic status update.
type StatePayload struct {
	Status  sim.Status     `json:"status"`
	Running bool           `json:"running"`
	Energy  float64        `json:"energy"`
	Levels  []engine.Level `json:"levels"`
}

// Server is the web server for the simulation UI.
type Server struct {
	ctrl       Controller
	port       int
	render     render.Options
	log        *slog.Logger
	hub        *Hub
	httpServer *http.Server

	mu        sync.Mutex
	renderers map[render.Options]*render.Renderer
}

// NewServer creates a new web server. opts are the defaults for frame
// rendering; requests may override them.
func NewServer(ctrl Controller, port int, opts render.Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		ctrl:      ctrl,
		port:      port,
		render:    opts,
		log:       logger,
		hub:       NewHub(),
		renderers: make(map[render.Options]*render.Renderer),
	}
}

// URL is the address the server listens on.
func (s *Server) URL() string {
	return fmt.Sprintf("http://localhost:%d", s.port)
}

// Start listens on the configured port and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return err
	}

	return s.Serve(ctx, ln)
}

// Serve runs the hub and the broadcast loop and serves HTTP on ln until ctx
// is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	handler, err := s.Handler(ctx)
	if err != nil {
		return err
	}

	go s.hub.Run(ctx)
	go s.broadcastLoop(ctx)

	s.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info("Web server starting", "addr", ln.Addr().String(), "url", s.URL())

	if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Handler builds the request router. ctx bounds WebSocket registration.
func (s *Server) Handler(ctx context.Context) (http.Handler, error) {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("failed to create static file system: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) { s.handleWebSocket(ctx, w, r) })

	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/control", s.handleControl)
	mux.HandleFunc("GET /api/scene", s.handleGetScene)
	mux.HandleFunc("PUT /api/scene", s.handlePutScene)
	mux.HandleFunc("GET /api/frame.png", s.handleFrame)

	mux.HandleFunc("GET /api/sources", s.handleListSources)
	mux.HandleFunc("POST /api/sources", s.handleAddSource)
	mux.HandleFunc("PUT /api/sources/{id}", s.handleUpdateSource)

	mux.HandleFunc("GET /api/microphones", s.handleListMicrophones)
	mux.HandleFunc("POST /api/microphones", s.handleAddMicrophone)
	mux.HandleFunc("PUT /api/microphones/{id}", s.handleMoveMicrophone)
	mux.HandleFunc("GET /api/microphones/{id}/record", s.handleRecord)
	mux.HandleFunc("GET /api/microphones/{id}/spectrum", s.handleSpectrum)

	mux.HandleFunc("GET /api/walls", s.handleListWalls)
	mux.HandleFunc("POST /api/walls/rect", s.handleAddRect)
	mux.HandleFunc("POST /api/walls/circ", s.handleAddCirc)
	mux.HandleFunc("PUT /api/walls/rect/{id}", s.handleUpdateRect)
	mux.HandleFunc("PUT /api/walls/circ/{id}", s.handleUpdateCirc)

	mux.HandleFunc("DELETE /api/entities/{id}", s.handleDelete)

	return mux, nil
}

// handleIndex serves the main HTML page.
func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	data, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(data)
}

//nolint:gochecknoglobals // WebSocket upgrader configuration
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// handleWebSocket handles WebSocket connections.
func (s *Server) handleWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// The initial state is written before the pumps start so that the
	// connection has a single writer at all times.
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(Message{Type: "state", Payload: s.state()}); err != nil {
		conn.Close()
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	select {
	case s.hub.register <- client:
	case <-ctx.Done():
		conn.Close()
		return
	}

	go client.writePump()
	client.readPump(ctx, s.handleClientMessage)
}

// handleClientMessage handles incoming WebSocket messages.
func (s *Server) handleClientMessage(data []byte) {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.log.Error("Failed to parse WebSocket message", "error", err)
		return
	}

	if err := s.apply(cmd); err != nil {
		s.log.Warn("Rejected client command", "type", cmd.Type, "error", err)
		return
	}

	s.broadcastState()
}

// apply executes a run control command.
func (s *Server) apply(cmd command) error {
	sm := s.ctrl.Sim()

	switch cmd.Type {
	case "set_running", "set_plotting":
		var p struct {
			Value *bool `json:"value"`
		}

		if err := json.Unmarshal(cmd.Payload, &p); err != nil || p.Value == nil {
			return fmt.Errorf("%w: %s needs a boolean value", ErrBadRequest, cmd.Type)
		}

		if cmd.Type == "set_running" {
			s.ctrl.SetRunning(*p.Value)
		} else {
			sm.SetPlotting(*p.Value)
		}

	case "step":
		p := struct {
			Count int `json:"count"`
		}{Count: 1}

		if len(cmd.Payload) > 0 {
			if err := json.Unmarshal(cmd.Payload, &p); err != nil {
				return fmt.Errorf("%w: %w", ErrBadRequest, err)
			}
		}

		if p.Count < 1 || p.Count > maxStepCount {
			return fmt.Errorf("%w: step count %d", ErrBadRequest, p.Count)
		}

		if s.ctrl.Running() {
			return fmt.Errorf("%w: step while running", ErrBadRequest)
		}

		sm.StepN(p.Count)

	case "reset":
		sm.Reset()

	case "clear_records":
		sm.ClearMicrophoneRecords()

	default:
		return fmt.Errorf("%w: unknown command %q", ErrBadRequest, cmd.Type)
	}

	return nil
}

func (s *Server) state() StatePayload {
	sm := s.ctrl.Sim()

	return StatePayload{
		Status:  sm.Status(),
		Running: s.ctrl.Running(),
		Energy:  sm.Energy(),
		Levels:  s.ctrl.Levels(),
	}
}

func (s *Server) broadcastState() {
	data, err := json.Marshal(Message{Type: "state", Payload: s.state()})
	if err != nil {
		s.log.Error("Failed to marshal state", "error", err)
		return
	}

	s.hub.Broadcast(data)
}

// broadcastLoop broadcasts the state at 50ms intervals.
func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if s.hub.ClientCount() == 0 {
			continue // No clients, skip
		}

		s.broadcastState()
	}
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state())
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var cmd command
	if !s.decode(w, r, &cmd) {
		return
	}

	if err := s.apply(cmd); err != nil {
		s.fail(w, err)
		return
	}

	s.broadcastState()
	writeJSON(w, http.StatusOK, s.state())
}

func (s *Server) handleGetScene(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := sim.WriteScene(w, s.ctrl.Sim().Scene()); err != nil {
		s.log.Error("Failed to write scene", "error", err)
	}
}

func (s *Server) handlePutScene(w http.ResponseWriter, r *http.Request) {
	sc, err := sim.ReadScene(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		if !errors.Is(err, sim.ErrUnsupportedScene) {
			err = fmt.Errorf("%w: %w", ErrBadRequest, err)
		}

		s.fail(w, err)

		return
	}

	if err := s.ctrl.Sim().LoadScene(sc); err != nil {
		s.fail(w, err)
		return
	}

	s.log.Info("Scene loaded over HTTP", "sources", len(sc.Sources), "microphones", len(sc.Microphones))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	opts, err := s.frameOptions(r)
	if err != nil {
		s.fail(w, err)
		return
	}

	rd, err := s.renderer(opts)
	if err != nil {
		s.fail(w, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}

	var f sim.Frame
	s.ctrl.Sim().Frame(&f)

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")

	if err := rd.WritePNG(w, &f); err != nil {
		s.log.Warn("Failed to write frame", "error", err)
	}
}

func (s *Server) frameOptions(r *http.Request) (render.Options, error) {
	opts := s.render
	q := r.URL.Query()

	if v := q.Get("gradient"); v != "" {
		g, err := render.ParseGradient(v)
		if err != nil {
			return opts, fmt.Errorf("%w: %w", ErrBadRequest, err)
		}

		opts.Gradient = g
	}

	if v := q.Get("boundary"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("%w: boundary %q", ErrBadRequest, v)
		}

		opts.Boundary = b
	}

	if v := q.Get("scale"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("%w: scale %q", ErrBadRequest, v)
		}

		opts.Scale = n
	}

	if v := q.Get("range"); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return opts, fmt.Errorf("%w: range %q", ErrBadRequest, v)
		}

		opts.Range = float32(f)
	}

	return opts, nil
}

// renderer returns a cached renderer for opts.
func (s *Server) renderer(opts render.Options) (*render.Renderer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rd, ok := s.renderers[opts]; ok {
		return rd, nil
	}

	rd, err := render.New(opts)
	if err != nil {
		return nil, err
	}

	s.renderers[opts] = rd

	return rd, nil
}

func (s *Server) handleListSources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Sim().Sources())
}

func (s *Server) handleAddSource(w http.ResponseWriter, r *http.Request) {
	var src sim.Source
	if !s.decode(w, r, &src) {
		return
	}

	id, err := s.ctrl.Sim().AddSource(src)
	s.created(w, id, err)
}

func (s *Server) handleUpdateSource(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var src sim.Source
	if !s.decode(w, r, &src) {
		return
	}

	src.ID = id

	if err := s.ctrl.Sim().UpdateSource(src); err != nil {
		s.fail(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (s *Server) handleListMicrophones(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Sim().Microphones())
}

func (s *Server) handleAddMicrophone(w http.ResponseWriter, r *http.Request) {
	var p position
	if !s.decode(w, r, &p) {
		return
	}

	id, err := s.ctrl.Sim().AddMicrophone(p.X, p.Y)
	s.created(w, id, err)
}

func (s *Server) handleMoveMicrophone(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var p position
	if !s.decode(w, r, &p) {
		return
	}

	if err := s.ctrl.Sim().MoveMicrophone(id, p.X, p.Y); err != nil {
		s.fail(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleRecord serves a microphone record as JSON or, with format=csv, as
// CSV. last=N limits it to the newest N samples.
func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var (
		rec   []sim.Sample
		found bool
	)

	if v := r.URL.Query().Get("last"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.fail(w, fmt.Errorf("%w: last %q", ErrBadRequest, v))
			return
		}

		rec, found = s.ctrl.Sim().MicrophoneLast(id, n)
	} else {
		rec, found = s.ctrl.Sim().MicrophoneRecord(id)
	}

	if !found {
		s.fail(w, fmt.Errorf("%w: microphone %d", sim.ErrNotFound, id))
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.CSVName(id)))

		if err := export.WriteCSV(w, rec); err != nil {
			s.log.Warn("Failed to write record", "mic", id, "error", err)
		}

		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSpectrum(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	size := dsp.DefaultSpectrumSize

	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n > maxSpectrumSize {
			s.fail(w, fmt.Errorf("%w: size %q", ErrBadRequest, v))
			return
		}

		size = n
	}

	bins, err := s.ctrl.Spectrum(id, size)
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, bins)
}

type wallList struct {
	Rects   []sim.RectWall `json:"rects"`
	Circles []sim.CircWall `json:"circles"`
}

func (s *Server) handleListWalls(w http.ResponseWriter, _ *http.Request) {
	rects, circs := s.ctrl.Sim().Walls()
	writeJSON(w, http.StatusOK, wallList{Rects: rects, Circles: circs})
}

func (s *Server) handleAddRect(w http.ResponseWriter, r *http.Request) {
	var wall sim.RectWall
	if !s.decode(w, r, &wall) {
		return
	}

	id, err := s.ctrl.Sim().AddRectWall(wall)
	s.created(w, id, err)
}

func (s *Server) handleAddCirc(w http.ResponseWriter, r *http.Request) {
	var wall sim.CircWall
	if !s.decode(w, r, &wall) {
		return
	}

	id, err := s.ctrl.Sim().AddCircWall(wall)
	s.created(w, id, err)
}

func (s *Server) handleUpdateRect(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var wall sim.RectWall
	if !s.decode(w, r, &wall) {
		return
	}

	wall.ID = id
	removed, err := s.ctrl.Sim().UpdateRectWall(wall)
	s.updated(w, removed, err)
}

func (s *Server) handleUpdateCirc(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var wall sim.CircWall
	if !s.decode(w, r, &wall) {
		return
	}

	wall.ID = id
	removed, err := s.ctrl.Sim().UpdateCircWall(wall)
	s.updated(w, removed, err)
}

// handleDelete removes the source, microphone or wall with the given id.
// Ids are unique across entity kinds.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	sm := s.ctrl.Sim()
	if !sm.RemoveSource(id) && !sm.RemoveMicrophone(id) && !sm.RemoveWall(id) {
		s.fail(w, fmt.Errorf("%w: entity %d", sim.ErrNotFound, id))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) created(w http.ResponseWriter, id sim.ID, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]sim.ID{"id": id})
}

func (s *Server) updated(w http.ResponseWriter, removed bool, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (sim.ID, bool) {
	v := r.PathValue("id")

	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		s.fail(w, fmt.Errorf("%w: id %q", ErrBadRequest, v))
		return 0, false
	}

	return sim.ID(id), true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		s.fail(w, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return false
	}

	return true
}

// fail maps err to a status code and writes it as a JSON error body.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusUnprocessableEntity

	switch {
	case errors.Is(err, sim.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrBadRequest), errors.Is(err, dsp.ErrInvalidSize):
		status = http.StatusBadRequest
	}

	s.log.Debug("Request failed", "status", status, "error", err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errchkjson // payloads are plain structs
	_ = json.NewEncoder(w).Encode(v)
}

// OpenBrowser opens the default browser to the specified URL.
func OpenBrowser(url string) error {
	ctx := context.Background()
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux":
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "cmd", "/c", "start", url)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedPlatform, runtime.GOOS)
	}

	return cmd.Start()
}
