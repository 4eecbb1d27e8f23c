package web

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"image/png"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"wavefront/dsp"
	"wavefront/internal/engine"
	"wavefront/render"
	"wavefront/sim"
)

func newTestServer(t *testing.T) (*Server, *engine.Runner) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	p := sim.DefaultParams()
	p.Width, p.Height, p.Boundary.Width = 32, 24, 6

	s, err := sim.New(p, logger)
	if err != nil {
		t.Fatalf("sim.New: %v", err)
	}

	r, err := engine.New(s, engine.Config{TPS: 0, Steps: 1, Paused: true}, logger)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	return NewServer(r, 0, render.DefaultOptions(), logger), r
}

func startHTTP(t *testing.T, srv *Server) *httptest.Server {
	t.Helper()

	h, err := srv.Handler(t.Context())
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	return ts
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}

	t.Cleanup(func() { res.Body.Close() })

	return res
}

func decodeBody[T any](t *testing.T, res *http.Response) T {
	t.Helper()

	var v T
	if err := json.NewDecoder(res.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}

	return v
}

func TestIndexAndStatic(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	ts := startHTTP(t, srv)

	res := do(t, http.MethodGet, ts.URL+"/", "")
	if res.StatusCode != http.StatusOK || !strings.HasPrefix(res.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("index: %d %s", res.StatusCode, res.Header.Get("Content-Type"))
	}

	if res := do(t, http.MethodGet, ts.URL+"/static/app.js", ""); res.StatusCode != http.StatusOK {
		t.Errorf("app.js: got %d", res.StatusCode)
	}

	if res := do(t, http.MethodGet, ts.URL+"/nope", ""); res.StatusCode != http.StatusNotFound {
		t.Errorf("unknown path: got %d", res.StatusCode)
	}
}

func TestEntityLifecycle(t *testing.T) {
	t.Parallel()

	srv, r := newTestServer(t)
	ts := startHTTP(t, srv)

	res := do(t, http.MethodPost, ts.URL+"/api/sources", `{"x":4,"y":5,"wave":"sine","frequency":2000,"amplitude":1}`)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add source: got %d", res.StatusCode)
	}

	src := decodeBody[map[string]sim.ID](t, res)["id"]

	res = do(t, http.MethodPost, ts.URL+"/api/microphones", `{"x":10,"y":5}`)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add microphone: got %d", res.StatusCode)
	}

	mic := decodeBody[map[string]sim.ID](t, res)["id"]

	res = do(t, http.MethodPost, ts.URL+"/api/walls/rect", `{"min":{"x":20,"y":2},"max":{"x":25,"y":20},"reflection":1}`)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add rect: got %d", res.StatusCode)
	}

	wall := decodeBody[map[string]sim.ID](t, res)["id"]

	if src == mic || mic == wall || src == wall {
		t.Fatalf("ids not unique: %d %d %d", src, mic, wall)
	}

	st := r.Sim().Status()
	if st.Sources != 1 || st.Microphones != 1 || st.Walls != 1 {
		t.Fatalf("status: got %+v", st)
	}

	if res := do(t, http.MethodPut, ts.URL+"/api/microphones/"+itoa(mic), `{"x":12,"y":6}`); res.StatusCode != http.StatusNoContent {
		t.Errorf("move microphone: got %d", res.StatusCode)
	}

	if mics := r.Sim().Microphones(); mics[0].X != 12 || mics[0].Y != 6 {
		t.Errorf("microphone not moved: %+v", mics[0])
	}

	for _, id := range []sim.ID{src, mic, wall} {
		if res := do(t, http.MethodDelete, ts.URL+"/api/entities/"+itoa(id), ""); res.StatusCode != http.StatusNoContent {
			t.Errorf("delete %d: got %d", id, res.StatusCode)
		}
	}

	if res := do(t, http.MethodDelete, ts.URL+"/api/entities/"+itoa(src), ""); res.StatusCode != http.StatusNotFound {
		t.Errorf("second delete: got %d, want 404", res.StatusCode)
	}
}

func TestBadRequests(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	ts := startHTTP(t, srv)

	tests := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodPost, "/api/sources", `{"x":`, http.StatusBadRequest},
		{http.MethodPost, "/api/sources", `{"x":1,"y":1,"colour":3}`, http.StatusBadRequest},
		{http.MethodPost, "/api/microphones", `{"x":500,"y":1}`, http.StatusUnprocessableEntity},
		{http.MethodDelete, "/api/entities/abc", "", http.StatusBadRequest},
		{http.MethodGet, "/api/microphones/99/record", "", http.StatusNotFound},
		{http.MethodGet, "/api/frame.png?scale=0", "", http.StatusBadRequest},
		{http.MethodGet, "/api/frame.png?gradient=rainbow", "", http.StatusBadRequest},
		{http.MethodPost, "/api/control", `{"type":"explode"}`, http.StatusBadRequest},
		{http.MethodPost, "/api/control", `{"type":"set_running"}`, http.StatusBadRequest},
		{http.MethodPut, "/api/scene", `{"version":7}`, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		res := do(t, tt.method, ts.URL+tt.path, tt.body)
		if res.StatusCode != tt.want {
			t.Errorf("%s %s: got %d, want %d", tt.method, tt.path, res.StatusCode, tt.want)
		}
	}
}

func TestControlAndRecords(t *testing.T) {
	t.Parallel()

	srv, r := newTestServer(t)
	ts := startHTTP(t, srv)
	s := r.Sim()

	if _, err := s.AddSource(sim.NewSource(8, 12)); err != nil {
		t.Fatalf("AddSource: %v", err)
	}

	mic, err := s.AddMicrophone(12, 12)
	if err != nil {
		t.Fatalf("AddMicrophone: %v", err)
	}

	res := do(t, http.MethodPost, ts.URL+"/api/control", `{"type":"step","payload":{"count":64}}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("step: got %d", res.StatusCode)
	}

	state := decodeBody[StatePayload](t, res)
	if state.Status.Tick != 64 || state.Running {
		t.Errorf("state after step: %+v", state)
	}

	if len(state.Levels) != 1 || state.Levels[0].ID != mic {
		t.Errorf("levels: %+v", state.Levels)
	}

	res = do(t, http.MethodGet, ts.URL+"/api/microphones/"+itoa(mic)+"/record?last=10", "")
	if got := decodeBody[[]sim.Sample](t, res); len(got) != 10 {
		t.Errorf("last 10: got %d samples", len(got))
	}

	res = do(t, http.MethodGet, ts.URL+"/api/microphones/"+itoa(mic)+"/record?format=csv", "")
	rows, err := csv.NewReader(res.Body).ReadAll()
	if err != nil || len(rows) != 65 {
		t.Errorf("csv: %d rows, %v", len(rows), err)
	}

	res = do(t, http.MethodGet, ts.URL+"/api/microphones/"+itoa(mic)+"/spectrum?size=64", "")
	if bins := decodeBody[[]dsp.Bin](t, res); len(bins) != 33 {
		t.Errorf("spectrum: got %d bins, want 33", len(bins))
	}

	if res := do(t, http.MethodPost, ts.URL+"/api/control", `{"type":"clear_records"}`); res.StatusCode != http.StatusOK {
		t.Errorf("clear_records: got %d", res.StatusCode)
	}

	if got, _ := s.MicrophoneRecord(mic); len(got) != 0 {
		t.Errorf("records not cleared: %d", len(got))
	}

	if res := do(t, http.MethodPost, ts.URL+"/api/control", `{"type":"set_running","payload":{"value":true}}`); res.StatusCode != http.StatusOK {
		t.Errorf("set_running: got %d", res.StatusCode)
	}

	if !r.Running() {
		t.Error("runner not started")
	}

	if res := do(t, http.MethodPost, ts.URL+"/api/control", `{"type":"step"}`); res.StatusCode != http.StatusBadRequest {
		t.Errorf("step while running: got %d", res.StatusCode)
	}
}

func TestSceneAndFrame(t *testing.T) {
	t.Parallel()

	srv, r := newTestServer(t)
	ts := startHTTP(t, srv)

	if _, err := r.Sim().AddCircWall(sim.CircWall{Center: sim.Point{X: 16, Y: 12}, Radius: 4, Reflection: 1}); err != nil {
		t.Fatalf("AddCircWall: %v", err)
	}

	res := do(t, http.MethodGet, ts.URL+"/api/scene", "")

	sc, err := sim.ReadScene(res.Body)
	if err != nil {
		t.Fatalf("ReadScene: %v", err)
	}

	if len(sc.CircWalls) != 1 {
		t.Fatalf("scene walls: %+v", sc)
	}

	sc.CircWalls = nil
	sc.Params.Width = 40

	body, _ := json.Marshal(sc)
	if res := do(t, http.MethodPut, ts.URL+"/api/scene", string(body)); res.StatusCode != http.StatusNoContent {
		t.Fatalf("put scene: got %d", res.StatusCode)
	}

	if st := r.Sim().Status(); st.Walls != 0 || st.Width != 40 {
		t.Errorf("status after scene load: %+v", st)
	}

	res = do(t, http.MethodGet, ts.URL+"/api/frame.png?boundary=true&scale=2&gradient=gray", "")
	if res.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("frame content type %q", res.Header.Get("Content-Type"))
	}

	img, err := png.Decode(res.Body)
	if err != nil {
		t.Fatalf("png: %v", err)
	}

	// (40 + 2*6) x (24 + 2*6), doubled.
	if b := img.Bounds(); b.Dx() != 104 || b.Dy() != 72 {
		t.Errorf("frame bounds: got %v", b)
	}
}

func TestWebSocket(t *testing.T) {
	t.Parallel()

	srv, r := newTestServer(t)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, "ws://"+ln.Addr().String()+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	read := func() StatePayload {
		t.Helper()

		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

		var msg struct {
			Type    string       `json:"type"`
			Payload StatePayload `json:"payload"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}

		if msg.Type != "state" {
			t.Fatalf("message type %q", msg.Type)
		}

		return msg.Payload
	}

	if st := read(); st.Running {
		t.Fatalf("initial state running: %+v", st)
	}

	if err := conn.WriteJSON(Message{Type: "set_running", Payload: map[string]bool{"value": true}}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !read().Running {
		if time.Now().After(deadline) {
			t.Fatal("never saw running state")
		}
	}

	if !r.Running() {
		t.Error("runner not started")
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("Serve did not return after cancel")
	}
}

func itoa(id sim.ID) string {
	return strconv.FormatUint(uint64(id), 10)
}
