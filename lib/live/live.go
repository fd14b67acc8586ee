// Package live publishes sweep progress over HTTP and WebSocket.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/gotmc/bode"
)

// subscriberBuffer is the number of points a slow client may lag behind
// before points are dropped for it.
const subscriberBuffer = 256

// Point is the JSON form of one measured point. Undefined values are null.
type Point struct {
	Index     int      `json:"index"`
	Total     int      `json:"total"`
	Frequency float64  `json:"frequency_hz"`
	GainDB    *float64 `json:"gain_db"`
	Phase     *float64 `json:"phase_deg"`
	Status    string   `json:"status"`
}

func defined(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Hub fans measured points out to HTTP clients.
type Hub struct {
	log     zerolog.Logger
	origins []string

	mu     sync.Mutex
	points []Point
	subs   map[chan Point]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewHub returns a hub. allowedOrigins are the CORS and WebSocket origins;
// "*" allows any.
func NewHub(l zerolog.Logger, allowedOrigins []string) *Hub {
	return &Hub{
		log:     l,
		origins: allowedOrigins,
		subs:    map[chan Point]struct{}{},
		done:    make(chan struct{}),
	}
}

// Publish records the i-th of n measurements and sends it to every client.
// It has the signature of bode.ProgressFunc.
func (h *Hub) Publish(i, n int, m bode.Measurement) {
	p := Point{
		Index:     i,
		Total:     n,
		Frequency: m.Frequency,
		GainDB:    defined(m.GainDB()),
		Phase:     defined(m.Phase),
		Status:    m.Status.String(),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.points = append(h.points, p)
	for ch := range h.subs {
		select {
		case ch <- p:
		default:
			h.log.Warn().Int("index", i).Msg("live client too slow, dropping point")
		}
	}
}

// Points returns the points published so far.
func (h *Hub) Points() []Point {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Point(nil), h.points...)
}

// subscribe returns the current snapshot and a channel for later points.
func (h *Hub) subscribe() ([]Point, chan Point) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Point, subscriberBuffer)
	h.subs[ch] = struct{}{}
	return append([]Point(nil), h.points...), ch
}

func (h *Hub) unsubscribe(ch chan Point) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, ch)
}

// Close ends every WebSocket stream.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Hub) allowOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Handler returns the router: GET /points and GET /ws.
func (h *Hub) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Get("/points", h.servePoints)
	r.Get("/ws", h.serveWS)
	return r
}

func (h *Hub) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (h *Hub) servePoints(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Points()); err != nil {
		h.log.Error().Err(err).Msg("encoding points")
	}
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.allowOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	defer conn.Close()

	snapshot, ch := h.subscribe()
	defer h.unsubscribe(ch)
	h.log.Info().Str("remote", r.RemoteAddr).Msg("live client connected")

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, p := range snapshot {
		if err := conn.WriteJSON(p); err != nil {
			return
		}
	}
	for {
		select {
		case p := <-ch:
			if err := conn.WriteJSON(p); err != nil {
				return
			}
		case <-gone:
			h.log.Info().Str("remote", r.RemoteAddr).Msg("live client disconnected")
			return
		case <-h.done:
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "sweep finished"))
			return
		}
	}
}

// ListenAndServe serves Handler on addr until ctx is done.
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	h.log.Info().Str("addr", addr).Msg("live feed listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	h.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if serveErr := <-errc; !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return err
}
