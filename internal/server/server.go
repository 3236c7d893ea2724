// Package server is the transport layer: a websocket upgrade endpoint,
// a fixed-size worker pool that decodes and dispatches frames off the I/O
// goroutines, and the handful of ambient HTTP endpoints (health check,
// admin token issuance) that sit alongside the wire protocol.
package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/Gao-Garrix/chatserver/internal/common"
	"github.com/Gao-Garrix/chatserver/internal/dispatch"
)

// job is one decode-and-dispatch unit of work handed from a Client's
// readPump to the worker pool.
type job struct {
	conn *Client
	raw  []byte
	ts   time.Time
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server owns the websocket listener, the worker pool that drains it, and
// the ambient HTTP surface (health check, admin token).
type Server struct {
	dispatcher *dispatch.Dispatcher
	jobs       chan job
	workers    int
	httpServer *http.Server

	// adminToken, when non-nil, handles POST /admin/token. Optional: a
	// server started without admin credentials configured simply omits
	// the route.
	adminToken http.HandlerFunc
}

// Options configures the ambient HTTP surface.
type Options struct {
	Addr        string
	Environment string
	Workers     int
	AdminToken  http.HandlerFunc // nil to omit the /admin/token route
}

// New builds a Server around dispatcher with the given options.
func New(d *dispatch.Dispatcher, opts Options) *Server {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}

	s := &Server{
		dispatcher: d,
		jobs:       make(chan job, 256),
		workers:    workers,
		adminToken: opts.AdminToken,
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/api", s.handleAPIInfo).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.HandleWebSocket)
	if s.adminToken != nil {
		router.HandleFunc("/admin/token", s.adminToken).Methods(http.MethodPost)
	}
	router.Use(loggingMiddleware)

	c := cors.New(cors.Options{
		AllowOriginFunc: func(origin string) bool { return opts.Environment != "production" },
		AllowedMethods:  []string{"GET", "POST"},
		AllowedHeaders:  []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:          86400,
		Debug:           opts.Environment != "production",
	})

	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      c.Handler(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// StartWorkers launches the worker pool. Exposed separately from Start so
// tests can drive the handler (via Handler) through httptest without
// binding a real listener.
func (s *Server) StartWorkers(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		go s.runWorker(ctx)
	}
}

// Start launches the worker pool and begins serving. Blocks until the
// listener stops (typically via Shutdown); returns http.ErrServerClosed on
// a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.StartWorkers(ctx)
	log.Printf("server: listening on %s with %d workers", s.httpServer.Addr, s.workers)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting new connections and waits (bounded by ctx) for
// in-flight requests to finish. It does not drain s.jobs; callers that need
// the last frames dispatched should give ctx enough headroom.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying http.Handler (router wrapped in CORS)
// without binding a listener, for use with httptest.NewServer in tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-s.jobs:
			if !ok {
				return
			}
			s.dispatcher.Handle(ctx, j.conn, j.raw, j.ts)
		}
	}
}

// HandleWebSocket upgrades the HTTP request and starts the per-connection
// read/write goroutines. No identity is established at upgrade time — the
// client proves who it is with a LOGIN frame over the new connection,
// exactly as the wire protocol describes.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: websocket upgrade failed: %v", err)
		return
	}

	client := newClient(conn)
	go client.writePump()
	go client.readPump(s.jobs, s.onDisconnect)
}

func (s *Server) onDisconnect(c *Client) {
	s.dispatcher.HandleDisconnect(c)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	common.Success(w, "", map[string]string{"status": "healthy", "service": "chatserver"})
}

func (s *Server) handleAPIInfo(w http.ResponseWriter, r *http.Request) {
	common.Success(w, "", map[string]string{"name": "chatserver", "websocket": "/ws"})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.RequestURI, time.Since(start))
	})
}
