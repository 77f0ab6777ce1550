// Package statusserver exposes the state of a running flash over a
// local HTTP endpoint so an external process (a dashboard, a second
// terminal, a CI harness) can poll progress without competing with the
// TUI for the same event channel. Grounded on the teacher's
// gin.New()+gin.Recovery()+graceful-http.Server shape in
// cmd/driver/hasher-host/main.go's runAPIServer, generalized from a
// many-route inference API down to the two read-only routes this
// module needs.
package statusserver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"flashthing/internal/executor"
)

// Snapshot is the latest known state of a flash run, updated as
// FlashEvents arrive and served verbatim as JSON from /status.
type Snapshot struct {
	SessionID  string `json:"sessionId"`
	Phase      string `json:"phase"`
	TotalSteps int    `json:"totalSteps"`
	StepIndex  int    `json:"stepIndex"`
	StepKind   string `json:"stepKind,omitempty"`
	Sent       int    `json:"sent,omitempty"`
	Total      int    `json:"total,omitempty"`
	Message    string `json:"message,omitempty"`
	Err        string `json:"error,omitempty"`
	Done       bool   `json:"done"`
}

// Server serves Snapshot state over HTTP. Sink feeds it the same events
// the TUI consumes; it never calls back into an Executor.
type Server struct {
	mu   sync.RWMutex
	snap Snapshot
	srv  *http.Server
}

// New builds a Server bound to addr (e.g. "127.0.0.1:8910"). The server
// is not started until Start is called.
func New(addr string) *Server {
	s := &Server{snap: Snapshot{Phase: "idle"}}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/status", s.handleStatus)
	router.GET("/healthz", s.handleHealthz)

	s.srv = &http.Server{
		Addr:    addr,
		Handler: router,
	}
	return s
}

// Sink returns an executor.Sink that updates the Server's Snapshot. Pass
// it alongside (or composed with) the TUI's sink via executor.WithSink.
func (s *Server) Sink() executor.Sink {
	return s.apply
}

func (s *Server) apply(ev executor.FlashEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.SessionID = ev.SessionID
	switch ev.Kind {
	case executor.EventStarted:
		s.snap.Phase = "running"
		s.snap.TotalSteps = ev.TotalSteps
	case executor.EventStepStarted:
		s.snap.StepIndex = ev.StepIndex
		s.snap.StepKind = ev.StepKind
		s.snap.Sent, s.snap.Total = 0, 0
	case executor.EventBlockProgress:
		s.snap.Sent, s.snap.Total = ev.Sent, ev.Total
	case executor.EventLogEmitted:
		s.snap.Message = ev.Message
	case executor.EventStepFailed:
		s.snap.Phase = "failed"
		s.snap.Err = ev.Err.Error()
		s.snap.Done = true
	case executor.EventCancelled:
		s.snap.Phase = "cancelled"
		s.snap.Done = true
	case executor.EventFinished:
		if s.snap.Phase == "running" {
			s.snap.Phase = "done"
		}
		s.snap.Done = true
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Start runs the HTTP server in the background. Errors other than a
// clean Shutdown are sent on the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("statusserver: %w", err)
			return
		}
		errCh <- nil
	}()
	return errCh
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// ShutdownTimeout is the default grace period cmd/flashthing-cli gives
// the status server on exit.
const ShutdownTimeout = 5 * time.Second
