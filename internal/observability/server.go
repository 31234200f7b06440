package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HealthFunc reports nil while the device connection is usable.
type HealthFunc func() error

// Router exposes /metrics, /health and /ready.
func Router(started time.Time, ready HealthFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(Component("admin")))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok", started)
	})
	r.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil {
			if err := ready(); err != nil {
				writeStatus(w, http.StatusServiceUnavailable, err.Error(), started)
				return
			}
		}
		writeStatus(w, http.StatusOK, "ready", started)
	})
	r.Method(http.MethodGet, "/metrics", Handler())
	return r
}

func writeStatus(w http.ResponseWriter, code int, status string, started time.Time) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(status + " uptime=" + time.Since(started).Round(time.Second).String() + "\n"))
}

// Server is a running metrics listener.
type Server struct {
	srv  *http.Server
	addr net.Addr
	done chan error
}

// Serve listens on addr in the background.
func Serve(addr string, handler http.Handler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		srv:  &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second},
		addr: ln.Addr(),
		done: make(chan error, 1),
	}
	logger := Component("metrics")
	logger.Info().Str("addr", s.addr.String()).Msg("serving metrics")
	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			logger.Warn().Err(err).Msg("metrics server stopped")
		}
		s.done <- err
	}()
	return s, nil
}

func (s *Server) Addr() net.Addr { return s.addr }

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}
	return <-s.done
}
