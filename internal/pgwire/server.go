package pgwire

import (
	"context"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/cubedb/cubestore/internal/config"
)

// Server accepts Postgres wire connections and serves each on its own
// goroutine, the byte-protocol analogue of the teacher's
// cmd/coordinator/main.go server: a net.Listener accept loop plus a
// context-driven graceful shutdown that waits for in-flight connections
// to drain instead of severing them.
type Server struct {
	listener net.Listener
	limits   Limits
	executor QueryExecutor
	log      *zap.Logger

	wg sync.WaitGroup
}

// NewServer wraps listener, serving every accepted connection with
// executor and the per-connection limits from cfg.
func NewServer(listener net.Listener, cfg config.PGWireConfig, executor QueryExecutor, log *zap.Logger) *Server {
	return &Server{
		listener: listener,
		limits:   limitsFromConfig(cfg),
		executor: executor,
		log:      log,
	}
}

// Serve runs the accept loop until ctx is canceled or the listener
// errors, then waits for every in-flight connection to finish.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.wg.Wait()
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c := NewConn(conn, s.limits, s.executor, s.log)
			if err := c.Serve(ctx); err != nil && s.log != nil {
				s.log.Debug("pgwire: connection closed", zap.Error(err))
			}
		}()
	}
}
