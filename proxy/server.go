// Package proxy implements the HTTP/1.0 forward proxy: an accept loop
// feeding a bounded pool of per-connection tasks, each running the
// six-step pipeline in worker.go, sharing one cache instance guarded by
// its own readers-writer lock (see cache.Cache).
package proxy

import (
	"context"
	"net"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/systemslab/segproxy/cache"
	"github.com/systemslab/segproxy/internal/xlog"
)

// defaultMaxConcurrentConns bounds how many connections are handled at
// once; the teacher's common.SendLimiter uses the same
// semaphore.Weighted shape to cap concurrent network sends, here applied
// to concurrent accepted connections instead of upload slots.
const defaultMaxConcurrentConns = 512

// Server owns the listener, the shared cache, and the concurrency limit.
// It carries no per-request state; everything request-scoped lives in
// the Request/response path in worker.go.
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc

	cache    *cache.Cache
	resolver *cache.ResolverCache
	logger   xlog.ILogger
	sem      *semaphore.Weighted
}

// New builds a Server with a cache sized at cache.MaxCacheSize and a
// resolver cache with a one-minute lookup timeout and five-minute
// background refresh, matching the teacher's proxyLookupCache defaults.
func New(logger xlog.ILogger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		ctx:      ctx,
		cancel:   cancel,
		cache:    cache.New(cache.MaxCacheSize),
		resolver: cache.NewResolverCache(time.Minute, 5*time.Minute),
		logger:   logger,
		sem:      semaphore.NewWeighted(defaultMaxConcurrentConns),
	}
}

// ListenAndServe listens on port and serves connections until the
// listener errors or the server's context is cancelled via Shutdown.
// Each accepted connection is handled by one independent task,
// acquiring a pool slot before it starts and releasing it on exit; tasks
// share only the cache lock and there is no ordering guarantee between
// connections.
func (s *Server) ListenAndServe(port string) error {
	ln, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-s.ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
				return err
			}
		}

		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			conn.Close()
			return nil
		}
		go func() {
			defer s.sem.Release(1)
			s.handleConn(conn)
		}()
	}
}

// Shutdown stops the accept loop and unblocks any task waiting for a
// pool slot. It does not wait for in-flight connections to finish, since
// spec defines no cancellation/timeout model for tasks already running.
func (s *Server) Shutdown() {
	s.cancel()
}
