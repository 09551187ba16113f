package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/systemslab/segproxy/cache"
	"github.com/systemslab/segproxy/internal/xerrors"
	"github.com/systemslab/segproxy/internal/xlog"
)

// handleConn runs the six-step pipeline for one accepted connection. It
// never returns an error to its caller — every failure is either
// answered with a reply and a close, or silently tolerated (a peer
// that's already gone) — matching the "nothing is retried, every error
// terminates the owning task" rule.
func (s *Server) handleConn(conn net.Conn) {
	connID := xlog.ConnID()
	defer conn.Close()

	r := bufio.NewReader(conn)

	// Step 1+2: request line and headers.
	req, err := ReadRequest(r)
	if err != nil {
		s.replyError(conn, connID, err)
		return
	}

	// Step 3: cache lookup under the read lock, spanning the response
	// write — the one place a lock is deliberately held across I/O.
	if s.serveFromCache(conn, connID, req) {
		return
	}

	// Step 4: fetch from upstream, accumulating a scratch buffer.
	scratch, ok, err := s.fetchAndStream(conn, connID, req)
	if err != nil {
		s.replyError(conn, connID, err)
		return
	}

	// Step 5: admit to the cache if the scratch stayed valid.
	if ok {
		s.cache.Insert(req.Line, scratch)
	}

	s.log(connID, xlog.LogInfo, "done", "host", req.Host, "path", req.Path, "cached", ok)
}

func (s *Server) serveFromCache(conn net.Conn, connID string, req *Request) bool {
	s.cache.RLock()
	obj, found := s.cache.Find(req.Line)
	if !found {
		s.cache.RUnlock()
		return false
	}
	_, err := conn.Write(obj.Value)
	s.cache.RUnlock()

	if err != nil && !isPeerGone(err) {
		s.log(connID, xlog.LogWarning, "cache-hit write failed", "err", err)
	} else {
		s.log(connID, xlog.LogInfo, "cache hit", "host", req.Host, "path", req.Path)
	}
	return true
}

// fetchAndStream resolves and connects to the upstream host, sends the
// rewritten request, then streams the response back to the client while
// mirroring up to cache.MaxObjectSize bytes into a scratch buffer. It
// returns the scratch bytes and whether they remain eligible for
// caching (the connection didn't reset and the response never exceeded
// the size cap).
func (s *Server) fetchAndStream(conn net.Conn, connID string, req *Request) ([]byte, bool, error) {
	addrs, err := s.resolver.Resolve(s.ctx, req.Host)
	if err != nil || len(addrs) == 0 {
		return nil, false, xerrors.New(xerrors.KindUpstreamUnreachable, err, "resolving %s", req.Host)
	}

	upstream, err := net.Dial("tcp", net.JoinHostPort(addrs[0], req.Port))
	if err != nil {
		return nil, false, xerrors.New(xerrors.KindUpstreamUnreachable, err, "connecting to %s:%s", req.Host, req.Port)
	}
	defer upstream.Close()

	if err := sendUpstreamRequest(upstream, req); err != nil {
		if isPeerGone(err) {
			return nil, false, xerrors.New(xerrors.KindPeerReset, err, "writing upstream request")
		}
		return nil, false, xerrors.New(xerrors.KindUpstreamUnreachable, err, "writing upstream request")
	}

	scratch := make([]byte, 0, 4096)
	overflowed := false
	buf := make([]byte, 32*1024)

	for {
		n, readErr := upstream.Read(buf)
		if n > 0 {
			if !overflowed {
				if int64(len(scratch)+n) > cache.MaxObjectSize {
					overflowed = true
					scratch = nil
				} else {
					scratch = append(scratch, buf[:n]...)
				}
			}
			if _, writeErr := conn.Write(buf[:n]); writeErr != nil {
				if isPeerGone(writeErr) {
					return nil, false, nil
				}
				return nil, false, writeErr
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			if isPeerGone(readErr) {
				return nil, false, nil
			}
			return nil, false, readErr
		}
	}

	return scratch, !overflowed, nil
}

func sendUpstreamRequest(upstream net.Conn, req *Request) error {
	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.0\r\n", req.Path)
	for _, h := range req.BuildUpstreamHeaders() {
		b.WriteString(h)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	_, err := upstream.Write([]byte(b.String()))
	return err
}

func (s *Server) replyError(conn net.Conn, connID string, err error) {
	if xerrors.IsPeerReset(err) {
		// the peer is already gone; nothing to reply with.
		s.log(connID, xlog.LogWarning, "peer reset", "err", err)
		return
	}

	var xe *xerrors.Error
	status := 400
	if errors.As(err, &xe) {
		status = xe.Kind.Status()
	}

	var resp []byte
	switch status {
	case 501:
		resp = notImplementedResponse(xe.Error())
	case 404:
		resp = notFoundResponse("upstream", xe.Error())
	default:
		resp = badRequestResponse(err.Error())
	}

	if _, writeErr := conn.Write(resp); writeErr != nil && !isPeerGone(writeErr) {
		s.log(connID, xlog.LogWarning, "error reply write failed", "err", writeErr)
	}
	s.log(connID, xlog.LogInfo, "error", "err", err)
}

// isPeerGone reports whether err is EPIPE, ECONNRESET or net.ErrClosed,
// treated as tolerable mid-stream disconnects: the surviving socket still gets
// closed by the caller's defer, but the task does not treat this as a
// failure worth a reply attempt.
func isPeerGone(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, net.ErrClosed)
}

// log writes msg plus a connection ID and, when given, a trailing
// "key=value ..." tail built by xlog.Fields (an odd number of kv args, or
// none, just logs msg with no tail).
func (s *Server) log(connID string, level xlog.LogLevel, msg string, kv ...interface{}) {
	if !s.logger.ShouldLog(level) {
		return
	}
	line := connID + " " + msg
	if len(kv) > 0 && len(kv)%2 == 0 {
		line += " " + xlog.Fields(kv...)
	}
	s.logger.Log(level, line)
}
