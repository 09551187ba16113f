package proxy

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemslab/segproxy/cache"
	"github.com/systemslab/segproxy/internal/xlog"
)

// rawUpstream starts a TCP listener that, for exactly one connection,
// reads a request (and ignores it) then writes body verbatim.
func rawUpstream(t *testing.T, body []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		conn.Write(body)
	}()

	return ln.Addr().String()
}

func newTestServer() *Server {
	return New(xlog.New(io.Discard, xlog.LogNone))
}

func TestFetchAndStreamAccumulatesSmallResponse(t *testing.T) {
	body := []byte("small response body")
	addr := rawUpstream(t, body)
	host, port, _ := net.SplitHostPort(addr)

	s := newTestServer()
	req := &Request{Line: "GET http://x/ HTTP/1.0\r\n", Host: host, Port: port, Path: "/"}

	var client bytes.Buffer
	scratch, ok, err := s.fetchAndStream(nopConn{&client}, "test", req)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, body, scratch)
	assert.Equal(t, body, client.Bytes())
}

func TestFetchAndStreamOverflowDiscardsScratch(t *testing.T) {
	body := bytes.Repeat([]byte("x"), cache.MaxObjectSize+1)
	addr := rawUpstream(t, body)
	host, port, _ := net.SplitHostPort(addr)

	s := newTestServer()
	req := &Request{Line: "GET http://x/ HTTP/1.0\r\n", Host: host, Port: port, Path: "/"}

	var client bytes.Buffer
	scratch, ok, err := s.fetchAndStream(nopConn{&client}, "test", req)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, scratch)
	// streaming to the client still happens in full, regardless of cache
	// eligibility.
	assert.Equal(t, len(body), client.Len())
}

func TestSendUpstreamRequestFormatsHeadersAndBlankLine(t *testing.T) {
	req := &Request{Path: "/a/b?c=1", Headers: []string{"X-Foo: bar"}}

	var buf bytes.Buffer
	require.NoError(t, sendUpstreamRequest(nopConn{&buf}, req))

	got := buf.String()
	assert.True(t, strings.HasPrefix(got, "GET /a/b?c=1 HTTP/1.0\r\n"))
	assert.Contains(t, got, "X-Foo: bar\r\n")
	assert.Contains(t, got, "User-Agent: Mozilla/5.0")
	assert.True(t, strings.HasSuffix(got, "\r\n\r\n"))
}

// nopConn adapts an io.ReadWriter to net.Conn for tests that only need
// Read/Write.
type nopConn struct {
	rw io.ReadWriter
}

func (c nopConn) Read(b []byte) (int, error)       { return c.rw.Read(b) }
func (c nopConn) Write(b []byte) (int, error)      { return c.rw.Write(b) }
func (c nopConn) Close() error                     { return nil }
func (c nopConn) LocalAddr() net.Addr              { return nil }
func (c nopConn) RemoteAddr() net.Addr             { return nil }
func (c nopConn) SetDeadline(time.Time) error      { return nil }
func (c nopConn) SetReadDeadline(time.Time) error  { return nil }
func (c nopConn) SetWriteDeadline(time.Time) error { return nil }
