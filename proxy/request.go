package proxy

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/systemslab/segproxy/internal/xerrors"
)

// droppedHeaders are client-supplied headers the proxy strips before
// forwarding, since it supplies its own fixed versions of the ones that
// matter and the rest (Connection, Proxy-Connection) describe a
// connection this proxy does not keep alive.
var droppedHeaders = map[string]bool{
	"user-agent":       true,
	"accept":           true,
	"accept-encoding":  true,
	"connection":       true,
	"proxy-connection": true,
}

// fixedHeaders are appended, in this order, to every upstream request.
var fixedHeaders = []string{
	"User-Agent: Mozilla/5.0 (X11; Linux x86_64; rv:10.0.3) Gecko/20120305 Firefox/10.0.3",
	"Accept: text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Encoding: gzip, deflate",
	"Connection: close",
	"Proxy-Connection: close",
}

// Request is a parsed client request: the method, the original request
// line (the cache key, byte for byte), the resolved host/port/path, and
// the header lines to forward upstream (already filtered, not yet
// carrying the fixed headers).
type Request struct {
	Line    string // original request line, e.g. "GET http://h/p HTTP/1.0\r\n"
	Host    string
	Port    string
	Path    string
	Headers []string
}

// ReadRequest reads a request line and its header block from r. Per
// spec, only GET is supported; anything else is reported as
// KindUnsupportedMethod. A line or URI the parser can't make sense of is
// KindMalformedRequest.
func ReadRequest(r *bufio.Reader) (*Request, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, xerrors.New(xerrors.KindMalformedRequest, err, "reading request line")
	}

	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil, xerrors.New(xerrors.KindMalformedRequest, errMalformed("request line"), "%q", line)
	}
	method, uri := fields[0], fields[1]
	if method != "GET" {
		return nil, xerrors.New(xerrors.KindUnsupportedMethod, errMalformed(method), "method %s", method)
	}

	host, port, path, err := parseURI(uri)
	if err != nil {
		return nil, xerrors.New(xerrors.KindMalformedRequest, err, "parsing URI %q", uri)
	}

	headers, err := readHeaders(r)
	if err != nil {
		return nil, xerrors.New(xerrors.KindMalformedRequest, err, "reading headers")
	}

	return &Request{
		Line:    line,
		Host:    host,
		Port:    port,
		Path:    path,
		Headers: headers,
	}, nil
}

// parseURI splits an absolute URI ("http://host[:port]/path?query" or
// just "/path?query" for a same-origin-style request) into host, port
// (defaulting to "80"), and path-and-query. It returns owned strings,
// never a pointer into caller-held storage — the original C read_uri
// returned a pointer into a stack buffer that the caller then
// had to strcpy; there is no equivalent hazard here because Go strings
// are already independently owned once sliced out.
func parseURI(uri string) (host, port, path string, err error) {
	rest := uri
	if strings.HasPrefix(rest, "http://") {
		rest = rest[len("http://"):]
	} else if !strings.HasPrefix(rest, "/") {
		return "", "", "", errMalformed("uri must be absolute or begin with /: " + uri)
	} else {
		return "", "80", rest, nil
	}

	slash := strings.IndexByte(rest, '/')
	hostport := rest
	path = "/"
	if slash >= 0 {
		hostport = rest[:slash]
		path = rest[slash:]
	}
	if hostport == "" {
		return "", "", "", errMalformed("empty host in uri: " + uri)
	}

	if colon := strings.IndexByte(hostport, ':'); colon >= 0 {
		host = hostport[:colon]
		port = hostport[colon+1:]
		if _, convErr := strconv.Atoi(port); convErr != nil {
			return "", "", "", errMalformed("invalid port in uri: " + uri)
		}
	} else {
		host = hostport
		port = "80"
	}
	return host, port, path, nil
}

// readHeaders reads CRLF-terminated header lines up to (and consuming)
// the blank line that ends the block, dropping the ones listed in
// droppedHeaders, skipping any line without a colon, and forwarding the
// rest byte for byte — no sscanf("%[^:]: %s", ...)-style value parsing,
// which would truncate any value containing whitespace.
func readHeaders(r *bufio.Reader) ([]string, error) {
	var headers []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			return headers, nil
		}

		colon := strings.IndexByte(trimmed, ':')
		if colon < 0 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(trimmed[:colon]))
		if droppedHeaders[name] {
			continue
		}
		headers = append(headers, trimmed)
	}
}

// BuildUpstreamHeaders returns the request's retained headers plus the
// five fixed proxy headers, in the order spec'd: retained headers first,
// then the fixed set in fixedHeaders's declared order.
func (req *Request) BuildUpstreamHeaders() []string {
	out := make([]string, 0, len(req.Headers)+len(fixedHeaders))
	out = append(out, req.Headers...)
	out = append(out, fixedHeaders...)
	return out
}

type malformedError string

func (e malformedError) Error() string { return string(e) }

func errMalformed(msg string) error { return malformedError(msg) }
