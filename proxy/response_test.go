package proxy

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotImplementedResponse(t *testing.T) {
	resp := string(notImplementedResponse("POST"))
	assertEnvelope(t, resp, 501, "Not Implemented", "POST", "GET")
}

func TestNotFoundResponse(t *testing.T) {
	resp := string(notFoundResponse("example.com", "dial timeout"))
	assertEnvelope(t, resp, 404, "Not Found", "dial timeout", "example.com")
}

func TestBadRequestResponse(t *testing.T) {
	resp := string(badRequestResponse("bad line"))
	assertEnvelope(t, resp, 400, "Bad Request", "bad line", "")
}

func assertEnvelope(t *testing.T, resp string, code int, reason, cause, mustContain string) {
	t.Helper()
	lines := strings.SplitN(resp, "\r\n", 2)
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Equal(t, "HTTP/1.0 "+strconv.Itoa(code)+" "+reason, lines[0])
	assert.Contains(t, resp, cause)
	if mustContain != "" {
		assert.Contains(t, resp, mustContain)
	}

	headerAndBody := strings.SplitN(lines[1], "\r\n\r\n", 2)
	require.Len(t, headerAndBody, 2)
	assert.Contains(t, headerAndBody[0], "Content-type: text/html")
	assert.Contains(t, headerAndBody[0], "Content-length: "+strconv.Itoa(len(headerAndBody[1])))
}
