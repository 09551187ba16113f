package proxy

import "fmt"

// errorBody renders the literal five-line HTML body the worker sends for
// a non-2xx reply. It matches the original's sprintf template exactly:
// callers only need to check the leading status line and the presence of
// cause/longMsg in the body, per spec.
func errorBody(code int, reason, cause, longMsg string) string {
	return fmt.Sprintf(
		"<html><head><title>%d %s</title></head>\n"+
			"<body><font face=\"Arial, Helvetica, sans-serif\">\n"+
			"<h2>%d: %s</h2>\n"+
			"<p>%s: %s\n"+
			"<hr><em>segproxy</em>\n",
		code, reason, code, reason, longMsg, cause,
	)
}

// errorResponse builds a full HTTP/1.0 error reply: status line,
// Content-type, Content-length, a blank line, and the body.
func errorResponse(code int, reason, cause, longMsg string) []byte {
	body := errorBody(code, reason, cause, longMsg)
	head := fmt.Sprintf("HTTP/1.0 %d %s\r\nContent-type: text/html\r\nContent-length: %d\r\n\r\n", code, reason, len(body))
	return append([]byte(head), body...)
}

// notImplementedResponse is the 501 reply for any method other than GET.
func notImplementedResponse(method string) []byte {
	return errorResponse(501, "Not Implemented", method, "Proxy only supports GET method")
}

// badRequestResponse is the 400 reply for a request the parser could not
// make sense of.
func badRequestResponse(detail string) []byte {
	return errorResponse(400, "Bad Request", detail, "Could not parse request")
}

// notFoundResponse is the 404 reply for an unresolvable or unreachable
// upstream host.
func notFoundResponse(host, detail string) []byte {
	return errorResponse(404, "Not Found", detail, "Could not connect to "+host)
}
