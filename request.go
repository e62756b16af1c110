package session

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gospider007/tools"
	"golang.org/x/net/http/httpguts"
)

// HeadersFromRequest builds the pseudo-header-first field list SendRequest
// expects from a standard *http.Request, the way the teacher's
// Http2ClientConn.encodeHeaders does — minus the response-side concerns
// (building an *http.Response, body pumping) that belong to the embedder,
// not this package (see SPEC_FULL.md Non-goals).
func HeadersFromRequest(req *http.Request) ([]HeaderField, error) {
	host := req.Host
	if host == "" {
		host = req.URL.Host
	}
	host, err := httpguts.PunycodeHostPort(host)
	if err != nil {
		return nil, tools.WrapError(err, "PunycodeHostPort")
	}

	var path string
	if req.Method != http.MethodConnect {
		path = req.URL.RequestURI()
		if !validPseudoPath(path) {
			path = strings.TrimPrefix(path, req.URL.Scheme+"://"+host)
		}
	}

	fields := []HeaderField{
		{Name: ":method", Value: req.Method},
		{Name: ":authority", Value: host},
	}
	if req.Method != http.MethodConnect {
		fields = append(fields,
			HeaderField{Name: ":scheme", Value: req.URL.Scheme},
			HeaderField{Name: ":path", Value: path},
		)
	}
	for k, vv := range req.Header {
		lk := strings.ToLower(k)
		switch lk {
		case "host", "content-length", "connection", "proxy-connection", "transfer-encoding", "upgrade", "keep-alive":
			continue
		case "cookie":
			for _, v := range vv {
				for _, c := range strings.Split(v, "; ") {
					fields = append(fields, HeaderField{Name: "cookie", Value: c})
				}
			}
		default:
			for _, v := range vv {
				fields = append(fields, HeaderField{Name: lk, Value: v})
			}
		}
	}
	if contentLength, _ := tools.GetContentLength(req); contentLength >= 0 {
		fields = append(fields, HeaderField{Name: "content-length", Value: strconv.FormatInt(contentLength, 10)})
	}
	return fields, nil
}

// StatusHeaders builds the pseudo-header-first field list for a server
// response of the given status code, the mirror image of HeadersFromRequest
// on the send side of a server session.
func StatusHeaders(statusCode int) []HeaderField {
	return []HeaderField{
		{Name: ":status", Value: strconv.Itoa(statusCode)},
	}
}
