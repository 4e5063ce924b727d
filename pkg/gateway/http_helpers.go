package gateway

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	ferrors "github.com/DeBrosOfficial/fitsync/pkg/errors"
	"github.com/DeBrosOfficial/fitsync/pkg/logging"
)

type statusResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusResponseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Hijack lets WebSocket upgrades pass through the logging middleware.
func (w *statusResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// writeJSON writes JSON with status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a typed error as JSON, tagged with the request id. Server
// and upstream failures are logged with the stack of the typed error.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := middleware.GetReqID(r.Context())
	if status := ferrors.StatusCode(err); status >= http.StatusInternalServerError {
		code := ferrors.GetErrorCode(err)
		g.logger.ComponentError(logging.ComponentGateway, "request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", reqID),
			zap.Int("status", status),
			zap.String("code", code),
			zap.String("category", string(ferrors.GetCategory(code))),
			zap.Bool("retryable", ferrors.IsRetryable(code)),
			zap.Error(err),
			zap.String("stack", ferrors.StackTrace(err)))
	}
	if ferrors.IsUnauthorized(err) && w.Header().Get("WWW-Authenticate") == "" {
		w.Header().Set("WWW-Authenticate", `Bearer realm="fitsync", charset="UTF-8"`)
	}
	ferrors.WriteHTTPError(w, err, reqID)
}
