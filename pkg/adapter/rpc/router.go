package rpc

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cin-tie/remote-shell/internal/logger"
	"github.com/cin-tie/remote-shell/pkg/protocol"
)

// Router returns the HTTP handler of the call transport.
//
// Routes:
//   - POST /rpc/v1/call - run one encoded command
//   - GET /rpc/v1/ping - liveness
func (a *Adapter) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(a.config.RequestTimeout))

	r.Post(CallPath, a.handleCall)
	r.Get(PingPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "pong\n")
	})

	return r
}

// handleCall decodes the command in the request body, dispatches it for the
// caller named by the token header, and writes the encoded result. Notices
// queued for the caller ride along in response headers.
func (a *Adapter) handleCall(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(HeaderSessionToken)
	if token == "" {
		http.Error(w, "missing "+HeaderSessionToken+" header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.config.MaxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "command too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read command", http.StatusBadRequest)
		return
	}

	msg, err := protocol.Decode(body)
	if err != nil || !msg.Tag().IsCommand() {
		logger.Warn("Rejecting malformed RPC call",
			logger.KeyClientAddr, r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
			logger.Err(err))
		a.rejected("malformed")
		http.Error(w, "malformed command", http.StatusBadRequest)
		return
	}

	c := a.caller(token, r.RemoteAddr)

	c.serial.Lock()
	c.touch()
	res := a.dispatcher.Dispatch(r.Context(), c, msg)
	notices := c.takeNotices()
	c.serial.Unlock()

	if _, ok := msg.(*protocol.Disconnect); ok && !res.Failed() {
		a.forget(c)
	}

	data, err := protocol.Encode(res)
	if err != nil {
		logger.Error("Failed to encode RPC result", logger.KeyClientAddr, r.RemoteAddr, logger.Err(err))
		http.Error(w, "failed to encode result", http.StatusInternalServerError)
		return
	}

	for _, n := range notices {
		v, err := EncodeNotice(n)
		if err != nil {
			continue
		}
		w.Header().Add(HeaderSessionNotice, v)
	}
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *Adapter) rejected(reason string) {
	if a.metrics != nil {
		a.metrics.RecordMessageRejected(reason)
	}
}

// requestLogger logs each call at debug level on start and completion.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Debug("RPC request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.KeyDurationMs, logger.Duration(start))
	})
}
