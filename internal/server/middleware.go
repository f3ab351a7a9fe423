package server

import (
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/n0madic/go-claudebridge/internal/config"
	"github.com/n0madic/go-claudebridge/internal/session"
)

var (
	debugDumpMu sync.Mutex
	// debugOut receives inbound request dumps. Tests swap it.
	debugOut io.Writer = os.Stderr
)

const serverAccessTokenError = "Invalid or missing server access token"

var allowedHeaders = strings.Join([]string{
	"Authorization", "Content-Type", "Accept",
	session.HeaderThinkingDisplay, session.HeaderWebSearch, session.HeaderCodeExecution,
}, ", ")

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqHeaders := r.Header.Get("Access-Control-Request-Headers")
		if reqHeaders == "" {
			reqHeaders = allowedHeaders
		}
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func authMiddleware(cfg *config.ServerConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expectedToken := ""
		if cfg != nil {
			expectedToken = strings.TrimSpace(cfg.AccessToken)
		}
		if expectedToken == "" || r.Method == http.MethodOptions || !strings.HasPrefix(r.URL.Path, "/v1/") {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := parseBearerAuthToken(r.Header.Get("Authorization"))
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
			writeOpenAIError(w, http.StatusUnauthorized, "authentication_error", serverAccessTokenError)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseBearerAuthToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return parts[1], true
}

// statusRecorder captures the response status for the verbose log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func verboseMiddleware(cfg *config.ServerConfig, next http.Handler) http.Handler {
	if cfg == nil || !cfg.Verbose {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		slog.Info("request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(rec, r)
		slog.Info("request.done", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration_ms", time.Since(start).Milliseconds())
	})
}

func debugMiddleware(cfg *config.ServerConfig, next http.Handler) http.Handler {
	if cfg == nil || !cfg.Debug {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dump, err := httputil.DumpRequest(r, true)
		if err != nil {
			slog.Error("request.dump.failed", "method", r.Method, "path", r.URL.Path, "error", err)
		} else {
			slog.Info("request.dump", "method", r.Method, "path", r.URL.Path)
			writeDebugDumpBlock("INBOUND REQUEST", redactAuthorization(dump))
		}
		next.ServeHTTP(w, r)
	})
}

// redactAuthorization blanks the bearer token of a dumped request.
func redactAuthorization(dump []byte) []byte {
	lines := strings.Split(string(dump), "\r\n")
	for i, line := range lines {
		if line == "" {
			break
		}
		if strings.HasPrefix(strings.ToLower(line), "authorization:") {
			lines[i] = "Authorization: [redacted]"
		}
	}
	return []byte(strings.Join(lines, "\r\n"))
}

func writeDebugDumpBlock(title string, data []byte) {
	debugDumpMu.Lock()
	defer debugDumpMu.Unlock()

	header := "===== " + strings.TrimSpace(title) + " BEGIN =====\n"
	footer := "===== " + strings.TrimSpace(title) + " END =====\n"

	io.WriteString(debugOut, header)
	if len(data) > 0 {
		debugOut.Write(data)
		if data[len(data)-1] != '\n' {
			io.WriteString(debugOut, "\n")
		}
	}
	io.WriteString(debugOut, footer)
}
