package server

import (
	"context"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dpledger/internal/api/responses"
	"github.com/inferloop/dpledger/pkg/constants"
	"github.com/inferloop/dpledger/pkg/errors"
)

const rateLimitWindow = time.Minute

// requestIDMiddleware adds a unique request ID to each request
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(constants.HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set(constants.HeaderRequestID, requestID)
		ctx := context.WithValue(r.Context(), "request_id", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		s.logger.WithFields(logrus.Fields{
			"method":         r.Method,
			"path":           r.URL.Path,
			"query":          r.URL.RawQuery,
			"status":         wrapped.statusCode,
			"duration_ms":    duration.Milliseconds(),
			"remote_addr":    getClientIP(r),
			"user_agent":     r.UserAgent(),
			"request_id":     getRequestID(r),
			"content_length": r.ContentLength,
		}).Info("HTTP request")
	})
}

// instrumentationMiddleware feeds the request counters and the active
// connection gauge. The path label uses the matched route template so
// scope identifiers do not explode the label set.
func (s *Server) instrumentationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		s.metrics.IncActiveConnections()
		defer s.metrics.DecActiveConnections()

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.metrics.RecordHTTPRequest(r.Method, routePattern(r),
			strconv.Itoa(wrapped.statusCode), time.Since(start))
	})
}

// recoveryMiddleware recovers from panics and returns 500 error
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.WithFields(logrus.Fields{
					"panic":      rec,
					"path":       r.URL.Path,
					"method":     r.Method,
					"request_id": getRequestID(r),
					"stack":      string(debug.Stack()),
				}).Error("Panic recovered")

				responses.WriteError(w, r, errors.NewInternalError("internal server error"))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// corsMiddleware handles CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers",
			"Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Expose-Headers",
			"X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// securityHeadersMiddleware adds security headers
func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")

		next.ServeHTTP(w, r)
	})
}

// requestSizeLimitMiddleware limits the size of request bodies
func (s *Server) requestSizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > s.config.MaxRequestSize {
			s.logger.WithFields(logrus.Fields{
				"content_length": r.ContentLength,
				"max_size":       s.config.MaxRequestSize,
				"path":           r.URL.Path,
				"request_id":     getRequestID(r),
			}).Warn("Request body too large")

			responses.WriteError(w, r, errors.NewValidationError(errors.CodeRequestTooLarge,
				"request body too large").WithHTTPStatus(http.StatusRequestEntityTooLarge))
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware enforces the per-client request allowance
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)
		allowed, remaining, reset := s.limiter.Allow(ip)

		w.Header().Set(constants.HeaderRateLimit, strconv.Itoa(s.config.RateLimit))
		w.Header().Set(constants.HeaderRateLimitRemaining, strconv.Itoa(remaining))
		w.Header().Set(constants.HeaderRateLimitReset, strconv.FormatInt(reset.Unix(), 10))

		if !allowed {
			s.logger.WithFields(logrus.Fields{
				"client_ip":  ip,
				"path":       r.URL.Path,
				"request_id": getRequestID(r),
			}).Warn("Rate limit exceeded")

			responses.WriteError(w, r, errors.NewValidationError(errors.CodeRateLimited,
				"rate limit exceeded, retry after the window resets").
				WithHTTPStatus(http.StatusTooManyRequests))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientLimiter counts requests per client IP in fixed windows
type clientLimiter struct {
	mu      sync.RWMutex
	clients map[string]*clientWindow
	limit   int
	window  time.Duration
	done    chan struct{}
	stop    sync.Once
}

type clientWindow struct {
	mu        sync.Mutex
	requests  int
	resetTime time.Time
}

func newClientLimiter(limit int, window time.Duration) *clientLimiter {
	l := &clientLimiter{
		clients: make(map[string]*clientWindow),
		limit:   limit,
		window:  window,
		done:    make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether the client may proceed and returns the
// remaining allowance and the window reset time for the headers.
func (l *clientLimiter) Allow(ip string) (bool, int, time.Time) {
	l.mu.RLock()
	client, ok := l.clients[ip]
	l.mu.RUnlock()

	if !ok {
		l.mu.Lock()
		client, ok = l.clients[ip]
		if !ok {
			client = &clientWindow{resetTime: time.Now().Add(l.window)}
			l.clients[ip] = client
		}
		l.mu.Unlock()
	}

	client.mu.Lock()
	defer client.mu.Unlock()

	now := time.Now()
	if now.After(client.resetTime) {
		client.requests = 0
		client.resetTime = now.Add(l.window)
	}
	if client.requests >= l.limit {
		return false, 0, client.resetTime
	}
	client.requests++
	return true, l.limit - client.requests, client.resetTime
}

// Stop ends the background cleanup loop
func (l *clientLimiter) Stop() {
	l.stop.Do(func() { close(l.done) })
}

// cleanupLoop drops clients whose window has expired
func (l *clientLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			now := time.Now()
			l.mu.Lock()
			for ip, client := range l.clients {
				client.mu.Lock()
				expired := now.After(client.resetTime)
				client.mu.Unlock()
				if expired {
					delete(l.clients, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	if !rw.written {
		rw.statusCode = statusCode
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(data)
}

// routePattern returns the matched route template, or the raw path for
// requests no route claimed.
func routePattern(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get(constants.HeaderForwardedFor); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if realIP := r.Header.Get(constants.HeaderRealIP); realIP != "" {
		return realIP
	}

	ip := r.RemoteAddr
	if colonIndex := strings.LastIndex(ip, ":"); colonIndex != -1 {
		ip = ip[:colonIndex]
	}
	return ip
}

// getRequestID extracts the request ID from the context
func getRequestID(r *http.Request) string {
	if requestID, ok := r.Context().Value("request_id").(string); ok {
		return requestID
	}
	return ""
}
