package api

import (
	"bytes"
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// observe records request metrics and logs each request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.metrics.requestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		s.metrics.requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type cachedResponse struct {
	body        []byte
	contentType string
}

// recorder tees a response so a successful body can be cached.
type recorder struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (rec *recorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *recorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	rec.buf.Write(b)
	return rec.ResponseWriter.Write(b)
}

// cached serves GET responses from the read cache, keyed by path and
// query. Only 200 responses are stored, and a response about a provider
// is dropped if that provider was invalidated while it was being built.
func (s *Server) cached(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}
		key := r.URL.RequestURI()
		if v, ok := s.cache.Get(key); ok {
			s.metrics.cacheTotal.WithLabelValues("hit").Inc()
			hit := v.(cachedResponse)
			w.Header().Set("Content-Type", hit.contentType)
			w.Header().Set("X-Cache", "HIT")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(hit.body)
			return
		}
		s.metrics.cacheTotal.WithLabelValues("miss").Inc()

		npi := providerOf(r.URL.Path)
		gen := s.generation(npi)

		w.Header().Set("X-Cache", "MISS")
		rec := &recorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status != http.StatusOK {
			return
		}

		s.genMu.Lock()
		defer s.genMu.Unlock()
		if s.gens[npi] != gen {
			return
		}
		s.cache.SetDefault(key, cachedResponse{
			body:        bytes.Clone(rec.buf.Bytes()),
			contentType: w.Header().Get("Content-Type"),
		})
	})
}

// providerOf returns the NPI a cached path is about, or "" for pages that
// are not tied to one provider.
func providerOf(path string) string {
	for _, prefix := range []string{"/api/v1/providers/", "/api/v1/verify/"} {
		rest, ok := strings.CutPrefix(path, prefix)
		if !ok {
			continue
		}
		npi, _, _ := strings.Cut(rest, "/")
		if npi == "search" {
			return ""
		}
		return npi
	}
	return ""
}

func (s *Server) generation(npi string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.gens[npi]
}

// invalidateProvider drops cached reads about one provider: its detail and
// plan pages and its verification lists. Search pages age out with the TTL.
// Bumping the generation under genMu keeps in-flight reads from storing
// what they loaded before the write.
func (s *Server) invalidateProvider(npi string) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.gens[npi]++

	detail := "/api/v1/providers/" + npi
	verifications := "/api/v1/verify/" + npi + "/"
	for key := range s.cache.Items() {
		if key == detail ||
			strings.HasPrefix(key, detail+"/") ||
			strings.HasPrefix(key, detail+"?") ||
			strings.HasPrefix(key, verifications) {
			s.cache.Delete(key)
		}
	}
}

// clientID identifies the caller for rate limiting and submitter hashes.
// realIP has already applied any trusted proxy headers.
func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimit allows n requests per window per client. Limiters live in a
// go-cache so idle clients are evicted.
func (s *Server) rateLimit(name string, n int, window time.Duration) func(http.Handler) http.Handler {
	every := rate.Every(window / time.Duration(n))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := name + "|" + clientID(r)
			// Add fails when another request created the limiter first.
			_ = s.limiters.Add(key, rate.NewLimiter(every, n), cache.DefaultExpiration)
			v, ok := s.limiters.Get(key)
			if ok && !v.(*rate.Limiter).Allow() {
				s.metrics.rateLimited.WithLabelValues(name).Inc()
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())/n))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireAdmin checks the X-Admin-Secret header. With no secret
// configured every admin request is refused.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Admin-Secret")
		if s.cfg.AdminSecret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.AdminSecret)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
