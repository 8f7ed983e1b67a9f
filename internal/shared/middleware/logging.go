package middleware

import (
	"log"
	"net/http"
	"time"
)

// statusRecorder captures the status code a handler writes so the access log
// can report it. Handlers that never call WriteHeader are logged as 200,
// matching what net/http sends on the wire.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	if rec.status != 0 {
		return
	}
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Status() int {
	if rec.status == 0 {
		return http.StatusOK
	}
	return rec.status
}

// Logging writes one access-log line per request: method, path, status and
// handler duration.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()

		next.ServeHTTP(rec, r)

		log.Printf("%s %s %d %s", r.Method, r.URL.Path, rec.Status(), time.Since(start))
	})
}
