package ingest

import (
	"net/http"
	"sync"
	"time"

	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/domain"
)

// ActorFunc extracts the acting user from a request. A nil return of the
// zero Actor marks anonymous traffic.
type ActorFunc func(*http.Request) domain.Actor

// Middleware instruments every request with exactly one APICallRecord. Both
// the handler-return path and the client-disconnect watcher call the same
// latched finish function, so a request that observes both completion
// signals is still logged once.
func (r *Recorder) Middleware(actorOf ActorFunc, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()

		var once sync.Once
		finish := func() {
			once.Do(func() {
				status := recorder.Status()
				duration := float64(time.Since(start).Microseconds()) / 1000
				var actor domain.Actor
				if actorOf != nil {
					actor = actorOf(req)
				}
				bytesIn := req.ContentLength
				if bytesIn < 0 {
					bytesIn = 0
				}
				r.RecordAPICall(req.Method, req.URL.Path, actor, status, duration, bytesIn, recorder.Bytes())
			})
		}

		watchDone := make(chan struct{})
		go func() {
			select {
			case <-req.Context().Done():
				finish()
			case <-watchDone:
			}
		}()

		defer func() {
			close(watchDone)
			finish()
		}()
		next.ServeHTTP(recorder, req)
	})
}

// statusRecorder captures status and response size for the record.
type statusRecorder struct {
	http.ResponseWriter
	mu     sync.Mutex
	status int
	bytes  int64
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.mu.Lock()
	if sr.status == 0 {
		sr.status = code
	}
	sr.mu.Unlock()
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	sr.mu.Lock()
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	sr.mu.Unlock()
	n, err := sr.ResponseWriter.Write(b)
	sr.mu.Lock()
	sr.bytes += int64(n)
	sr.mu.Unlock()
	return n, err
}

func (sr *statusRecorder) Status() int {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.status == 0 {
		return http.StatusOK
	}
	return sr.status
}

func (sr *statusRecorder) Bytes() int64 {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.bytes
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
