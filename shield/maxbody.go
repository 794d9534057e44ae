package shield

import "net/http"

// MaxBody returns middleware that caps the request body size. Reads past
// maxBytes fail with *http.MaxBytesError, which JSON decoders surface as a
// decode error.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
