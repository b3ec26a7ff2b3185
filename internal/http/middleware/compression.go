package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForMedia wraps a compression middleware so already-encoded
// payloads pass through untouched. Final videos and thumbnails are H.264/JPEG
// data; recompressing them wastes CPU and breaks range requests.
func SkipCompressionForMedia(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isMediaPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			compressedHandler.ServeHTTP(w, r)
		})
	}
}

// isMediaPath reports whether the path serves binary media.
func isMediaPath(path string) bool {
	if strings.HasPrefix(path, "/api/videos/") {
		return true
	}
	return strings.HasPrefix(path, "/api/jobs/") && strings.HasSuffix(path, "/video")
}
