package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// staticHandler serves the map front-end. Unlike gin's Static it can own
// the root path without shadowing /api, because it is installed as the
// NoRoute fallback.
func staticHandler(dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			http.NotFound(w, r)
			return
		}
		// Serve index.html for paths that do not exist on disk so the
		// map UI can use client-side routing.
		path := filepath.Join(dir, filepath.Clean("/"+r.URL.Path))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		fs.ServeHTTP(w, r)
	})
}
