// Package ui serves the single-page chart dashboard.
package ui

import (
	"embed"
	"net/http"
	"os"
)

//go:embed index.html
var content embed.FS

const devPath = "internal/ui/index.html"

// Handler returns an http.Handler that serves the dashboard page.
// If USAGEDASH_DEV=1 is set, it reads index.html from disk on each request
// for live reloading. Otherwise it serves the embedded copy.
func Handler() http.Handler {
	if os.Getenv("USAGEDASH_DEV") == "1" {
		return pageHandler(func() ([]byte, error) { return os.ReadFile(devPath) }, "no-cache")
	}
	return pageHandler(func() ([]byte, error) { return content.ReadFile("index.html") }, "")
}

func pageHandler(read func() ([]byte, error), cacheControl string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := read()
		if err != nil {
			http.Error(w, "ui not found", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if cacheControl != "" {
			w.Header().Set("Cache-Control", cacheControl)
		}
		_, _ = w.Write(data)
	})
}
