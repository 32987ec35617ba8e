package web

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

// Assets holds the admin page templates and static files.
//
//go:embed templates static
var Assets embed.FS

// Templates parses the admin page templates.
func Templates() (*template.Template, error) {
	return template.ParseFS(Assets, "templates/*.html")
}

// StaticHandler serves the embedded static files. Directories and missing
// files are 404s; there is no client-side routing to fall back to.
func StaticHandler() http.Handler {
	static, err := fs.Sub(Assets, "static")
	if err != nil {
		panic(err)
	}
	files := http.FileServer(http.FS(static))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filePath := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")

		info, err := fs.Stat(static, filePath)
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}

		r2 := r.Clone(r.Context())
		r2.URL.Path = "/" + filePath
		files.ServeHTTP(w, r2)
	})
}
