package devproxy

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MalfuncEddie/ansible-ui/internal/model"
)

const (
	indexFile   = "index.html"
	faviconFile = "favicon.svg"
)

// Bundle serves a built application under its public path. Unknown paths get
// index.html so the client-side router can resolve them.
type Bundle struct {
	publicPath string
	dir        string
	iconPath   string
	logger     *zap.Logger
}

// NewBundle creates a bundle handler for the files in dir. iconPath is the
// SVG served as favicon.svg.
func NewBundle(publicPath, dir, iconPath string, logger *zap.Logger) (*Bundle, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("static dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("static dir %s is not a directory", dir)
	}
	if _, err := os.Stat(iconPath); err != nil {
		return nil, fmt.Errorf("favicon: %w", err)
	}

	return &Bundle{
		publicPath: publicPath,
		dir:        dir,
		iconPath:   iconPath,
		logger:     logger.Named("bundle"),
	}, nil
}

// FaviconLink is the tag injected into index.html.
func (b *Bundle) FaviconLink() string {
	return fmt.Sprintf(`<link rel="icon" type="image/svg+xml" href="%s%s">`, b.publicPath, faviconFile)
}

func (b *Bundle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		model.WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	if r.URL.Path+"/" == b.publicPath {
		http.Redirect(w, r, b.publicPath, http.StatusMovedPermanently)
		return
	}
	if !strings.HasPrefix(r.URL.Path, b.publicPath) {
		model.WriteError(w, http.StatusNotFound, "NOT_FOUND", "not found")
		return
	}

	rel := strings.TrimPrefix(path.Clean("/"+strings.TrimPrefix(r.URL.Path, b.publicPath)), "/")
	switch rel {
	case "", indexFile:
		b.serveIndex(w, r)
		return
	case faviconFile:
		w.Header().Set("Content-Type", "image/svg+xml")
		http.ServeFile(w, r, b.iconPath)
		return
	}

	file := filepath.Join(b.dir, filepath.FromSlash(rel))
	if info, err := os.Stat(file); err == nil && info.Mode().IsRegular() {
		http.ServeFile(w, r, file)
		return
	}
	b.serveIndex(w, r)
}

func (b *Bundle) serveIndex(w http.ResponseWriter, r *http.Request) {
	raw, err := os.ReadFile(filepath.Join(b.dir, indexFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			model.WriteError(w, http.StatusNotFound, "NOT_FOUND", "bundle has no index.html")
			return
		}
		b.logger.Error("failed to read index.html", zap.Error(err))
		model.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to read bundle")
		return
	}

	page := InjectFavicon(raw, b.FaviconLink())
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, indexFile, time.Time{}, bytes.NewReader(page))
}

// InjectFavicon inserts link before </head>, or at the start of the document
// when there is no head.
func InjectFavicon(page []byte, link string) []byte {
	i := bytes.Index(bytes.ToLower(page), []byte("</head>"))
	if i < 0 {
		return append([]byte(link), page...)
	}
	out := make([]byte, 0, len(page)+len(link))
	out = append(out, page[:i]...)
	out = append(out, link...)
	return append(out, page[i:]...)
}
