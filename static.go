package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// staticSite serves a built single-page frontend from a directory.
type staticSite struct {
	fsys       fs.FS
	fileServer http.Handler
	index      []byte
	indexETag  string
	modTime    time.Time
}

func newStaticSite(dir string) (*staticSite, error) {
	fsys := os.DirFS(dir)
	index, err := fs.ReadFile(fsys, "index.html")
	if err != nil {
		return nil, err
	}
	modTime := time.Now()
	if fi, err := fs.Stat(fsys, "index.html"); err == nil {
		modTime = fi.ModTime()
	}
	h := sha256.Sum256(index)
	return &staticSite{
		fsys:       fsys,
		fileServer: http.FileServer(http.FS(fsys)),
		index:      index,
		indexETag:  `W/"` + hex.EncodeToString(h[:8]) + `"`,
		modTime:    modTime,
	}, nil
}

// attachStatic registers static asset middleware when dir holds a built frontend:
//  1. Intercepts GET/HEAD requests not under /api
//  2. If a static file matches, serve it directly and Abort
//  3. If no match and path has no '.' and Accept includes text/html, serve index.html
//  4. otherwise pass through
func attachStatic(engine *gin.Engine, dir string, logger *slog.Logger) {
	if dir == "" {
		return
	}
	site, err := newStaticSite(dir)
	if err != nil {
		logger.Warn("Static frontend disabled", "dir", dir, "error", err)
		return
	}
	logger.Info("Serving static frontend", "dir", dir)
	engine.Use(site.middleware)
}

func (s *staticSite) middleware(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		return
	}
	p := c.Request.URL.Path
	// Let API + websocket routes fall through.
	if strings.HasPrefix(p, "/api") || p == "/healthz" {
		return
	}
	trimmed := strings.TrimPrefix(p, "/")
	if trimmed == "" {
		s.serveIndex(c)
		return
	}
	if fi, err := fs.Stat(s.fsys, trimmed); err == nil {
		if fi.IsDir() {
			s.serveIndex(c)
			return
		}
		s.fileServer.ServeHTTP(c.Writer, c.Request)
		c.Abort()
		return
	}

	// SPA fallback: serve index.html for client-side routes like /editor/<id>.
	if !strings.Contains(trimmed, ".") && acceptHTML(c.Request.Header.Get("Accept")) {
		s.serveIndex(c)
	}
}

func (s *staticSite) serveIndex(c *gin.Context) {
	if c.Request.Header.Get("If-None-Match") == s.indexETag {
		c.Status(http.StatusNotModified)
		c.Abort()
		return
	}
	c.Header("ETag", s.indexETag)
	c.Header("Cache-Control", "no-cache")
	c.Header("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(c.Writer, c.Request, "index.html", s.modTime, bytes.NewReader(s.index))
	c.Abort()
}

// acceptHTML determines if the given accept header string indicates
// that the client accepts HTML content.
func acceptHTML(accept string) bool {
	// Treat missing Accept as HTML navigation.
	if accept == "" {
		return true
	}
	for _, part := range strings.Split(accept, ",") {
		p := strings.TrimSpace(strings.ToLower(part))
		if strings.HasPrefix(p, "text/html") || strings.HasPrefix(p, "application/xhtml+xml") {
			return true
		}
	}
	return false
}
