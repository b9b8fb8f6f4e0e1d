// Package export serves a local directory tree over the slatefs HTTP API.
// The tree is read-only; clients mount it through the remote provider.
package export

import (
	"encoding/json"
	"errors"
	"io"
	iofs "io/fs"
	"net/http"
	"os"
	gopath "path"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/slatefs/slatefs/internal/auth"
	"github.com/slatefs/slatefs/internal/logging"
	"github.com/slatefs/slatefs/internal/metrics"
	"github.com/slatefs/slatefs/pkg/protocol"
)

// Server is the export HTTP server.
type Server struct {
	root    string
	auth    *auth.Auth
	started time.Time
}

// NewServer creates a server exporting the directory at root.
func NewServer(root string, a *auth.Auth) *Server {
	return &Server{root: root, auth: a, started: time.Now()}
}

// Handler returns the routed HTTP handler with logging and metrics
// middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /login", s.auth.HandleLogin)
	mux.Handle("GET /metrics", metrics.Handler())

	api := http.NewServeMux()
	api.HandleFunc("GET /api/v1/dir", s.handleDir)
	api.HandleFunc("GET /api/v1/file", s.handleFile)
	api.HandleFunc("GET /api/v1/stat", s.handleStat)
	mux.Handle("/api/v1/", s.auth.Middleware(api))

	return metrics.Middleware(logging.Middleware(mux))
}

// resolve maps a request path onto the export root. Clean runs on a
// rooted path, so traversal sequences collapse before the join.
func (s *Server) resolve(reqPath string) (rel string, full string) {
	rel = gopath.Clean("/" + reqPath)
	return rel, filepath.Join(s.root, filepath.FromSlash(rel))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, protocol.HealthResponse{
		Status:    "ok",
		UptimeSec: int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleDir(w http.ResponseWriter, r *http.Request) {
	rel, full := s.resolve(r.URL.Query().Get("path"))

	fi, err := os.Stat(full)
	if err != nil {
		s.sendFSError(w, "dir", rel, err)
		return
	}
	if !fi.IsDir() {
		sendError(w, http.StatusBadRequest, "not a directory: "+rel)
		return
	}

	dirents, err := os.ReadDir(full)
	if err != nil {
		s.sendFSError(w, "dir", rel, err)
		return
	}

	resp := protocol.DirResponse{Path: rel, Entries: []protocol.DirEntry{}}
	for _, e := range dirents {
		typ := protocol.TypeFile
		if e.IsDir() {
			typ = protocol.TypeDirectory
		}
		resp.Entries = append(resp.Entries, protocol.DirEntry{
			Name:   e.Name(),
			Type:   typ,
			Extend: gopath.Join(rel, e.Name()),
		})
	}
	sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	rel, full := s.resolveEntry(r)

	f, err := os.Open(full)
	if err != nil {
		metrics.RecordContentServed(0, false)
		s.sendFSError(w, "file", rel, err)
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		metrics.RecordContentServed(0, false)
		s.sendFSError(w, "file", rel, err)
		return
	}
	if fi.IsDir() {
		metrics.RecordContentServed(0, false)
		sendError(w, http.StatusBadRequest, "is a directory: "+rel)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	n, err := io.Copy(w, f)
	if err != nil {
		logging.Warn("content copy aborted", zap.String("path", rel), zap.Error(err))
	}
	metrics.RecordContentServed(n, err == nil)
}

func (s *Server) handleStat(w http.ResponseWriter, r *http.Request) {
	rel, full := s.resolveEntry(r)

	fi, err := os.Stat(full)
	if err != nil {
		s.sendFSError(w, "stat", rel, err)
		return
	}
	sendJSON(w, http.StatusOK, protocol.StatResponse{Path: rel, Size: fi.Size()})
}

// resolveEntry prefers the extend token handed out with the listing, and
// falls back to the path parameter.
func (s *Server) resolveEntry(r *http.Request) (rel, full string) {
	if token := r.URL.Query().Get("extend"); token != "" {
		return s.resolve(token)
	}
	return s.resolve(r.URL.Query().Get("path"))
}

func (s *Server) sendFSError(w http.ResponseWriter, op, rel string, err error) {
	if errors.Is(err, iofs.ErrNotExist) {
		sendError(w, http.StatusNotFound, "not found: "+rel)
		return
	}
	if errors.Is(err, iofs.ErrPermission) {
		sendError(w, http.StatusForbidden, "access denied: "+rel)
		return
	}
	logging.Error("filesystem error", zap.String("op", op), zap.String("path", rel), zap.Error(err))
	sendError(w, http.StatusInternalServerError, err.Error())
}

func sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: message, Code: code})
}
