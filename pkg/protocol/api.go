// Package protocol defines the API request/response types.
package protocol

import "time"

// Entry type strings used on the wire.
const (
	TypeFile      = "file"
	TypeDirectory = "directory"
)

// DirEntry is one entry of a directory listing. Extend is an opaque token
// minted by the server; clients pass it back verbatim on file and stat
// requests for the entry.
type DirEntry struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Extend string `json:"extend,omitempty"`
}

// DirResponse is returned by GET /api/v1/dir?path=
type DirResponse struct {
	Path    string     `json:"path"`
	Entries []DirEntry `json:"entries"`
}

// StatResponse is returned by GET /api/v1/stat?path=
type StatResponse struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// LoginRequest is the body for POST /login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned by POST /login
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status    string `json:"status"`
	UptimeSec int64  `json:"uptime_sec"`
}
