package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"dm-go/internal/dm"
	"dm-go/internal/model"
	"dm-go/internal/staging"
)

type fileVersionResponse struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	Version      int64     `json:"version"`
	Digest       string    `json:"digest"`
	OriginalName string    `json:"original_name"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
}

func newFileVersionResponse(rec *model.FileVersion) fileVersionResponse {
	return fileVersionResponse{
		ID:           rec.ID,
		Path:         rec.LogicalPath,
		Version:      rec.VersionNumber,
		Digest:       rec.Digest,
		OriginalName: rec.OriginalName,
		Size:         rec.Size,
		CreatedAt:    rec.CreatedAt,
	}
}

type visibleFileResponse struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Version   int64     `json:"version"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Digest string `json:"digest,omitempty"`
}

type grantRequest struct {
	UserID string `json:"user_id"`
}

type directoryRequest struct {
	Parent string `json:"parent"`
	Name   string `json:"name"`
}

type directoryResponse struct {
	Path string `json:"path"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps the error taxonomy to a status code. Only the
// taxonomy message reaches the client; everything else is logged.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, dm.ErrInvalidInput):
		status, msg = http.StatusBadRequest, publicMessage(err, dm.ErrInvalidInput)
	case errors.Is(err, dm.ErrInvalidPath):
		status, msg = http.StatusBadRequest, "invalid path"
	case errors.Is(err, dm.ErrInvalidName):
		status, msg = http.StatusBadRequest, "invalid directory name"
	case errors.Is(err, dm.ErrIO):
		status, msg = http.StatusBadRequest, "failed to read upload"
	case errors.Is(err, dm.ErrNotFound):
		status, msg = http.StatusNotFound, publicMessage(err, dm.ErrNotFound)
	case errors.Is(err, dm.ErrAlreadyExists):
		status, msg = http.StatusConflict, "directory already exists"
	case errors.Is(err, staging.ErrFull):
		w.Header().Set("Retry-After", "30")
		status, msg = http.StatusServiceUnavailable, "server is busy, retry later"
	case errors.Is(err, dm.ErrStorageWrite):
		msg = "failed to store file"
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		s.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, status, msg)
}

// publicMessage returns the text following sentinel in err, which the core
// builds from request values only.
func publicMessage(err error, sentinel error) string {
	s := err.Error()
	prefix := sentinel.Error() + ": "
	if i := strings.Index(s, prefix); i >= 0 {
		return s[i+len(prefix):]
	}
	return sentinel.Error()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "OK")
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		writeError(w, http.StatusBadRequest, "expected a multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	logicalPath := r.FormValue("path")
	if logicalPath == "" {
		logicalPath = header.Filename
	}

	res, err := s.svc.Upload(r.Context(), dm.UploadRequest{
		UserID:       userFrom(r),
		LogicalPath:  logicalPath,
		Directory:    r.FormValue("directory"),
		OriginalName: header.Filename,
		Content:      file,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if res.Status == dm.UploadDuplicate {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "file already exists", Digest: res.Digest})
		return
	}
	writeJSON(w, http.StatusCreated, newFileVersionResponse(res.Record))
}

func (s *Server) handleListAll(w http.ResponseWriter, r *http.Request) {
	recs, err := s.svc.ListAll(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]fileVersionResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, newFileVersionResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListOwned(w http.ResponseWriter, r *http.Request) {
	files, err := s.svc.ListOwned(r.Context(), userFrom(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]visibleFileResponse, 0, len(files))
	for _, f := range files {
		out = append(out, visibleFileResponse{
			ID:        f.ID,
			Path:      f.LogicalPath,
			Version:   f.VersionNumber,
			Size:      f.Size,
			CreatedAt: f.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	var version *int64
	if raw := r.URL.Query().Get("version"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "version must be a non-negative integer")
			return
		}
		version = &v
	}

	d, err := s.svc.Download(r.Context(), userFrom(r), mux.Vars(r)["path"], version)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.sendDownload(w, r, d)
}

func (s *Server) handleFileVersion(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.GetFileVersion(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newFileVersionResponse(rec))
}

func (s *Server) handleFileVersionDownload(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.DownloadByID(r.Context(), userFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.sendDownload(w, r, d)
}

func (s *Server) sendDownload(w http.ResponseWriter, r *http.Request, d *dm.Download) {
	defer d.Content.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.Filename}))
	w.Header().Set("Content-Length", strconv.FormatInt(d.Record.Size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, d.Content); err != nil {
		s.logger.Warn("download interrupted", "id", d.Record.ID, "error", err)
	}
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := s.svc.GrantAccess(r.Context(), userFrom(r), req.UserID, mux.Vars(r)["id"]); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateDirectory(w http.ResponseWriter, r *http.Request) {
	var req directoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := s.svc.CreateDirectory(r.Context(), req.Parent, req.Name)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, directoryResponse{Path: created})
}
