package server

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"charchat/pkg/provider"
)

func (s *Server) handleTable(w http.ResponseWriter, r *http.Request, user provider.User) {
	table, err := url.PathUnescape(strings.TrimPrefix(r.URL.EscapedPath(), "/rest/v1/"))
	if err != nil || table == "" || strings.Contains(table, "/") {
		writeError(w, http.StatusNotFound, provider.CodeUnknownTable, "unknown table")
		return
	}
	switch r.Method {
	case http.MethodGet:
		q, err := parseQuery(r.URL.Query())
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		rows, err := s.app.Select(r.Context(), user, table, q)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
	case http.MethodPost:
		rows, err := decodeRows(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		if preferMerge(r.Header.Get("Prefer")) {
			err = s.app.Upsert(r.Context(), user, table, rows, r.URL.Query().Get("on_conflict"))
		} else {
			err = s.app.Insert(r.Context(), user, table, rows)
		}
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	case http.MethodDelete:
		filters, err := parseFilters(r.URL.Query())
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		if err := s.app.Delete(r.Context(), user, table, filters); err != nil {
			writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user provider.User) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	bucket, path, ok := splitObjectPath(r.URL.EscapedPath(), "/storage/v1/object/")
	if !ok {
		writeError(w, http.StatusBadRequest, provider.CodeValidation, "invalid object path")
		return
	}
	body := http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	obj, err := s.app.UploadObject(r.Context(), user, bucket, path, r.Header.Get("Content-Type"), body, r.ContentLength)
	if err != nil {
		s.audit(r, "provider.upload", "fail", "user_id", user.ID, "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": obj.Key, "url": obj.URL})
}

func (s *Server) handlePublicObject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w)
		return
	}
	bucket, path, ok := splitObjectPath(r.URL.EscapedPath(), "/storage/v1/object/public/")
	if !ok {
		writeError(w, http.StatusNotFound, provider.CodeNotFound, "object not found")
		return
	}
	rc, info, err := s.app.OpenObject(r.Context(), bucket, path)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	defer rc.Close()
	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if info.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		s.audit(r, "provider.download", "fail", "reason", err.Error())
	}
}

// splitObjectPath returns the unescaped bucket and object path following
// prefix.
func splitObjectPath(escaped, prefix string) (string, string, bool) {
	rest, ok := strings.CutPrefix(escaped, prefix)
	if !ok {
		return "", "", false
	}
	rawBucket, rawPath, ok := strings.Cut(rest, "/")
	if !ok || rawBucket == "" || rawPath == "" {
		return "", "", false
	}
	bucket, err := url.PathUnescape(rawBucket)
	if err != nil {
		return "", "", false
	}
	segments := strings.Split(rawPath, "/")
	for i, seg := range segments {
		unescaped, err := url.PathUnescape(seg)
		if err != nil || strings.Contains(unescaped, "/") {
			return "", "", false
		}
		segments[i] = unescaped
	}
	return bucket, strings.Join(segments, "/"), true
}
