package server

import (
	"net/http"
	"strconv"
	"strings"

	"blobdrop/internal/keys"
)

// handleLookup serves GET and HEAD /<key>. Anything that is not a live key
// gets the same 404 as a rejected request.
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/")
	if !keys.Valid(key) {
		s.metrics.RecordLookup(false, 0)
		writeNotFound(w)
		return
	}

	obj, ok := s.store.Get(key)
	if !ok {
		s.metrics.RecordLookup(false, 0)
		writeNotFound(w)
		return
	}

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size(), 10))
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		s.metrics.RecordLookup(true, 0)
		return
	}
	n, _ := w.Write(obj.Data)
	s.metrics.RecordLookup(true, int64(n))
}
