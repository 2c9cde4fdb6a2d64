package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"blobdrop/internal/keys"
	"blobdrop/internal/store"
)

// readChunkSize is the largest slice handed over by the body reader.
const readChunkSize = 32 * 1024

// uploadState is the state of one upload session. Every state but
// stateReceiving is terminal.
type uploadState int

const (
	stateReceiving uploadState = iota
	stateCompleted
	stateTooLarge
	stateTimedOut
	stateAborted
	stateStreamError
)

func (s uploadState) String() string {
	switch s {
	case stateReceiving:
		return "receiving"
	case stateCompleted:
		return "completed"
	case stateTooLarge:
		return "too_large"
	case stateTimedOut:
		return "timed_out"
	case stateAborted:
		return "aborted"
	case stateStreamError:
		return "stream_error"
	default:
		return "unknown"
	}
}

// uploadError is the JSON body of 408 and 413 responses.
type uploadError struct {
	Code    string `json:"code"`
	Error   string `json:"error"`
	Size    int64  `json:"size,omitempty"`
	Limit   int64  `json:"limit,omitempty"`
	Timeout int64  `json:"timeout,omitempty"` // milliseconds
}

type chunk struct {
	data []byte
	err  error
}

// uploadSession tracks one in-flight upload. It is only touched by the
// handler goroutine; the body reader talks to it through a channel.
type uploadSession struct {
	state       uploadState
	chunks      [][]byte
	size        int64
	maxSize     int64
	timeout     time.Duration
	contentType string
	started     time.Time

	timer   *time.Timer
	stop    chan struct{}
	release func() // unblocks a body read stuck on a silent client
}

func newUploadSession(maxSize int64, timeout time.Duration, contentType string) *uploadSession {
	return &uploadSession{
		state:       stateReceiving,
		maxSize:     maxSize,
		timeout:     timeout,
		contentType: contentType,
		started:     time.Now(),
		stop:        make(chan struct{}),
	}
}

// transition moves the session into a terminal state and releases its
// resources. It returns false if the session had already ended, in which
// case the caller must not touch the response.
func (u *uploadSession) transition(to uploadState) bool {
	if u.state != stateReceiving {
		return false
	}
	u.state = to

	if u.timer != nil {
		u.timer.Stop()
	}
	close(u.stop)
	if to != stateCompleted {
		u.chunks = nil
		if u.release != nil {
			u.release()
		}
	}
	return true
}

// add appends a chunk and reports whether the session is still within
// its size limit.
func (u *uploadSession) add(data []byte) bool {
	u.timer.Reset(u.timeout)
	u.size += int64(len(data))
	if u.size > u.maxSize {
		return false
	}
	u.chunks = append(u.chunks, data)
	return true
}

func (u *uploadSession) bytes() []byte {
	return bytes.Join(u.chunks, nil)
}

// readChunks copies body into out until EOF, an error, or stop closes.
func readChunks(body io.Reader, out chan<- chunk, stop <-chan struct{}) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case out <- chunk{data: data}:
			case <-stop:
				return
			}
		}
		if err != nil {
			select {
			case out <- chunk{err: err}:
			case <-stop:
			}
			return
		}
	}
}

// handleUpload streams the request body into a new object. The body must
// stay under MaxSize and never go silent for longer than Timeout.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rid := RequestIDFromContext(ctx)
	sess := newUploadSession(s.cfg.MaxSize, s.cfg.Timeout, contentTypeHint(r))

	if r.ContentLength > s.cfg.MaxSize {
		sess.size = r.ContentLength
		sess.transition(stateTooLarge)
		s.finishUpload(w, rid, sess)
		return
	}

	rc := http.NewResponseController(w)
	sess.release = func() {
		// Not supported by every ResponseWriter; the reader then exits on
		// its next read instead.
		_ = rc.SetReadDeadline(time.Now())
	}

	chunks := make(chan chunk)
	go readChunks(r.Body, chunks, sess.stop)

	sess.timer = time.NewTimer(s.cfg.Timeout)
	defer sess.timer.Stop()

	for sess.state == stateReceiving {
		select {
		case c := <-chunks:
			switch {
			case c.err == nil:
				if !sess.add(c.data) {
					sess.transition(stateTooLarge)
				}
			case errors.Is(c.err, io.EOF):
				sess.transition(stateCompleted)
			case ctx.Err() != nil:
				sess.transition(stateAborted)
			default:
				log.Debug().Err(c.err).Str("service", "ingest").Str("rid", rid).Msg("body_read_failed")
				sess.transition(stateStreamError)
			}
		case <-sess.timer.C:
			sess.transition(stateTimedOut)
		case <-ctx.Done():
			sess.transition(stateAborted)
		}
	}

	s.finishUpload(w, rid, sess)
}

// finishUpload writes the response for a session that reached a terminal
// state. Aborted and failed streams get no response at all.
func (s *Server) finishUpload(w http.ResponseWriter, rid string, sess *uploadSession) {
	elapsed := time.Since(sess.started)
	logger := log.With().Str("service", "ingest").Str("rid", rid).Str("state", sess.state.String()).Int64("size", sess.size).Logger()

	switch sess.state {
	case stateCompleted:
		key, err := keys.New()
		if err != nil {
			logger.Error().Err(err).Msg("key_generation_failed")
			s.metrics.RecordUpload(stateStreamError.String(), 0, elapsed)
			http.Error(w, "500 - internal server error", http.StatusInternalServerError)
			return
		}

		obj := &store.Object{Key: key, Data: sess.bytes(), ContentType: sess.contentType}
		s.store.Insert(obj)
		s.metrics.RecordUpload(sess.state.String(), obj.Size(), elapsed)
		logger.Info().Str("key", key).Str("content_type", obj.ContentType).Dur("duration", elapsed).Msg("upload_stored")

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, key)

	case stateTooLarge:
		s.metrics.RecordUpload(sess.state.String(), 0, elapsed)
		logger.Info().Int64("limit", sess.maxSize).Msg("upload_rejected")
		writeUploadError(w, http.StatusRequestEntityTooLarge, uploadError{
			Code:  "ETOOLARGE",
			Error: "payload too large",
			Size:  sess.size,
			Limit: sess.maxSize,
		})

	case stateTimedOut:
		s.metrics.RecordUpload(sess.state.String(), 0, elapsed)
		logger.Info().Dur("timeout", sess.timeout).Msg("upload_rejected")
		writeUploadError(w, http.StatusRequestTimeout, uploadError{
			Code:    "ETIMEOUT",
			Error:   "upload idle timeout",
			Timeout: sess.timeout.Milliseconds(),
		})

	default:
		s.metrics.RecordUpload(sess.state.String(), 0, elapsed)
		logger.Debug().Msg("upload_abandoned")
		dropConnection(w)
	}
}

// dropConnection closes the client connection without a response. Closing
// it ourselves keeps net/http from draining the rest of the body first.
// Writers that cannot be hijacked fall back to aborting the handler.
func dropConnection(w http.ResponseWriter) {
	if conn, _, err := http.NewResponseController(w).Hijack(); err == nil {
		_ = conn.Close()
		return
	}
	panic(http.ErrAbortHandler)
}

func writeUploadError(w http.ResponseWriter, status int, body uploadError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Connection", "close")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
