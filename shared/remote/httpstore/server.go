package httpstore

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/dfryer1193/readshelf/shared/remote"
)

const (
	apiKeyHeader = "X-API-Key"

	maxDocumentBytes = 1 << 20
	maxBlobBytes     = 32 << 20
)

var errVersionMismatch = errors.New("version mismatch")

// Store is what the server exposes: documents plus readable blobs.
type Store interface {
	remote.DocumentStore
	remote.BlobStore
	remote.BlobReader
}

// Server serves a Store over the JSON protocol spoken by Client.
type Server struct {
	store  Store
	apiKey string
}

// NewServer wraps store. An empty apiKey disables authentication.
func NewServer(store Store, apiKey string) *Server {
	return &Server{store: store, apiKey: apiKey}
}

// Handler returns the chi router for the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// blobs are fetched by image loaders that do not carry the key
	r.Get("/v1/blobs/*", s.getBlob)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Get("/v1/docs/{collection}/{id}", s.getDocument)
		r.Put("/v1/docs/{collection}/{id}", s.putDocument)
		r.Post("/v1/query/{collection}", s.query)
		r.Put("/v1/blobs/*", s.putBlob)
	})

	return r
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(apiKeyHeader)), []byte(s.apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func refFrom(r *http.Request) remote.Ref {
	return remote.Ref{Collection: chi.URLParam(r, "collection"), ID: chi.URLParam(r, "id")}
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.Get(r.Context(), refFrom(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("ETag", etag(doc.Version))
	writeJSON(w, http.StatusOK, doc)
}

// putDocument upserts the body as the document data. With If-Match the write
// only happens if the stored version matches; "0" means the document must not
// exist yet.
func (s *Server) putDocument(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	if len(body) > maxDocumentBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "document too large")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "body is not valid JSON")
		return
	}
	data := json.RawMessage(body)
	ref := refFrom(r)

	var doc *remote.Document
	if match := r.Header.Get("If-Match"); match != "" {
		want, perr := parseETag(match)
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		doc, err = s.store.RunAtomicUpdate(r.Context(), ref, func(cur *remote.Document) (any, error) {
			var have int64
			if cur != nil {
				have = cur.Version
			}
			if have != want {
				return nil, errVersionMismatch
			}
			return data, nil
		})
	} else {
		doc, err = s.store.Set(r.Context(), ref, data)
	}
	if errors.Is(err, errVersionMismatch) {
		writeError(w, http.StatusPreconditionFailed, err.Error())
		return
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}

	w.Header().Set("ETag", etag(doc.Version))
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	var q remote.Query
	if err := json.NewDecoder(io.LimitReader(r.Body, maxDocumentBytes)).Decode(&q); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid query")
		return
	}
	q.Collection = chi.URLParam(r, "collection")

	docs, err := s.store.Query(r.Context(), q)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if docs == nil {
		docs = []*remote.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

type uploadResponse struct {
	URL string `json:"url"`
}

func (s *Server) putBlob(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBlobBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	if len(data) > maxBlobBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "blob too large")
		return
	}

	u, err := s.store.Upload(r.Context(), data, path)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{URL: u})
}

func (s *Server) getBlob(w http.ResponseWriter, r *http.Request) {
	data, err := s.store.ReadBlob(r.Context(), chi.URLParam(r, "*"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Debug().Err(err).Msg("Failed to write blob response")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, remote.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, remote.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Msg("Remote store request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func etag(version int64) string {
	return `"` + strconv.FormatInt(version, 10) + `"`
}

func parseETag(s string) (int64, error) {
	v, err := strconv.ParseInt(strings.Trim(strings.TrimPrefix(s, "W/"), `"`), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid If-Match %q", s)
	}
	return v, nil
}
