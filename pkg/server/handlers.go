package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/joyent/electric-moray/pkg/moray"
	"github.com/joyent/electric-moray/pkg/storage"
)

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("PUT /buckets/{bucket}", s.handleCreateBucket)
	mux.HandleFunc("DELETE /buckets/{bucket}", s.handleDeleteBucket)

	mux.HandleFunc("GET /buckets/{bucket}/objects/{key...}", s.handleGetObject)
	mux.HandleFunc("PUT /buckets/{bucket}/objects/{key...}", s.handlePutObject)
	mux.HandleFunc("DELETE /buckets/{bucket}/objects/{key...}", s.handleDelObject)

	mux.HandleFunc("POST /batch", s.handleBatch)

	return mux
}

// withRequestID tags every request with an id for log correlation.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		log.Printf("[server] %s %s %s", reqID, r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// errorBody is the JSON error envelope. Name carries the error taxonomy so
// clients can dispatch without string-matching messages.
type errorBody struct {
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	name := "InternalError"
	status := http.StatusInternalServerError

	var (
		validationErr *moray.ValidationError
		constraintErr *storage.ConstraintViolationError
		etagErr       *storage.EtagConflictError
		triggerErr    *moray.TriggerError
	)
	switch {
	case errors.As(err, &validationErr):
		name, status = "ValidationError", http.StatusBadRequest
	case errors.As(err, &constraintErr):
		name, status = "ConstraintViolationError", http.StatusConflict
	case errors.As(err, &etagErr):
		name, status = "EtagConflictError", http.StatusConflict
	case errors.As(err, &triggerErr):
		name, status = "TriggerError", http.StatusInternalServerError
	case errors.Is(err, moray.ErrObjectNotFound):
		name, status = "ObjectNotFoundError", http.StatusNotFound
	case errors.Is(err, moray.ErrBucketNotFound):
		name, status = "BucketNotFoundError", http.StatusNotFound
	case errors.Is(err, moray.ErrBucketExists):
		name, status = "BucketConflictError", http.StatusConflict
	}

	var body errorBody
	body.Error.Name = name
	body.Error.Message = err.Error()
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] encoding response: %v", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, &moray.ValidationError{Message: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

type createBucketBody struct {
	Index     map[string]moray.IndexField `json:"index,omitempty"`
	Transform string                      `json:"transform,omitempty"`
	Options   moray.BucketOptions         `json:"options,omitempty"`
}

func (s *Server) handleCreateBucket(w http.ResponseWriter, r *http.Request) {
	var body createBucketBody
	if !decodeBody(w, r, &body) {
		return
	}

	schema := &moray.BucketSchema{
		Index:     body.Index,
		Transform: body.Transform,
		Options:   body.Options,
	}
	if err := s.db.CreateBucket(r.Context(), r.PathValue("bucket"), schema); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteBucket(w http.ResponseWriter, r *http.Request) {
	if err := s.db.DeleteBucket(r.Context(), r.PathValue("bucket")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	obj, err := s.db.GetObject(r.Context(), r.PathValue("bucket"), r.PathValue("key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

type putObjectBody struct {
	Value moray.Document `json:"value"`
	Etag  string         `json:"etag,omitempty"`
}

type putObjectResponse struct {
	Etag string `json:"etag"`
}

func (s *Server) handlePutObject(w http.ResponseWriter, r *http.Request) {
	var body putObjectBody
	if !decodeBody(w, r, &body) {
		return
	}

	etag, err := s.db.PutObject(r.Context(), r.PathValue("bucket"), r.PathValue("key"),
		body.Value, moray.PutOptions{ExpectedEtag: body.Etag})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, putObjectResponse{Etag: etag})
}

func (s *Server) handleDelObject(w http.ResponseWriter, r *http.Request) {
	if err := s.db.DelObject(r.Context(), r.PathValue("bucket"), r.PathValue("key")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type batchBody struct {
	Requests []moray.BatchRequest `json:"requests"`
}

type batchResponse struct {
	Etags []moray.BatchResultEntry `json:"etags"`

	// PostError reports a post-trigger failure. The batch itself is
	// durable when this is set.
	PostError string `json:"postError,omitempty"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var body batchBody
	if !decodeBody(w, r, &body) {
		return
	}

	result, err := s.db.Batch(r.Context(), body.Requests)
	if err != nil && result == nil {
		writeError(w, err)
		return
	}

	resp := batchResponse{Etags: result.Etags}
	if err != nil {
		// Post-trigger failures leave the batch durable; report them
		// alongside the result instead of discarding it.
		log.Printf("[server] batch post-trigger failure: %v", err)
		resp.PostError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
