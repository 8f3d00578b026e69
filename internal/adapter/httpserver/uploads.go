package httpserver

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/pagebroker/internal/adapter/observability"
	"github.com/fairyhunter13/pagebroker/internal/domain"
)

func (s *Server) maxUploadBytes() int64 {
	return s.Cfg.MaxUploadMB * 1024 * 1024
}

// readLimitedBody drains the request body under the upload cap. Oversized
// bodies answer 413 directly.
func (s *Server) readLimitedBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes())
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSON(w, http.StatusRequestEntityTooLarge, envelope{
				Status:  http.StatusRequestEntityTooLarge,
				Code:    "PAYLOAD_TOO_LARGE",
				Detail:  "payload too large",
				Details: map[string]int64{"max_mb": s.Cfg.MaxUploadMB},
			})
			return nil, false
		}
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
		return nil, false
	}
	return data, true
}

// readUploadPayload accepts either a multipart form with a "file" field or a
// raw body, both under the upload cap. It writes the error response itself
// when the second return is false.
func (s *Server) readUploadPayload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
		return s.readLimitedBody(w, r)
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes())
	if err := r.ParseMultipartForm(s.maxUploadBytes()); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
		return nil, false
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: file field required", domain.ErrInvalidArgument), map[string]string{"field": "file"})
		return nil, false
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
		return nil, false
	}
	return data, true
}

// UploadArtifactHandler ingests one artifact for an image slot. The kind path
// segment selects the slot: image, alto or page.
func (s *Server) UploadArtifactHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFrom(r)
		id := chi.URLParam(r, "id")
		imageName := chi.URLParam(r, "name")
		kind := domain.ArtifactKind(chi.URLParam(r, "kind"))
		switch kind {
		case domain.ArtifactImage, domain.ArtifactAlto, domain.ArtifactPage:
		default:
			writeError(w, r, fmt.Errorf("%w: unknown artifact kind %q", domain.ErrInvalidArgument, kind), nil)
			return
		}
		data, ok := s.readUploadPayload(w, r)
		if !ok {
			return
		}
		job, promoted, err := s.Uploads.UploadArtifact(r.Context(), caller, id, imageName, kind, data)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if promoted {
			observability.JobsQueuedTotal.Inc()
		}
		writeData(w, http.StatusOK, "", "artifact stored", map[string]any{
			"job":      jobViewFor(caller, job, nil),
			"promoted": promoted,
		})
	}
}

// UploadMetadataHandler ingests the job-level metadata document.
func (s *Server) UploadMetadataHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFrom(r)
		data, ok := s.readLimitedBody(w, r)
		if !ok {
			return
		}
		job, promoted, err := s.Uploads.UploadMetadata(r.Context(), caller, chi.URLParam(r, "id"), data)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if promoted {
			observability.JobsQueuedTotal.Inc()
		}
		writeData(w, http.StatusOK, "", "metadata stored", map[string]any{
			"job":      jobViewFor(caller, job, nil),
			"promoted": promoted,
		})
	}
}

// UploadResultHandler stores the result archive of a processing job. Accepts
// either a raw ZIP body or a multipart form with a "file" field.
func (s *Server) UploadResultHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFrom(r)
		id := chi.URLParam(r, "id")
		data, ok := s.readUploadPayload(w, r)
		if !ok {
			return
		}

		size, err := s.Uploads.UploadResult(r.Context(), caller, id, data)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeData(w, http.StatusCreated, "", "result stored", map[string]any{"job_id": id, "size": size})
	}
}

// FetchResultHandler streams the result archive of a done job.
func (s *Server) FetchResultHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFrom(r)
		id := chi.URLParam(r, "id")
		rc, size, err := s.Uploads.FetchResult(r.Context(), caller, id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		defer func() { _ = rc.Close() }()
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.zip"`)
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, rc); err != nil {
			LoggerFrom(r).Error("result stream aborted", "job_id", id, "error", err)
		}
	}
}
