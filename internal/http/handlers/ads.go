package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"adforge/internal/domain"
	"adforge/internal/middleware"
	"adforge/pkg/zip"
)

// maxUploadBytes bounds the product image upload.
const maxUploadBytes = 20 << 20

type submitResponse struct {
	JobID   string             `json:"job_id"`
	State   domain.JobState    `json:"state"`
	Quality domain.QualityTier `json:"quality"`
	Publish bool               `json:"publish"`
}

// AdsSubmit accepts a multipart form with the product image and metadata and
// enqueues a generation job.
func (a *App) AdsSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart payload")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "image file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "could not read image upload")
		return
	}
	if len(data) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "image upload is empty")
		return
	}

	sourceKey := fmt.Sprintf("uploads/%s%s", uuid.NewString(), uploadExt(header.Filename))
	if _, err := a.Files.Write(r.Context(), sourceKey, data); err != nil {
		a.Logger.Error().Err(err).Msg("store upload failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to store upload")
		return
	}

	quality := domain.QualityTier(strings.TrimSpace(r.FormValue("quality")))
	locale := strings.TrimSpace(r.FormValue("locale"))
	if locale == "" {
		locale = middleware.LocaleFromContext(r.Context())
	}

	snap, err := a.Pipeline.Submit(r.Context(), domain.SubmissionInput{
		SourceImageKey: sourceKey,
		Product: domain.Product{
			Name:        strings.TrimSpace(r.FormValue("product_name")),
			Price:       strings.TrimSpace(r.FormValue("product_price")),
			URL:         strings.TrimSpace(r.FormValue("product_url")),
			Description: strings.TrimSpace(r.FormValue("product_description")),
		},
		Quality: quality,
		Publish: parseBoolField(r.FormValue("publish")),
		Locale:  locale,
	})
	if err != nil {
		// No job was created, so the stored upload has no owner.
		if rmErr := a.Files.Remove(r.Context(), sourceKey); rmErr != nil {
			a.Logger.Warn().Err(rmErr).Str("storage_key", sourceKey).Msg("orphaned upload cleanup failed")
		}
		if errors.Is(err, domain.ErrInvalidInput) {
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		a.Logger.Error().Err(err).Msg("submit failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue job")
		return
	}

	a.json(w, http.StatusAccepted, submitResponse{
		JobID:   snap.JobID,
		State:   snap.State,
		Quality: snap.Quality,
		Publish: snap.Publish,
	})
}

// AdStatus reports the full job snapshot.
func (a *App) AdStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	snap, err := a.Pipeline.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("status lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	a.json(w, http.StatusOK, snap)
}

// AdCancel requests cancellation of a job.
func (a *App) AdCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	snap, err := a.Pipeline.Cancel(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", "job not found")
		case errors.Is(err, domain.ErrJobFinished):
			a.error(w, http.StatusConflict, "job_finished", err.Error())
		default:
			a.Logger.Error().Err(err).Str("job_id", jobID).Msg("cancel failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to cancel job")
		}
		return
	}
	a.json(w, http.StatusOK, snap)
}

type artifactItem struct {
	Kind   domain.ArtifactKind `json:"kind"`
	Label  string              `json:"label"`
	URL    string              `json:"url"`
	MIME   string              `json:"mime"`
	Bytes  int64               `json:"bytes"`
	Width  int                 `json:"width,omitempty"`
	Height int                 `json:"height,omitempty"`
}

// AdArtifacts lists the job's artifacts with fetchable URLs. The optional
// kind query parameter filters by artifact kind.
func (a *App) AdArtifacts(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	snap, err := a.Pipeline.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("artifact lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}

	kindFilter := domain.ArtifactKind(r.URL.Query().Get("kind"))
	items := make([]artifactItem, 0, len(snap.Artifacts))
	for _, art := range snap.Artifacts {
		if kindFilter != "" && art.Kind != kindFilter {
			continue
		}
		items = append(items, artifactItem{
			Kind:   art.Kind,
			Label:  art.Label,
			URL:    a.artifactURL(art.StorageKey),
			MIME:   art.MIME,
			Bytes:  art.Bytes,
			Width:  art.Width,
			Height: art.Height,
		})
	}
	a.json(w, http.StatusOK, map[string]any{
		"job_id": snap.JobID,
		"state":  snap.State,
		"items":  items,
	})
}

// AdBundle streams every artifact of the job as one zip archive.
func (a *App) AdBundle(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	snap, err := a.Pipeline.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("bundle lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	if len(snap.Artifacts) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "job has no artifacts yet")
		return
	}

	var assets []zip.Asset
	for _, art := range snap.Artifacts {
		data, err := a.Files.Read(r.Context(), art.StorageKey)
		if err != nil {
			a.Logger.Warn().Err(err).Str("storage_key", art.StorageKey).Msg("bundle: artifact file missing")
			continue
		}
		assets = append(assets, zip.Asset{
			Filename: filepath.Base(art.StorageKey),
			MIME:     art.MIME,
			Data:     data,
		})
	}
	if len(assets) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "artifact files unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", jobID+".zip"))
	if err := zip.Archive(w, assets); err != nil {
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("bundle: archive write failed")
	}
}

func uploadExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return ext
	default:
		return ".png"
	}
}

func parseBoolField(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
