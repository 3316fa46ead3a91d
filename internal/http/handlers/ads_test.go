package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"adforge/internal/domain"
	"adforge/internal/governor"
	"adforge/internal/http/handlers"
	"adforge/internal/http/httpapi"
	"adforge/internal/pipeline"
	"adforge/internal/providers/overlay"
	"adforge/internal/providers/publish"
	"adforge/internal/providers/variant"
	"adforge/internal/providers/videosynth"
	"adforge/internal/stage"
	"adforge/internal/storage"
	"adforge/internal/store"
)

type testEnv struct {
	server      *httptest.Server
	coordinator *pipeline.Coordinator
	store       *store.Memory
	files       *storage.FileStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}

	jobs := store.NewMemory()
	coordinator, err := pipeline.New(pipeline.Options{
		Store:    jobs,
		Governor: governor.New(governor.KindGPU, 1),
		Executors: []stage.Executor{
			variant.New(files),
			videosynth.NewProvider(videosynth.NewClient(videosynth.Options{}), files),
			overlay.New(files),
			publish.NewProvider(publish.NewClient(publish.Options{Sandbox: true}), files),
		},
		Logger:       zerolog.New(io.Discard),
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
		LeaseMaxWait: time.Second,
	})
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}

	app := &handlers.App{
		Pipeline:       coordinator,
		Files:          files,
		Logger:         zerolog.New(io.Discard),
		StorageBaseURL: "http://localhost:8080/static",
	}
	router := httpapi.NewRouter(app, httpapi.Options{DefaultLocale: "en"})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testEnv{server: server, coordinator: coordinator, store: jobs, files: files}
}

func submitAd(t *testing.T, env *testEnv, fields map[string]string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("image", "product.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 120, A: 255})
		}
	}
	if err := png.Encode(part, img); err != nil {
		t.Fatalf("encode image: %v", err)
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	resp, err := http.Post(env.server.URL+"/v1/ads", writer.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestSubmitAndStatus(t *testing.T) {
	env := newTestEnv(t)

	resp := submitAd(t, env, map[string]string{
		"product_name":  "Super Kopi",
		"product_price": "15000",
		"product_url":   "https://shop.example.com/kopi",
		"quality":       "fast",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}
	var submitted struct {
		JobID   string `json:"job_id"`
		State   string `json:"state"`
		Quality string `json:"quality"`
	}
	decodeJSON(t, resp, &submitted)
	if submitted.JobID == "" || submitted.State != "queued" || submitted.Quality != "fast" {
		t.Fatalf("submit response = %+v", submitted)
	}

	statusResp, err := http.Get(env.server.URL + "/v1/ads/" + submitted.JobID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if statusResp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", statusResp.StatusCode)
	}
	var snap domain.JobSnapshot
	decodeJSON(t, statusResp, &snap)
	if snap.State != domain.JobStateQueued {
		t.Fatalf("state = %s", snap.State)
	}
}

func TestSubmitValidationErrors(t *testing.T) {
	env := newTestEnv(t)

	resp := submitAd(t, env, map[string]string{"product_price": "10"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = submitAd(t, env, map[string]string{
		"product_name": "Widget",
		"quality":      "ultra",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown quality", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRejectedSubmitLeavesNoUpload(t *testing.T) {
	env := newTestEnv(t)

	resp := submitAd(t, env, map[string]string{"product_price": "10"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	entries, err := os.ReadDir(filepath.Join(env.files.BasePath(), "uploads"))
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read uploads dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("rejected submission left %d upload files", len(entries))
	}
}

func TestSubmitWithoutImage(t *testing.T) {
	env := newTestEnv(t)
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	writer.WriteField("product_name", "Widget")
	writer.Close()

	resp, err := http.Post(env.server.URL+"/v1/ads", writer.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.server.URL + "/v1/ads/does-not-exist")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCancelLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp := submitAd(t, env, map[string]string{"product_name": "Widget"})
	var submitted struct {
		JobID string `json:"job_id"`
	}
	decodeJSON(t, resp, &submitted)

	cancelResp, err := http.Post(env.server.URL+"/v1/ads/"+submitted.JobID+"/cancel", "", nil)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelResp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", cancelResp.StatusCode)
	}
	var snap domain.JobSnapshot
	decodeJSON(t, cancelResp, &snap)
	if snap.State != domain.JobStateCancelled {
		t.Fatalf("state = %s, want cancelled", snap.State)
	}

	again, err := http.Post(env.server.URL+"/v1/ads/"+submitted.JobID+"/cancel", "", nil)
	if err != nil {
		t.Fatalf("cancel again: %v", err)
	}
	defer again.Body.Close()
	if again.StatusCode != http.StatusConflict {
		t.Fatalf("second cancel status = %d, want 409", again.StatusCode)
	}
}

func TestArtifactsAndBundleAfterCompletion(t *testing.T) {
	env := newTestEnv(t)

	resp := submitAd(t, env, map[string]string{
		"product_name":  "Super Kopi",
		"product_price": "15000",
		"product_url":   "https://shop.example.com/kopi",
		"publish":       "true",
	})
	var submitted struct {
		JobID string `json:"job_id"`
	}
	decodeJSON(t, resp, &submitted)

	if err := env.coordinator.Drive(context.Background(), submitted.JobID); err != nil {
		t.Fatalf("drive: %v", err)
	}

	artResp, err := http.Get(env.server.URL + "/v1/ads/" + submitted.JobID + "/artifacts")
	if err != nil {
		t.Fatalf("get artifacts: %v", err)
	}
	var listing struct {
		State string `json:"state"`
		Items []struct {
			Kind string `json:"kind"`
			URL  string `json:"url"`
		} `json:"items"`
	}
	decodeJSON(t, artResp, &listing)
	if listing.State != "completed" {
		t.Fatalf("state = %s", listing.State)
	}
	// 4 variants + 3 raw clips + 3 overlaid clips + 1 creative.
	if len(listing.Items) != 11 {
		t.Fatalf("items = %d, want 11", len(listing.Items))
	}
	for _, item := range listing.Items {
		if item.URL == "" {
			t.Fatalf("artifact %s missing url", item.Kind)
		}
	}

	filtered, err := http.Get(env.server.URL + "/v1/ads/" + submitted.JobID + "/artifacts?kind=image_variant")
	if err != nil {
		t.Fatalf("get filtered artifacts: %v", err)
	}
	var variants struct {
		Items []struct {
			Kind string `json:"kind"`
		} `json:"items"`
	}
	decodeJSON(t, filtered, &variants)
	if len(variants.Items) != 4 {
		t.Fatalf("image variants = %d, want 4", len(variants.Items))
	}

	bundleResp, err := http.Get(env.server.URL + "/v1/ads/" + submitted.JobID + "/bundle")
	if err != nil {
		t.Fatalf("get bundle: %v", err)
	}
	defer bundleResp.Body.Close()
	if bundleResp.StatusCode != http.StatusOK {
		t.Fatalf("bundle status = %d", bundleResp.StatusCode)
	}
	if got := bundleResp.Header.Get("Content-Type"); got != "application/zip" {
		t.Fatalf("bundle content type = %s", got)
	}
	data, err := io.ReadAll(bundleResp.Body)
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("bundle is empty")
	}
}

func TestLocaleHeaderFlowsIntoJob(t *testing.T) {
	env := newTestEnv(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, _ := writer.CreateFormFile("image", "p.png")
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	png.Encode(part, img)
	writer.WriteField("product_name", "Widget")
	writer.Close()

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/v1/ads", &body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Locale", "id")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	var submitted struct {
		JobID string `json:"job_id"`
	}
	decodeJSON(t, resp, &submitted)

	job, err := env.store.Get(context.Background(), submitted.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Input.Locale != "id" {
		t.Fatalf("locale = %q, want id", job.Input.Locale)
	}
}
