// Package videosynth animates image variants into short product clips through
// a hosted image-to-video diffusion endpoint. Without credentials the client
// emits deterministic synthetic clips so the rest of the pipeline stays
// exercisable in local and CI environments.
package videosynth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"adforge/internal/infra"
)

// Options configures the inference client.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client calls the image-to-video inference API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

// Request carries one animation call.
type Request struct {
	Image          []byte
	InferenceSteps int
	GuidanceScale  float64
	Width          int
	Height         int
	FrameCount     int
	FPS            int
	Seed           int64
	RequestID      string
}

// Clip is the normalized inference result.
type Clip struct {
	Data   []byte
	Format string
}

type inferenceRequest struct {
	Model string          `json:"model"`
	Image string          `json:"image"`
	Seed  int64           `json:"seed"`
	Cfg   inferenceConfig `json:"config"`
}

type inferenceConfig struct {
	InferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale  float64 `json:"guidance_scale"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	FrameCount     int     `json:"num_frames"`
	FPS            int     `json:"fps"`
}

type inferenceResponse struct {
	Video  string `json:"video"`
	Format string `json:"format"`
	Error  struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient constructs an inference client with sane defaults. A nil HTTP
// client gets a reusable one with a generous timeout; diffusion calls are
// slow.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.inference.example.com/v1"
	}

	model := opts.Model
	if model == "" {
		model = "stable-video-diffusion-img2vid-xt"
	}

	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Animate produces a clip from one source frame. With no API key the result
// is a deterministic synthetic clip derived from the request.
func (c *Client) Animate(ctx context.Context, req Request) (*Clip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if c.apiKey == "" {
		return c.syntheticClip(req), nil
	}

	clip, err := c.remoteAnimate(ctx, req)
	if err != nil {
		return nil, err
	}
	if clip == nil || len(clip.Data) == 0 {
		return c.syntheticClip(req), nil
	}
	return clip, nil
}

func (c *Client) remoteAnimate(ctx context.Context, req Request) (*Clip, error) {
	payload := inferenceRequest{
		Model: c.model,
		Image: base64.StdEncoding.EncodeToString(req.Image),
		Seed:  req.Seed,
		Cfg: inferenceConfig{
			InferenceSteps: req.InferenceSteps,
			GuidanceScale:  req.GuidanceScale,
			Width:          req.Width,
			Height:         req.Height,
			FrameCount:     req.FrameCount,
			FPS:            req.FPS,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("videosynth: marshal request: %w", err)
	}

	endpoint := c.baseURL + "/image-to-video"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("videosynth: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-ID", req.RequestID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("videosynth: call inference api: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 256<<20))
	if err != nil {
		return nil, fmt.Errorf("videosynth: read response: %w", err)
	}

	var decoded inferenceResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("videosynth: decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		message := decoded.Error.Message
		if message == "" {
			message = strings.TrimSpace(string(raw))
		}
		return nil, fmt.Errorf("videosynth: inference api status %d: %s", resp.StatusCode, message)
	}
	if decoded.Video == "" {
		return nil, fmt.Errorf("videosynth: inference api returned no video")
	}

	data, err := base64.StdEncoding.DecodeString(decoded.Video)
	if err != nil {
		return nil, fmt.Errorf("videosynth: decode video payload: %w", err)
	}
	format := decoded.Format
	if format == "" {
		format = "video/mp4"
	}
	return &Clip{Data: data, Format: format}, nil
}

func (c *Client) syntheticClip(req Request) *Clip {
	seed := deterministicSeed(c.model, req.Seed, req.Width, req.Height, req.FrameCount, len(req.Image))
	lines := []string{
		"Synthetic video clip placeholder",
		fmt.Sprintf("Model: %s", c.model),
		fmt.Sprintf("Seed: %s", seed),
		fmt.Sprintf("Frames: %d @ %d fps", req.FrameCount, req.FPS),
		fmt.Sprintf("Resolution: %dx%d", req.Width, req.Height),
	}
	c.logger.Debug().
		Str("model", c.model).
		Str("seed", seed).
		Msg("videosynth: generated synthetic clip")
	return &Clip{
		Data:   []byte(strings.Join(lines, "\n")),
		Format: "video/mp4",
	}
}

func deterministicSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		fmt.Fprintf(hasher, "%v|", part)
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}
