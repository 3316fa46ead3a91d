// Package publish pushes finished clips to the Meta Graph API as a paused ad
// creative. Sandbox mode, the default, fabricates deterministic identifiers
// without calling the API so the full pipeline can run against test
// credentials.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"adforge/internal/domain"
	"adforge/internal/infra"
)

// Options configures the Graph API client.
type Options struct {
	AccessToken      string
	AdAccountID      string
	PageID           string
	InstagramActorID string
	Sandbox          bool
	BaseURL          string
	HTTPClient       *http.Client
	Logger           *infra.Logger
}

// Client talks to the Meta Graph API.
type Client struct {
	accessToken      string
	adAccountID      string
	pageID           string
	instagramActorID string
	sandbox          bool
	baseURL          string
	httpClient       *http.Client
	logger           *infra.Logger
}

// Video is one clip to attach to the creative.
type Video struct {
	Label string
	Name  string
	Data  []byte
}

// UploadedVideo records the media library id assigned to a clip.
type UploadedVideo struct {
	Label   string `json:"label"`
	MediaID string `json:"media_id"`
}

// CreativeResult is the outcome of creative creation.
type CreativeResult struct {
	CreativeID  string            `json:"creative_id"`
	Videos      []UploadedVideo   `json:"uploaded_videos"`
	PreviewURLs map[string]string `json:"preview_urls"`
	Sandbox     bool              `json:"sandbox"`
}

type graphIDResponse struct {
	ID    string `json:"id"`
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

type graphPreviewsResponse struct {
	Data []struct {
		Body string `json:"body"`
	} `json:"data"`
}

// NewClient constructs a Graph API client with sane defaults.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://graph.facebook.com/v18.0"
	}

	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	return &Client{
		accessToken:      strings.TrimSpace(opts.AccessToken),
		adAccountID:      opts.AdAccountID,
		pageID:           opts.PageID,
		instagramActorID: opts.InstagramActorID,
		sandbox:          opts.Sandbox,
		baseURL:          baseURL,
		httpClient:       httpClient,
		logger:           logger,
	}
}

// CreateAdCreative uploads the clips and assembles one paused ad creative
// around the feed clip.
func (c *Client) CreateAdCreative(ctx context.Context, videos []Video, product domain.Product) (*CreativeResult, error) {
	if len(videos) == 0 {
		return nil, fmt.Errorf("publish: no videos to upload")
	}

	if c.sandbox {
		return c.sandboxCreative(videos, product), nil
	}
	if c.accessToken == "" {
		return nil, fmt.Errorf("publish: access token required outside sandbox mode")
	}

	uploaded := make([]UploadedVideo, 0, len(videos))
	for _, video := range videos {
		mediaID, err := c.uploadVideo(ctx, video)
		if err != nil {
			return nil, fmt.Errorf("publish: upload %s clip: %w", video.Label, err)
		}
		uploaded = append(uploaded, UploadedVideo{Label: video.Label, MediaID: mediaID})
	}

	creativeID, err := c.createCreative(ctx, uploaded, product)
	if err != nil {
		return nil, fmt.Errorf("publish: create creative: %w", err)
	}

	previews, err := c.previewURLs(ctx, creativeID)
	if err != nil {
		c.logger.Warn().Err(err).Str("creative_id", creativeID).Msg("publish: preview fetch failed; using canonical urls")
		previews = fallbackPreviews(creativeID)
	}

	return &CreativeResult{
		CreativeID:  creativeID,
		Videos:      uploaded,
		PreviewURLs: previews,
	}, nil
}

func (c *Client) sandboxCreative(videos []Video, product domain.Product) *CreativeResult {
	creativeID := fmt.Sprintf("sandbox_creative_%d", stableHash(product.Name)%100000)
	uploaded := make([]UploadedVideo, 0, len(videos))
	for _, video := range videos {
		uploaded = append(uploaded, UploadedVideo{
			Label:   video.Label,
			MediaID: fmt.Sprintf("mock_media_%d", stableHash(video.Label)%10000),
		})
	}
	c.logger.Info().Str("creative_id", creativeID).Msg("publish: created sandbox creative")
	return &CreativeResult{
		CreativeID: creativeID,
		Videos:     uploaded,
		PreviewURLs: map[string]string{
			"feed":  fmt.Sprintf("https://facebook.com/ads/preview/%s/feed", creativeID),
			"story": fmt.Sprintf("https://facebook.com/ads/preview/%s/story", creativeID),
		},
		Sandbox: true,
	}
}

func (c *Client) uploadVideo(ctx context.Context, video Video) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", video.Name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(video.Data); err != nil {
		return "", err
	}
	if err := writer.WriteField("access_token", c.accessToken); err != nil {
		return "", err
	}
	if err := writer.WriteField("name", fmt.Sprintf("AI Generated Video - %s", video.Label)); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/%s/advideos", c.baseURL, c.adAccountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var decoded graphIDResponse
	if err := c.do(req, &decoded); err != nil {
		return "", err
	}
	return decoded.ID, nil
}

func (c *Client) createCreative(ctx context.Context, uploaded []UploadedVideo, product domain.Product) (string, error) {
	// The feed clip leads the creative; the rest ride along in the media
	// library for per-placement delivery.
	primary := uploaded[0]
	for _, video := range uploaded {
		if video.Label == "feed" {
			primary = video
			break
		}
	}

	payload := map[string]any{
		"name":         fmt.Sprintf("AI Video Ad - %s", product.Name),
		"access_token": c.accessToken,
		"object_story_spec": map[string]any{
			"page_id": c.pageID,
			"video_data": map[string]any{
				"video_id": primary.MediaID,
				"title":    product.Name,
				"message":  product.Description,
				"call_to_action": map[string]any{
					"type": "SHOP_NOW",
					"value": map[string]any{
						"link":       product.URL,
						"link_title": "Shop Now",
					},
				},
			},
		},
		"degrees_of_freedom_spec": map[string]any{
			"creative_features_spec": map[string]any{
				"standard_enhancements": map[string]any{
					"enroll_status": "OPT_IN",
				},
			},
		},
	}
	if c.instagramActorID != "" {
		payload["instagram_actor_id"] = c.instagramActorID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/%s/adcreatives", c.baseURL, c.adAccountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var decoded graphIDResponse
	if err := c.do(req, &decoded); err != nil {
		return "", err
	}
	return decoded.ID, nil
}

func (c *Client) previewURLs(ctx context.Context, creativeID string) (map[string]string, error) {
	endpoint := fmt.Sprintf("%s/%s/previews?%s", c.baseURL, creativeID, url.Values{
		"access_token": {c.accessToken},
		"ad_format":    {"DESKTOP_FEED_STANDARD"},
	}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var decoded graphPreviewsResponse
	if err := c.do(req, &decoded); err != nil {
		return nil, err
	}
	if len(decoded.Data) == 0 {
		return nil, fmt.Errorf("publish: previews response empty")
	}
	return map[string]string{
		"feed":   decoded.Data[0].Body,
		"mobile": decoded.Data[0].Body,
	}, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var graphErr graphIDResponse
		if json.Unmarshal(raw, &graphErr) == nil && graphErr.Error.Message != "" {
			return fmt.Errorf("graph api status %d: %s", resp.StatusCode, graphErr.Error.Message)
		}
		return fmt.Errorf("graph api status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return json.Unmarshal(raw, out)
}

func fallbackPreviews(creativeID string) map[string]string {
	return map[string]string{
		"feed":   fmt.Sprintf("https://facebook.com/ads/preview/%s", creativeID),
		"mobile": fmt.Sprintf("https://facebook.com/ads/preview/%s", creativeID),
	}
}

func stableHash(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}
