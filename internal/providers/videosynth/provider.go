package videosynth

import (
	"context"
	"fmt"
	"time"

	"adforge/internal/domain"
	"adforge/internal/stage"
)

// baseSeed keeps clip generation reproducible across retries so a retried
// stage converges on the same output.
const baseSeed = 42

// Labels lists the placements that get their own clip. Reels reuses the
// story clip downstream because the dimensions match.
func Labels() []string {
	return []string{"feed", "story", "landscape"}
}

// BlobStore is the storage surface the provider needs.
type BlobStore interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// Provider implements the video synthesis stage. It is the only stage that
// holds a GPU lease.
type Provider struct {
	client *Client
	store  BlobStore
}

func NewProvider(client *Client, store BlobStore) *Provider {
	return &Provider{client: client, store: store}
}

func (p *Provider) Kind() domain.StageKind { return domain.StageVideoSynth }

func (p *Provider) RequiresGPU() bool { return true }

// Execute animates one clip per placement from the matching image variant.
func (p *Provider) Execute(ctx context.Context, sc stage.Context, prior []domain.Artifact) ([]domain.Artifact, error) {
	variants := make(map[string]domain.Artifact)
	for _, art := range prior {
		if art.Kind == domain.ArtifactImageVariant {
			variants[art.Label] = art
		}
	}

	labels := Labels()
	artifacts := make([]domain.Artifact, 0, len(labels))
	for i, label := range labels {
		source, ok := variants[label]
		if !ok {
			return nil, fmt.Errorf("videosynth: missing %s image variant", label)
		}
		frame, err := p.store.Read(ctx, source.StorageKey)
		if err != nil {
			return nil, fmt.Errorf("videosynth: read %s variant: %w", label, err)
		}

		clip, err := p.client.Animate(ctx, Request{
			Image:          frame,
			InferenceSteps: sc.Params.InferenceSteps,
			GuidanceScale:  sc.Params.GuidanceScale,
			Width:          sc.Params.Width,
			Height:         sc.Params.Height,
			FrameCount:     sc.Params.FrameCount,
			FPS:            sc.Params.FPS,
			Seed:           baseSeed + int64(i),
			RequestID:      fmt.Sprintf("%s-%s", sc.JobID, label),
		})
		if err != nil {
			return nil, fmt.Errorf("videosynth: animate %s: %w", label, err)
		}

		key := fmt.Sprintf("jobs/%s/videos/raw_%s.mp4", sc.JobID, label)
		if _, err := p.store.Write(ctx, key, clip.Data); err != nil {
			return nil, fmt.Errorf("videosynth: store %s clip: %w", label, err)
		}
		artifacts = append(artifacts, domain.Artifact{
			Kind:       domain.ArtifactRawVideo,
			Label:      label,
			StorageKey: key,
			MIME:       clip.Format,
			Bytes:      int64(len(clip.Data)),
			Width:      sc.Params.Width,
			Height:     sc.Params.Height,
			CreatedAt:  time.Now().UTC(),
		})
	}
	return artifacts, nil
}

var _ stage.Executor = (*Provider)(nil)
