package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"adforge/internal/domain"
	"adforge/internal/stage"
)

// BlobStore is the storage surface the provider needs.
type BlobStore interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// Provider implements the optional publish stage.
type Provider struct {
	client *Client
	store  BlobStore
}

func NewProvider(client *Client, store BlobStore) *Provider {
	return &Provider{client: client, store: store}
}

func (p *Provider) Kind() domain.StageKind { return domain.StagePublish }

func (p *Provider) RequiresGPU() bool { return false }

// Execute uploads every overlaid clip and stores the resulting creative
// record as the job's ad_creative artifact.
func (p *Provider) Execute(ctx context.Context, sc stage.Context, prior []domain.Artifact) ([]domain.Artifact, error) {
	var videos []Video
	for _, art := range prior {
		if art.Kind != domain.ArtifactOverlaidVideo {
			continue
		}
		data, err := p.store.Read(ctx, art.StorageKey)
		if err != nil {
			return nil, fmt.Errorf("publish: read %s clip: %w", art.Label, err)
		}
		videos = append(videos, Video{
			Label: art.Label,
			Name:  fmt.Sprintf("%s_%s.mp4", sc.JobID, art.Label),
			Data:  data,
		})
	}
	if len(videos) == 0 {
		return nil, fmt.Errorf("publish: no overlaid clips to publish")
	}

	result, err := p.client.CreateAdCreative(ctx, videos, sc.Product)
	if err != nil {
		return nil, err
	}

	record, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("publish: encode creative record: %w", err)
	}
	key := fmt.Sprintf("jobs/%s/creative.json", sc.JobID)
	if _, err := p.store.Write(ctx, key, record); err != nil {
		return nil, fmt.Errorf("publish: store creative record: %w", err)
	}

	return []domain.Artifact{{
		Kind:       domain.ArtifactAdCreative,
		Label:      result.CreativeID,
		StorageKey: key,
		MIME:       "application/json",
		Bytes:      int64(len(record)),
		CreatedAt:  time.Now().UTC(),
	}}, nil
}

var _ stage.Executor = (*Provider)(nil)
