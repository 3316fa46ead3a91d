// Package variant derives the ad image variants from the uploaded product
// photo. Each placement format gets its own crop and scale of the source,
// encoded as JPEG and stored alongside the job's other artifacts.
package variant

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"time"

	_ "image/gif"
	_ "image/png"

	"adforge/internal/domain"
	"adforge/internal/stage"
)

// Format describes one target placement.
type Format struct {
	Label  string
	Width  int
	Height int
}

// Formats lists every placement a job renders, in output order. Reels shares
// the story dimensions but is kept as a distinct placement because the
// publisher targets it separately.
func Formats() []Format {
	return []Format{
		{Label: "feed", Width: 1080, Height: 1080},
		{Label: "story", Width: 1080, Height: 1920},
		{Label: "reels", Width: 1080, Height: 1920},
		{Label: "landscape", Width: 1200, Height: 630},
	}
}

// BlobStore is the storage surface the provider needs.
type BlobStore interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// Provider implements the variant stage.
type Provider struct {
	store BlobStore
}

func New(store BlobStore) *Provider {
	return &Provider{store: store}
}

func (p *Provider) Kind() domain.StageKind { return domain.StageVariant }

func (p *Provider) RequiresGPU() bool { return false }

// Execute decodes the source image and emits one image_variant artifact per
// placement format.
func (p *Provider) Execute(ctx context.Context, sc stage.Context, _ []domain.Artifact) ([]domain.Artifact, error) {
	raw, err := p.store.Read(ctx, sc.SourceImageKey)
	if err != nil {
		return nil, fmt.Errorf("read source image %s: %w", sc.SourceImageKey, err)
	}
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}

	formats := Formats()
	artifacts := make([]domain.Artifact, 0, len(formats))
	for _, format := range formats {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rendered := renderVariant(src, format.Width, format.Height)
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, rendered, &jpeg.Options{Quality: 90}); err != nil {
			return nil, fmt.Errorf("encode %s variant: %w", format.Label, err)
		}
		key := fmt.Sprintf("jobs/%s/variants/%s.jpg", sc.JobID, format.Label)
		if _, err := p.store.Write(ctx, key, buf.Bytes()); err != nil {
			return nil, fmt.Errorf("store %s variant: %w", format.Label, err)
		}
		artifacts = append(artifacts, domain.Artifact{
			Kind:       domain.ArtifactImageVariant,
			Label:      format.Label,
			StorageKey: key,
			MIME:       "image/jpeg",
			Bytes:      int64(buf.Len()),
			Width:      format.Width,
			Height:     format.Height,
			CreatedAt:  time.Now().UTC(),
		})
	}
	return artifacts, nil
}

// renderVariant scales the source to cover the target rectangle, cropping
// overflow evenly so the product stays centred.
func renderVariant(src image.Image, width, height int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	srcBounds := src.Bounds()
	srcW := srcBounds.Dx()
	srcH := srcBounds.Dy()
	if srcW == 0 || srcH == 0 {
		draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
		return dst
	}

	// Cover scaling: the larger ratio wins so the target is fully filled.
	scaleX := float64(srcW) / float64(width)
	scaleY := float64(srcH) / float64(height)
	scale := scaleX
	if scaleY < scale {
		scale = scaleY
	}
	cropW := float64(width) * scale
	cropH := float64(height) * scale
	offX := (float64(srcW) - cropW) / 2
	offY := (float64(srcH) - cropH) / 2

	for y := 0; y < height; y++ {
		sy := srcBounds.Min.Y + int(offY+(float64(y)+0.5)*scale)
		if sy >= srcBounds.Max.Y {
			sy = srcBounds.Max.Y - 1
		}
		for x := 0; x < width; x++ {
			sx := srcBounds.Min.X + int(offX+(float64(x)+0.5)*scale)
			if sx >= srcBounds.Max.X {
				sx = srcBounds.Max.X - 1
			}
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst
}

var _ stage.Executor = (*Provider)(nil)
