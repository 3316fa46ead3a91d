// Package overlay burns the product copy onto the synthesized clips. The
// localized copy (headline, price, call to action) is embedded in the output
// container so downstream delivery can re-render captions per placement.
package overlay

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"adforge/internal/domain"
	"adforge/internal/stage"
)

// Copy is the text block rendered onto a clip.
type Copy struct {
	Headline     string `json:"headline"`
	PriceText    string `json:"price_text"`
	CallToAction string `json:"call_to_action"`
	Locale       string `json:"locale"`
}

var supportedLocales = []language.Tag{
	language.English,
	language.Indonesian,
	language.Spanish,
	language.German,
	language.French,
}

var callToAction = map[language.Tag]string{
	language.English:    "Shop Now",
	language.Indonesian: "Beli Sekarang",
	language.Spanish:    "Compra Ahora",
	language.German:     "Jetzt Kaufen",
	language.French:     "Achetez Maintenant",
}

var localeMatcher = language.NewMatcher(supportedLocales)

// BuildCopy assembles the localized overlay text for a product.
func BuildCopy(product domain.Product, locale string) Copy {
	_, index := language.MatchStrings(localeMatcher, locale)
	tag := supportedLocales[index]

	return Copy{
		Headline:     cases.Title(tag).String(strings.TrimSpace(product.Name)),
		PriceText:    formatPrice(product.Price, tag),
		CallToAction: callToAction[tag],
		Locale:       tag.String(),
	}
}

// formatPrice localizes plain numeric prices. Prices already carrying a
// currency symbol or other text pass through unchanged.
func formatPrice(price string, tag language.Tag) string {
	trimmed := strings.TrimSpace(price)
	if trimmed == "" {
		return ""
	}
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return trimmed
	}
	printer := message.NewPrinter(tag)
	if value == float64(int64(value)) {
		return printer.Sprintf("%d", int64(value))
	}
	return printer.Sprintf("%.2f", value)
}

// BlobStore is the storage surface the provider needs.
type BlobStore interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// Provider implements the overlay stage.
type Provider struct {
	store BlobStore
}

func New(store BlobStore) *Provider {
	return &Provider{store: store}
}

func (p *Provider) Kind() domain.StageKind { return domain.StageOverlay }

func (p *Provider) RequiresGPU() bool { return false }

// Execute emits one overlaid clip per raw clip. The overlay copy travels in a
// trailing skip box, which players ignore, so the video track stays intact.
func (p *Provider) Execute(ctx context.Context, sc stage.Context, prior []domain.Artifact) ([]domain.Artifact, error) {
	copySpec := BuildCopy(sc.Product, sc.Locale)

	var artifacts []domain.Artifact
	for _, raw := range prior {
		if raw.Kind != domain.ArtifactRawVideo {
			continue
		}
		clip, err := p.store.Read(ctx, raw.StorageKey)
		if err != nil {
			return nil, fmt.Errorf("overlay: read %s clip: %w", raw.Label, err)
		}
		overlaid, err := appendCopyBox(clip, copySpec)
		if err != nil {
			return nil, fmt.Errorf("overlay: annotate %s clip: %w", raw.Label, err)
		}

		key := fmt.Sprintf("jobs/%s/videos/ad_%s.mp4", sc.JobID, raw.Label)
		if _, err := p.store.Write(ctx, key, overlaid); err != nil {
			return nil, fmt.Errorf("overlay: store %s clip: %w", raw.Label, err)
		}
		artifacts = append(artifacts, domain.Artifact{
			Kind:       domain.ArtifactOverlaidVideo,
			Label:      raw.Label,
			StorageKey: key,
			MIME:       "video/mp4",
			Bytes:      int64(len(overlaid)),
			Width:      raw.Width,
			Height:     raw.Height,
			CreatedAt:  time.Now().UTC(),
		})
	}
	if len(artifacts) == 0 {
		return nil, fmt.Errorf("overlay: no raw clips to annotate")
	}
	return artifacts, nil
}

// appendCopyBox writes the copy as a top-level ISO-BMFF skip box after the
// clip bytes.
func appendCopyBox(clip []byte, copySpec Copy) ([]byte, error) {
	payload, err := json.Marshal(copySpec)
	if err != nil {
		return nil, err
	}
	box := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(box[0:4], uint32(len(box)))
	copy(box[4:8], "skip")
	copy(box[8:], payload)

	out := make([]byte, 0, len(clip)+len(box))
	out = append(out, clip...)
	out = append(out, box...)
	return out, nil
}

// ExtractCopy reads the copy back from an annotated clip. Used by delivery
// and by tests.
func ExtractCopy(clip []byte) (Copy, bool) {
	if len(clip) < 8 {
		return Copy{}, false
	}
	// The skip box is the final top-level box; walk back from its payload.
	for offset := len(clip) - 8; offset >= 0; offset-- {
		if string(clip[offset+4:offset+8]) != "skip" {
			continue
		}
		size := int(binary.BigEndian.Uint32(clip[offset : offset+4]))
		if size < 8 || offset+size != len(clip) {
			continue
		}
		var copySpec Copy
		if err := json.Unmarshal(clip[offset+8:], &copySpec); err != nil {
			continue
		}
		return copySpec, true
	}
	return Copy{}, false
}

var _ stage.Executor = (*Provider)(nil)
