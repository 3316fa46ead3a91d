package overlay

import (
	"bytes"
	"context"
	"testing"

	"adforge/internal/domain"
	"adforge/internal/stage"
	"adforge/internal/storage"
)

func TestBuildCopyLocalization(t *testing.T) {
	product := domain.Product{Name: "super kopi blend", Price: "15000"}

	tests := []struct {
		name     string
		locale   string
		wantCTA  string
		wantTag  string
		wantText string
	}{
		{name: "english", locale: "en", wantCTA: "Shop Now", wantTag: "en", wantText: "15,000"},
		{name: "indonesian", locale: "id-ID", wantCTA: "Beli Sekarang", wantTag: "id", wantText: "15.000"},
		{name: "unknown falls back to english", locale: "xx", wantCTA: "Shop Now", wantTag: "en", wantText: "15,000"},
		{name: "empty falls back to english", locale: "", wantCTA: "Shop Now", wantTag: "en", wantText: "15,000"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := BuildCopy(product, tc.locale)
			if got.CallToAction != tc.wantCTA {
				t.Fatalf("cta = %q, want %q", got.CallToAction, tc.wantCTA)
			}
			if got.Locale != tc.wantTag {
				t.Fatalf("locale = %q, want %q", got.Locale, tc.wantTag)
			}
			if got.PriceText != tc.wantText {
				t.Fatalf("price = %q, want %q", got.PriceText, tc.wantText)
			}
			if got.Headline != "Super Kopi Blend" {
				t.Fatalf("headline = %q", got.Headline)
			}
		})
	}
}

func TestBuildCopyNonNumericPrice(t *testing.T) {
	got := BuildCopy(domain.Product{Name: "widget", Price: "$49.99"}, "en")
	if got.PriceText != "$49.99" {
		t.Fatalf("price = %q, want passthrough", got.PriceText)
	}
}

func TestExecuteAnnotatesEveryClip(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	ctx := context.Background()

	var prior []domain.Artifact
	for _, label := range []string{"feed", "story", "landscape"} {
		key := "jobs/job-1/videos/raw_" + label + ".mp4"
		if _, err := store.Write(ctx, key, []byte("clip-"+label)); err != nil {
			t.Fatalf("seed clip: %v", err)
		}
		prior = append(prior, domain.Artifact{
			Kind:       domain.ArtifactRawVideo,
			Label:      label,
			StorageKey: key,
			Width:      1024,
			Height:     576,
		})
	}

	provider := New(store)
	artifacts, err := provider.Execute(ctx, stage.Context{
		JobID:   "job-1",
		Product: domain.Product{Name: "super kopi", Price: "15000"},
		Locale:  "id",
	}, prior)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(artifacts) != 3 {
		t.Fatalf("expected 3 overlaid clips, got %d", len(artifacts))
	}
	for _, art := range artifacts {
		if art.Kind != domain.ArtifactOverlaidVideo {
			t.Fatalf("artifact kind = %s", art.Kind)
		}
		data, err := store.Read(ctx, art.StorageKey)
		if err != nil {
			t.Fatalf("read %s: %v", art.StorageKey, err)
		}
		if !bytes.HasPrefix(data, []byte("clip-"+art.Label)) {
			t.Fatalf("clip bytes for %s were not preserved", art.Label)
		}
		copySpec, ok := ExtractCopy(data)
		if !ok {
			t.Fatalf("no copy box found in %s", art.Label)
		}
		if copySpec.CallToAction != "Beli Sekarang" {
			t.Fatalf("cta = %q", copySpec.CallToAction)
		}
		if copySpec.PriceText != "15.000" {
			t.Fatalf("price = %q", copySpec.PriceText)
		}
	}
}

func TestExecuteWithoutRawClips(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	provider := New(store)
	if _, err := provider.Execute(context.Background(), stage.Context{JobID: "job-2"}, nil); err == nil {
		t.Fatal("expected error when no raw clips exist")
	}
}
