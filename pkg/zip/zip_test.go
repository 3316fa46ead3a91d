package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
)

func TestArchiveRoundTrip(t *testing.T) {
	assets := []Asset{
		{Filename: "feed.jpg", MIME: "image/jpeg", Data: []byte("jpeg-bytes")},
		{Filename: "ad_story.mp4", MIME: "video/mp4", Data: []byte("mp4-bytes")},
	}

	var buf bytes.Buffer
	if err := Archive(&buf, assets); err != nil {
		t.Fatalf("archive: %v", err)
	}

	reader, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	if len(reader.File) != 2 {
		t.Fatalf("entries = %d, want 2", len(reader.File))
	}
	for i, asset := range assets {
		entry := reader.File[i]
		if entry.Name != asset.Filename {
			t.Fatalf("entry %d = %s, want %s", i, entry.Name, asset.Filename)
		}
		rc, err := entry.Open()
		if err != nil {
			t.Fatalf("open entry: %v", err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read entry: %v", err)
		}
		if !bytes.Equal(data, asset.Data) {
			t.Fatalf("entry %s data mismatch", entry.Name)
		}
	}
}

func TestArchiveEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := Archive(&buf, nil); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len())); err != nil {
		t.Fatalf("open empty archive: %v", err)
	}
}
