package report

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/convertify/internal/batch"
	"github.com/dunamismax/convertify/internal/domain"
	"github.com/dunamismax/convertify/internal/format"
	"github.com/dunamismax/convertify/internal/packager"
	"gopkg.in/yaml.v3"
)

func TestBuildSummarizesFinishedBatch(t *testing.T) {
	s := batch.NewSession(format.DefaultPair, nil, batch.Config{}, nil, nil)
	files := []domain.ImageBytes{
		pngFile(t, "first.png"),
		pngFile(t, "second.png"),
		{Name: "broken.png", Data: []byte("garbage")},
	}
	res, err := s.Submit(context.Background(), files)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	snap := s.Snapshot()
	d, err := packager.New(packager.Config{}, nil).Package(snap.Pair, snap.Jobs)
	if err != nil {
		t.Fatalf("package: %v", err)
	}

	now := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	r := Build(snap, res.Warnings, d, now)

	var buf bytes.Buffer
	if err := Encode(&buf, r); err != nil {
		t.Fatalf("encode: %v", err)
	}
	doc := buf.String()
	for _, key := range []string{"session_id:", "pair: png-jpeg", "progress_percent: 100", "kind: archive", "name: png-jpeg.zip", "error_kind: decode_error"} {
		if !strings.Contains(doc, key) {
			t.Fatalf("report missing %q:\n%s", key, doc)
		}
	}

	var decoded Report
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Counts.Completed != 2 || decoded.Counts.Failed != 1 || len(decoded.Jobs) != 3 {
		t.Fatalf("unexpected counts %+v jobs=%d", decoded.Counts, len(decoded.Jobs))
	}
	if decoded.Stats == nil || decoded.Stats.CompletedCount != 2 {
		t.Fatalf("unexpected stats %+v", decoded.Stats)
	}
	if got := decoded.Deliverable.Files; len(got) != 2 || got[0] != "first.jpeg" || got[1] != "second.jpeg" {
		t.Fatalf("unexpected deliverable files %v", got)
	}
	if !decoded.GeneratedAt.Equal(now) {
		t.Fatalf("generated_at %v, want %v", decoded.GeneratedAt, now)
	}
}

func TestBuildWithoutDeliverableOrStats(t *testing.T) {
	s := batch.NewSession(format.DefaultPair, nil, batch.Config{}, nil, nil)
	if _, err := s.Submit(context.Background(), []domain.ImageBytes{pngFile(t, "waiting.png")}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	warnings := []batch.Warning{{Code: batch.WarningBatchTruncated, Message: "batch limited to 50 files, 1 dropped", Files: []string{"x.png"}}}

	r := Build(s.Snapshot(), warnings, nil, time.Now())
	if r.Stats != nil || r.Deliverable != nil {
		t.Fatalf("expected no stats or deliverable, got %+v %+v", r.Stats, r.Deliverable)
	}
	if len(r.Warnings) != 1 || r.Warnings[0].Code != "batch_truncated" {
		t.Fatalf("unexpected warnings %+v", r.Warnings)
	}
	if r.Jobs[0].Status != "waiting" || r.Jobs[0].Output != "" {
		t.Fatalf("unexpected job %+v", r.Jobs[0])
	}

	path := filepath.Join(t.TempDir(), "report.yaml")
	if err := WriteFile(path, r); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Contains(string(data), "deliverable:") || !strings.Contains(string(data), "code: batch_truncated") {
		t.Fatalf("unexpected report file:\n%s", data)
	}
}

func pngFile(t *testing.T, name string) domain.ImageBytes {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 12, 8))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	img.SetNRGBA(0, 0, color.NRGBA{A: 255})

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return domain.ImageBytes{Name: name, MIMEType: "image/png", Data: buf.Bytes()}
}
