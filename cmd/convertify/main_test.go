package main

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dunamismax/convertify/internal/batch"
)

func TestConvertCommandWritesArchive(t *testing.T) {
	t.Setenv("CONVERTIFY_LOG_LEVEL", "error")
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	reportPath := filepath.Join(t.TempDir(), "report.yaml")

	a := writePNG(t, in, "alpha.png")
	b := writePNG(t, in, "beta.final.png")

	var stdout bytes.Buffer
	err := run([]string{"convert", "-pair", "png-jpeg", "-out", out, "-report", reportPath, a, b}, &stdout)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, stdout.String())
	}

	if _, err := os.Stat(filepath.Join(out, "png-jpeg.zip")); err != nil {
		t.Fatalf("expected archive in output dir: %v", err)
	}
	if !strings.Contains(stdout.String(), "beta.final.png -> beta.jpeg") {
		t.Fatalf("unexpected output:\n%s", stdout.String())
	}
	if _, err := os.Stat(reportPath); err != nil {
		t.Fatalf("expected report: %v", err)
	}
}

func TestConvertCommandSingleFile(t *testing.T) {
	t.Setenv("CONVERTIFY_LOG_LEVEL", "error")
	in := t.TempDir()
	out := t.TempDir()

	var stdout bytes.Buffer
	if err := run([]string{"convert", "-pair", "png-bmp", "-out", out, writePNG(t, in, "icon.png")}, &stdout); err != nil {
		t.Fatalf("run: %v\n%s", err, stdout.String())
	}
	if _, err := os.Stat(filepath.Join(out, "icon.bmp")); err != nil {
		t.Fatalf("expected direct download icon.bmp: %v", err)
	}
}

func TestConvertCommandRejectsMismatchedBatch(t *testing.T) {
	t.Setenv("CONVERTIFY_LOG_LEVEL", "error")
	in := t.TempDir()

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	path := filepath.Join(in, "photo.jpg")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var stdout bytes.Buffer
	err := run([]string{"convert", "-pair", "png-webp", "-out", t.TempDir(), path}, &stdout)
	if !errors.Is(err, batch.ErrFormatMismatch) {
		t.Fatalf("expected ErrFormatMismatch, got %v", err)
	}
	if !strings.Contains(stdout.String(), "session is now jpeg-webp") {
		t.Fatalf("unexpected output:\n%s", stdout.String())
	}
}

func TestConvertCommandRejectsBatchOfSkippedFiles(t *testing.T) {
	t.Setenv("CONVERTIFY_LOG_LEVEL", "error")
	path := filepath.Join(t.TempDir(), "empty.png")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var stdout bytes.Buffer
	err := run([]string{"convert", "-pair", "png-jpeg", "-out", t.TempDir(), path}, &stdout)
	if !errors.Is(err, batch.ErrNoFilesAccepted) {
		t.Fatalf("expected ErrNoFilesAccepted, got %v", err)
	}
	if !strings.Contains(stdout.String(), "warning: 1 empty file(s) skipped") {
		t.Fatalf("unexpected output:\n%s", stdout.String())
	}
}

func TestPairsCommand(t *testing.T) {
	t.Setenv("CONVERTIFY_LOG_LEVEL", "error")

	var stdout bytes.Buffer
	if err := run([]string{"pairs", "-source", "svg"}, &stdout); err != nil {
		t.Fatalf("run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 7 || !strings.HasPrefix(lines[0], "svg-png") {
		t.Fatalf("unexpected pairs output:\n%s", stdout.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	t.Setenv("CONVERTIFY_LOG_LEVEL", "error")

	for _, args := range [][]string{nil, {"explode"}, {"convert"}, {"convert", "-pair", "png-tiff", "x.png"}} {
		if err := run(args, &bytes.Buffer{}); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
}

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 10, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 10; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 25), G: uint8(y * 40), B: 60, A: 200})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}
