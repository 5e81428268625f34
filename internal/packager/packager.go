package packager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dunamismax/convertify/internal/batch"
	"github.com/dunamismax/convertify/internal/domain"
	"github.com/dunamismax/convertify/internal/format"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
)

var (
	ErrArchiveBuild     = errors.New("archive build failed")
	ErrNothingToPackage = errors.New("no completed jobs to package")
)

const archiveMIMEType = "application/zip"

// BuildError carries the cause of a failed archive build.
type BuildError struct {
	Err error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%s: %v", ErrArchiveBuild, e.Err)
}

func (e *BuildError) Unwrap() []error {
	return []error{ErrArchiveBuild, e.Err}
}

func (e *BuildError) Kind() domain.ErrorKind {
	return domain.ErrorKindArchiveBuild
}

type Kind string

const (
	KindSingle     Kind = "single"
	KindArchive    Kind = "archive"
	KindIndividual Kind = "individual"
)

type Config struct {
	// MaxArchiveBytes fails the archive build once its entries exceed this size,
	// which sends the caller to individual downloads. Zero disables the limit.
	MaxArchiveBytes int64
}

type Packager struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func New(cfg Config, logger *zap.Logger) *Packager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Packager{cfg: cfg, logger: logger, now: time.Now}
}

// Deliverable is what a caller downloads. Multi-file deliverables build their archive
// on the first call to Downloads.
type Deliverable struct {
	Name  string
	Files []domain.ImageBytes

	p *Packager

	mu         sync.Mutex
	kind       Kind
	resolved   bool
	downloads  []domain.ImageBytes
	archiveErr error
}

// Package turns the completed jobs into a deliverable. Failed and unfinished jobs are
// skipped since they never produced bytes.
func (p *Packager) Package(pair format.Pair, jobs []batch.Job) (*Deliverable, error) {
	var files []domain.ImageBytes
	used := make(map[string]int)
	for _, j := range jobs {
		if j.Status != domain.JobStatusCompleted || j.Output == nil {
			continue
		}
		out := *j.Output
		out.Name = uniqueName(used, sanitizeFileName(out.Name))
		files = append(files, out)
	}

	switch len(files) {
	case 0:
		return nil, ErrNothingToPackage
	case 1:
		return &Deliverable{Name: files[0].Name, Files: files, p: p, kind: KindSingle}, nil
	default:
		return &Deliverable{Name: pair.Slug() + ".zip", Files: files, p: p, kind: KindArchive}, nil
	}
}

// Kind reports the deliverable shape. An archive becomes KindIndividual once its
// build has failed.
func (d *Deliverable) Kind() Kind {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.kind
}

// ArchiveErr is the build failure that caused a fallback to individual files, if any.
func (d *Deliverable) ArchiveErr() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.archiveErr
}

// Downloads resolves the deliverable into the files to save: the single file, the
// archive, or every file individually when the archive could not be built. The archive
// is built once; a canceled build returns the context error and is retried on the next call.
func (d *Deliverable) Downloads(ctx context.Context) ([]domain.ImageBytes, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.resolved {
		return d.downloads, nil
	}
	if d.kind != KindArchive {
		d.downloads, d.resolved = d.Files, true
		return d.downloads, nil
	}

	data, err := d.p.buildArchive(ctx, d.Files)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		d.p.logger.Warn("archive build failed, falling back to individual downloads",
			zap.String("archive", d.Name),
			zap.Int("files", len(d.Files)),
			zap.Error(err),
		)
		d.downloads, d.archiveErr, d.kind, d.resolved = d.Files, err, KindIndividual, true
		return d.downloads, nil
	}
	d.p.logger.Debug("archive built", zap.String("archive", d.Name), zap.Int("bytes", len(data)))
	d.downloads = []domain.ImageBytes{{Name: d.Name, MIMEType: archiveMIMEType, Data: data}}
	d.resolved = true
	return d.downloads, nil
}

// WriteTo resolves the downloads and writes them into dir, returning the written paths.
func (d *Deliverable) WriteTo(ctx context.Context, dir string) ([]string, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("output directory is required")
	}
	files, err := d.Downloads(ctx)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return paths, err
		}
		fullPath := filepath.Join(dir, sanitizeFileName(f.Name))
		if err := os.WriteFile(fullPath, f.Data, 0o644); err != nil {
			return paths, fmt.Errorf("write output file: %w", err)
		}
		paths = append(paths, fullPath)
	}
	return paths, nil
}

func (p *Packager) buildArchive(ctx context.Context, files []domain.ImageBytes) ([]byte, error) {
	var total int64
	for _, f := range files {
		total += int64(f.Len())
	}
	if p.cfg.MaxArchiveBytes > 0 && total > p.cfg.MaxArchiveBytes {
		return nil, &BuildError{Err: fmt.Errorf("entries total %d bytes, limit is %d", total, p.cfg.MaxArchiveBytes)}
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	modified := p.now()
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, &BuildError{Err: err}
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     sanitizeFileName(f.Name),
			Method:   entryMethod(f.Name),
			Modified: modified,
		})
		if err != nil {
			return nil, &BuildError{Err: fmt.Errorf("create entry %s: %w", f.Name, err)}
		}
		if _, err := w.Write(f.Data); err != nil {
			return nil, &BuildError{Err: fmt.Errorf("write entry %s: %w", f.Name, err)}
		}
	}
	if err := zw.Close(); err != nil {
		return nil, &BuildError{Err: fmt.Errorf("finalize archive: %w", err)}
	}
	return buf.Bytes(), nil
}

// entryMethod deflates the uncompressed containers and stores the rest as-is.
func entryMethod(name string) uint16 {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".svg", ".bmp":
		return zip.Deflate
	default:
		return zip.Store
	}
}

// uniqueName suffixes repeated names: photo.jpeg, photo-2.jpeg, photo-3.jpeg.
func uniqueName(used map[string]int, name string) string {
	used[name]++
	n := used[name]
	if n == 1 {
		return name
	}
	ext := filepath.Ext(name)
	candidate := fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n, ext)
	if used[candidate] > 0 {
		return uniqueName(used, name)
	}
	used[candidate]++
	return candidate
}

func sanitizeFileName(in string) string {
	in = strings.TrimSpace(filepath.Base(in))
	if in == "" || in == "." || in == ".." || in == "/" {
		return "image"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
