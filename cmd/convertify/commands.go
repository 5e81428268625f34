package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/convertify/internal/batch"
	"github.com/dunamismax/convertify/internal/domain"
	"github.com/dunamismax/convertify/internal/format"
	"github.com/dunamismax/convertify/internal/packager"
	"github.com/dunamismax/convertify/internal/report"
	"github.com/dunamismax/convertify/internal/watcher"
	"go.uber.org/zap"
)

var errJobsFailed = errors.New("one or more jobs failed")

func (a *app) convert(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	pairSlug := fs.String("pair", format.DefaultPair.Slug(), "conversion pair, source-target")
	outDir := fs.String("out", a.cfg.Output.Dir, "directory for converted files")
	reportPath := fs.String("report", a.cfg.Output.ReportFile, "write a YAML batch report to this file")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("%w: no input files", errUsage)
	}

	session, err := a.newSession(*pairSlug)
	if err != nil {
		return err
	}
	files, err := a.readFiles(ctx, fs.Args())
	if err != nil {
		return err
	}
	return a.processBatch(ctx, session, files, *outDir, *reportPath)
}

func (a *app) watch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	pairSlug := fs.String("pair", format.DefaultPair.Slug(), "conversion pair, source-target")
	dir := fs.String("dir", a.cfg.Watch.Dir, "folder to watch for dropped images")
	outDir := fs.String("out", a.cfg.Output.Dir, "directory for converted files")
	reportPath := fs.String("report", a.cfg.Output.ReportFile, "write a YAML batch report to this file")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	session, err := a.newSession(*pairSlug)
	if err != nil {
		return err
	}
	w, err := watcher.New(*dir, a.cfg.Watch.Debounce, a.logger)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "watching %s for %s, writing to %s\n", *dir, session.Pair(), *outDir)
	return w.Run(ctx, func(ctx context.Context, paths []string) {
		files, err := a.readFiles(ctx, paths)
		if err != nil {
			a.logger.Warn("read dropped files", zap.Error(err))
			return
		}
		if err := a.processBatch(ctx, session, files, *outDir, *reportPath); err != nil && !errors.Is(err, errJobsFailed) {
			a.logger.Warn("batch failed", zap.Error(err))
		}
	})
}

func (a *app) pairs(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("pairs", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	source := fs.String("source", "", "only list pairs converting from this format")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	pairs := format.AllPairs()
	if *source != "" {
		f, err := format.Normalize(*source)
		if err != nil {
			return err
		}
		pairs = format.RelatedPairs(f)
	}

	encodable := make(map[format.ImageFormat]bool)
	for _, f := range a.dispatcher.Registry().Encodable(ctx) {
		encodable[f] = true
	}
	for _, p := range pairs {
		line := p.Slug()
		if !encodable[p.Target] {
			if p.Target == format.AVIF && encodable[format.WebP] {
				line += " (avif encoder unavailable, falls back to webp)"
			} else {
				line += " (encoder unavailable)"
			}
		}
		fmt.Fprintln(a.stdout, line)
	}
	return nil
}

// processBatch submits files as one batch, runs it, writes the deliverable and releases
// the session's buffers.
func (a *app) processBatch(ctx context.Context, session *batch.Session, files []domain.ImageBytes, outDir, reportPath string) error {
	res, err := session.Submit(ctx, files)
	var mismatch *batch.MismatchError
	switch {
	case errors.As(err, &mismatch):
		fmt.Fprintf(a.stdout, "rejected: first file is %s; session is now %s, resubmit to convert\n",
			mismatch.Detected, mismatch.Redirected)
		return err
	case err != nil:
		for _, w := range res.Warnings {
			fmt.Fprintf(a.stdout, "warning: %s\n", w.Message)
		}
		fmt.Fprintf(a.stdout, "rejected: %v\n", err)
		return err
	}
	defer session.Reset()

	for _, w := range res.Warnings {
		fmt.Fprintf(a.stdout, "warning: %s\n", w.Message)
	}

	runErr := session.Run(ctx)
	snap := session.Snapshot()
	for _, j := range snap.Jobs {
		switch j.Status {
		case domain.JobStatusCompleted:
			note := ""
			if j.UsedFallback != "" {
				note = fmt.Sprintf(" (fallback: %s)", j.UsedFallback)
			}
			fmt.Fprintf(a.stdout, "ok      %s -> %s %s%s\n", j.Input.Name, j.Output.Name, j.Duration.Round(time.Millisecond), note)
		case domain.JobStatusFailed:
			fmt.Fprintf(a.stdout, "failed  %s: %s\n", j.Input.Name, j.ErrorKind)
		default:
			fmt.Fprintf(a.stdout, "%-7s %s\n", j.Status, j.Input.Name)
		}
	}
	if runErr != nil {
		return runErr
	}

	deliverable, err := a.packager.Package(snap.Pair, snap.Jobs)
	switch {
	case errors.Is(err, packager.ErrNothingToPackage):
		deliverable = nil
	case err != nil:
		return err
	default:
		paths, err := deliverable.WriteTo(ctx, outDir)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Fprintf(a.stdout, "wrote   %s\n", p)
		}
	}

	if st := snap.Stats; st != nil {
		fmt.Fprintf(a.stdout, "done: %d completed, %d failed in %dms, avg size delta %d bytes (%.0f%%)\n",
			st.CompletedCount, st.FailedCount, st.ElapsedMS, st.AvgSizeDeltaBytes, snap.Progress)
	}

	if reportPath != "" {
		if err := report.WriteFile(reportPath, report.Build(snap, res.Warnings, deliverable, time.Now())); err != nil {
			return err
		}
	}

	if snap.Counts.Failed > 0 {
		return errJobsFailed
	}
	return nil
}

// readFiles loads each path into an ImageBytes, guessing the MIME type from the name.
func (a *app) readFiles(ctx context.Context, paths []string) ([]domain.ImageBytes, error) {
	files := make([]domain.ImageBytes, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read input file %s: %w", p, err)
		}
		files = append(files, domain.ImageBytes{
			Name:     filepath.Base(p),
			MIMEType: mime.TypeByExtension(strings.ToLower(filepath.Ext(p))),
			Data:     data,
		})
	}
	return files, nil
}

func parsePair(slug string) (format.Pair, error) {
	if strings.TrimSpace(slug) == "" {
		return format.DefaultPair, nil
	}
	return format.ParseSlug(slug)
}
