package report

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dunamismax/convertify/internal/batch"
	"github.com/dunamismax/convertify/internal/packager"
	"gopkg.in/yaml.v3"
)

// Report is the machine-readable summary of one batch run.
type Report struct {
	SessionID   string       `yaml:"session_id"`
	Pair        string       `yaml:"pair"`
	GeneratedAt time.Time    `yaml:"generated_at"`
	Progress    float64      `yaml:"progress_percent"`
	Counts      Counts       `yaml:"counts"`
	Stats       *Stats       `yaml:"stats,omitempty"`
	Deliverable *Deliverable `yaml:"deliverable,omitempty"`
	Warnings    []Warning    `yaml:"warnings,omitempty"`
	Jobs        []Job        `yaml:"jobs"`
}

type Counts struct {
	Waiting    int `yaml:"waiting"`
	Converting int `yaml:"converting"`
	Completed  int `yaml:"completed"`
	Failed     int `yaml:"failed"`
}

type Stats struct {
	ElapsedMS         int64 `yaml:"elapsed_ms"`
	CompletedCount    int   `yaml:"completed"`
	FailedCount       int   `yaml:"failed"`
	FallbackCount     int   `yaml:"fallbacks"`
	AvgSizeDeltaBytes int64 `yaml:"avg_size_delta_bytes"`
}

type Deliverable struct {
	Kind       string   `yaml:"kind"`
	Name       string   `yaml:"name"`
	Files      []string `yaml:"files"`
	ArchiveErr string   `yaml:"archive_error,omitempty"`
}

type Warning struct {
	Code    string   `yaml:"code"`
	Message string   `yaml:"message"`
	Files   []string `yaml:"files,omitempty"`
}

type Job struct {
	ID           string  `yaml:"id"`
	Input        string  `yaml:"input"`
	InputBytes   int     `yaml:"input_bytes"`
	Status       string  `yaml:"status"`
	Output       string  `yaml:"output,omitempty"`
	OutputBytes  int     `yaml:"output_bytes,omitempty"`
	UsedFallback string  `yaml:"used_fallback,omitempty"`
	ErrorKind    string  `yaml:"error_kind,omitempty"`
	Error        string  `yaml:"error,omitempty"`
	DurationMS   float64 `yaml:"duration_ms"`
}

// Build summarizes a snapshot. deliverable may be nil when nothing completed.
func Build(snap batch.Snapshot, warnings []batch.Warning, deliverable *packager.Deliverable, now time.Time) Report {
	r := Report{
		SessionID:   snap.SessionID,
		Pair:        snap.Pair.Slug(),
		GeneratedAt: now.UTC(),
		Progress:    snap.Progress,
		Counts: Counts{
			Waiting:    snap.Counts.Waiting,
			Converting: snap.Counts.Converting,
			Completed:  snap.Counts.Completed,
			Failed:     snap.Counts.Failed,
		},
		Jobs: make([]Job, 0, len(snap.Jobs)),
	}

	if st := snap.Stats; st != nil {
		r.Stats = &Stats{
			ElapsedMS:         st.ElapsedMS,
			CompletedCount:    st.CompletedCount,
			FailedCount:       st.FailedCount,
			FallbackCount:     st.FallbackCount,
			AvgSizeDeltaBytes: st.AvgSizeDeltaBytes,
		}
	}

	if deliverable != nil {
		d := &Deliverable{Kind: string(deliverable.Kind()), Name: deliverable.Name}
		for _, f := range deliverable.Files {
			d.Files = append(d.Files, f.Name)
		}
		if err := deliverable.ArchiveErr(); err != nil {
			d.ArchiveErr = err.Error()
		}
		r.Deliverable = d
	}

	for _, w := range warnings {
		r.Warnings = append(r.Warnings, Warning{Code: string(w.Code), Message: w.Message, Files: w.Files})
	}

	for _, j := range snap.Jobs {
		job := Job{
			ID:           j.ID,
			Input:        j.Input.Name,
			InputBytes:   j.Input.Len(),
			Status:       string(j.Status),
			UsedFallback: string(j.UsedFallback),
			ErrorKind:    string(j.ErrorKind),
			Error:        j.Error,
			DurationMS:   float64(j.Duration.Microseconds()) / 1000,
		}
		if j.Output != nil {
			job.Output = j.Output.Name
			job.OutputBytes = j.Output.Len()
		}
		r.Jobs = append(r.Jobs, job)
	}
	return r
}

func Encode(w io.Writer, r Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return enc.Close()
}

// WriteFile writes r as YAML to path, replacing any existing file.
func WriteFile(path string, r Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := Encode(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
