// Package export renders engine snapshots into portable artifacts: a JSON
// document, a CSV table, an SVG timeline and a single-file SQLite archive.
package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spanlens/spanlens/internal/analytics"
	"github.com/spanlens/spanlens/internal/engine"
	"github.com/spanlens/spanlens/internal/errors"
	"github.com/spanlens/spanlens/internal/timestamp"
)

// Format names an export format.
type Format string

const (
	FormatJSON   Format = "json"
	FormatCSV    Format = "csv"
	FormatSVG    Format = "svg"
	FormatSQLite Format = "sqlite"
)

// Formats lists every supported format.
var Formats = []Format{FormatJSON, FormatCSV, FormatSVG, FormatSQLite}

// ParseFormat resolves a format name, case-insensitively.
func ParseFormat(name string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", errors.NewExportError(errors.CodeUnsupportedFormat,
		fmt.Sprintf("unsupported export format %q", name), nil)
}

// FileName returns the artifact name used for the format.
func (f Format) FileName() string {
	switch f {
	case FormatJSON:
		return "spans.json"
	case FormatCSV:
		return "spans.csv"
	case FormatSVG:
		return "timeline.svg"
	case FormatSQLite:
		return "archive.sqlite"
	}
	return string(f)
}

// Options tunes rendering.
type Options struct {
	// Analytics is used for the statistics embedded in JSON exports.
	Analytics analytics.Options

	// Width and Height size SVG renderings. Height 0 means one row height
	// per group.
	Width  int
	Height int

	// TempDir holds intermediate archive files. Empty means os.TempDir().
	TempDir string

	// Now returns the export time.
	Now func() time.Time
}

// DefaultOptions returns the default rendering options.
func DefaultOptions() Options {
	return Options{
		Analytics: analytics.DefaultOptions(),
		Width:     1200,
		Now:       time.Now,
	}
}

func (o Options) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// Render writes snap in format f to w.
func Render(ctx context.Context, w io.Writer, snap *engine.Snapshot, f Format, opts Options) error {
	switch f {
	case FormatJSON:
		return WriteJSON(w, snap, opts)
	case FormatCSV:
		return WriteCSV(w, snap)
	case FormatSVG:
		return WriteTimelineSVG(w, snap, opts)
	case FormatSQLite:
		return writeArchiveTo(ctx, w, snap, opts)
	}
	return errors.NewExportError(errors.CodeUnsupportedFormat,
		fmt.Sprintf("unsupported export format %q", f), nil)
}

// writeArchiveTo builds the archive in a scratch directory and streams the
// finished file to w.
func writeArchiveTo(ctx context.Context, w io.Writer, snap *engine.Snapshot, opts Options) error {
	dir, err := os.MkdirTemp(opts.TempDir, "spanlens-archive-*")
	if err != nil {
		return errors.NewExportError(errors.CodeRenderFailed, "failed to create scratch directory", err)
	}
	defer os.RemoveAll(dir)

	info, err := BuildArchive(ctx, filepath.Join(dir, FormatSQLite.FileName()), snap)
	if err != nil {
		return err
	}

	f, err := os.Open(info.Path)
	if err != nil {
		return errors.NewExportError(errors.CodeRenderFailed, "failed to open archive", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return errors.NewExportError(errors.CodeRenderFailed, "failed to write archive", err)
	}
	return nil
}

// seconds converts an internal time to the external unit.
func seconds(ms float64) float64 {
	return timestamp.ToSeconds(ms)
}
