package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spanlens/spanlens/internal/engine"
	"github.com/spanlens/spanlens/internal/errors"
	"github.com/spanlens/spanlens/internal/ingest"
	"github.com/spanlens/spanlens/pkg/types"
)

// ArchiveInfo describes a finished archive file.
type ArchiveInfo struct {
	Path         string
	DatasetID    string
	Spans        int
	Events       int
	SeriesPoints int
	SizeBytes    int64
	CreatedAt    time.Time
}

var archiveSchema = []string{
	`CREATE TABLE spans (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		display_name TEXT NOT NULL,
		layer TEXT NOT NULL,
		actor TEXT NOT NULL,
		start_ms REAL NOT NULL,
		end_ms REAL NOT NULL,
		duration_ms REAL NOT NULL
	) WITHOUT ROWID`,
	"CREATE INDEX idx_spans_layer_start ON spans(layer, start_ms)",
	"CREATE INDEX idx_spans_actor_start ON spans(actor, start_ms)",
	`CREATE TABLE layers (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		color TEXT NOT NULL,
		position INTEGER NOT NULL
	) WITHOUT ROWID`,
	`CREATE TABLE series_points (
		attribute TEXT NOT NULL,
		actor TEXT NOT NULL,
		seq INTEGER NOT NULL,
		time_ms REAL NOT NULL,
		value REAL NOT NULL,
		PRIMARY KEY (attribute, actor, seq)
	) WITHOUT ROWID`,
	`CREATE TABLE raw_events (
		seq INTEGER PRIMARY KEY,
		event_id TEXT NOT NULL,
		payload BLOB NOT NULL
	)`,
	`CREATE TABLE _spanlens_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	) WITHOUT ROWID`,
}

// BuildArchive writes snap to a new SQLite file at path. An existing file is
// replaced. Raw events are stored as snappy-compressed JSON so the dataset can
// be loaded again with ReadArchive.
func BuildArchive(ctx context.Context, path string, snap *engine.Snapshot) (*ArchiveInfo, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.NewExportError(errors.CodeRenderFailed, "failed to create archive directory", err)
	}
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return nil, errors.NewExportError(errors.CodeRenderFailed, "failed to replace existing archive", err)
		}
	}

	info, err := buildArchive(ctx, path, snap)
	if err != nil {
		os.Remove(path)
		return nil, errors.NewExportError(errors.CodeRenderFailed, "failed to build archive", err)
	}
	return info, nil
}

func buildArchive(ctx context.Context, path string, snap *engine.Snapshot) (*ArchiveInfo, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("archive: failed to create SQLite database: %w", err)
	}
	defer db.Close()

	// WAL while building; the finished file is switched back to DELETE.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("archive: failed to set journal mode: %w", err)
	}
	for _, stmt := range archiveSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("archive: failed to create schema: %w", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("archive: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	info := &ArchiveInfo{
		Path:      path,
		DatasetID: snap.DatasetID,
		CreatedAt: time.Now().UTC(),
	}
	if info.Spans, err = insertSpans(ctx, tx, snap.Spans); err != nil {
		return nil, err
	}
	if err := insertLayers(ctx, tx, snap); err != nil {
		return nil, err
	}
	if info.SeriesPoints, err = insertSeries(ctx, tx, snap.Series); err != nil {
		return nil, err
	}
	if info.Events, err = insertEvents(ctx, tx, snap.RawEvents()); err != nil {
		return nil, err
	}

	meta := map[string]string{
		"dataset_id": snap.DatasetID,
		"format":     snap.Format,
		"generation": strconv.FormatUint(snap.Generation, 10),
		"loaded_at":  snap.LoadedAt.UTC().Format(time.RFC3339Nano),
		"created_at": info.CreatedAt.Format(time.RFC3339Nano),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, "INSERT INTO _spanlens_meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return nil, fmt.Errorf("archive: failed to write metadata: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("archive: failed to commit: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return nil, fmt.Errorf("archive: failed to checkpoint WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=DELETE"); err != nil {
		return nil, fmt.Errorf("archive: failed to set journal mode to DELETE: %w", err)
	}
	if err := db.Close(); err != nil {
		return nil, fmt.Errorf("archive: failed to close database: %w", err)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("archive: failed to stat SQLite file: %w", err)
	}
	info.SizeBytes = fi.Size()
	return info, nil
}

func insertSpans(ctx context.Context, tx *sql.Tx, spans []types.Span) (int, error) {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO spans
		(id, event_id, display_name, layer, actor, start_ms, end_ms, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("archive: failed to prepare span insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range spans {
		if _, err := stmt.ExecContext(ctx, s.ID, s.EventID, s.DisplayName, s.Layer, s.Actor, s.Start, s.End, s.Duration); err != nil {
			return 0, fmt.Errorf("archive: failed to insert span %s: %w", s.ID, err)
		}
	}
	return len(spans), nil
}

// insertLayers stores the declared layers, or every observed layer when the
// dataset declared none.
func insertLayers(ctx context.Context, tx *sql.Tx, snap *engine.Snapshot) error {
	defs := snap.LayerDefs
	if len(defs) == 0 {
		for _, id := range snap.Layers {
			defs = append(defs, types.LayerDef{ID: id, Color: snap.Colors[id]})
		}
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT OR IGNORE INTO layers (id, display_name, color, position) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("archive: failed to prepare layer insert: %w", err)
	}
	defer stmt.Close()

	for i, d := range defs {
		color := d.Color
		if color == "" {
			color = ingest.DefaultLayerColor
		}
		if _, err := stmt.ExecContext(ctx, d.ID, d.DisplayName, color, i); err != nil {
			return fmt.Errorf("archive: failed to insert layer %q: %w", d.ID, err)
		}
	}
	return nil
}

func insertSeries(ctx context.Context, tx *sql.Tx, series types.NumericSeries) (int, error) {
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO series_points (attribute, actor, seq, time_ms, value) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("archive: failed to prepare series insert: %w", err)
	}
	defer stmt.Close()

	n := 0
	for _, attr := range series.Attributes() {
		for _, actor := range series.Actors(attr) {
			for seq, p := range series[attr][actor] {
				if _, err := stmt.ExecContext(ctx, attr, actor, seq, p.Time, p.Value); err != nil {
					return 0, fmt.Errorf("archive: failed to insert series point: %w", err)
				}
				n++
			}
		}
	}
	return n, nil
}

func insertEvents(ctx context.Context, tx *sql.Tx, events []types.RawEvent) (int, error) {
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO raw_events (seq, event_id, payload) VALUES (?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("archive: failed to prepare event insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return 0, fmt.Errorf("archive: failed to marshal event: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, i, e.EventID, snappy.Encode(nil, payload)); err != nil {
			return 0, fmt.Errorf("archive: failed to insert event: %w", err)
		}
	}
	return len(events), nil
}

// ReadArchive loads the raw events and layer definitions stored in an archive,
// in their original order.
func ReadArchive(ctx context.Context, path string) ([]types.RawEvent, []types.LayerDef, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil, errors.NewImportError(errors.CodeMalformedPayload, fmt.Sprintf("archive %s: %v", path, err))
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, nil, errors.Wrap(errors.ErrCategoryImport, errors.CodeMalformedPayload, "failed to open archive", err)
	}
	defer db.Close()

	events, err := readEvents(ctx, db)
	if err != nil {
		return nil, nil, errors.Wrap(errors.ErrCategoryImport, errors.CodeMalformedPayload, "failed to read archive events", err)
	}
	if len(events) == 0 {
		return nil, nil, errors.NewImportError(errors.CodeNoEvents, "archive holds no events")
	}

	var defs []types.LayerDef
	if format, err := readMeta(ctx, db, "format"); err == nil && format == string(ingest.FormatLayered) {
		if defs, err = readLayers(ctx, db); err != nil {
			return nil, nil, errors.Wrap(errors.ErrCategoryImport, errors.CodeMalformedPayload, "failed to read archive layers", err)
		}
	}
	return events, defs, nil
}

func readEvents(ctx context.Context, db *sql.DB) ([]types.RawEvent, error) {
	rows, err := db.QueryContext(ctx, "SELECT payload FROM raw_events ORDER BY seq")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []types.RawEvent
	for rows.Next() {
		var compressed []byte
		if err := rows.Scan(&compressed); err != nil {
			return nil, err
		}
		payload, err := snappy.Decode(nil, compressed)
		if err != nil {
			return nil, fmt.Errorf("corrupt event payload: %w", err)
		}
		var e types.RawEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func readLayers(ctx context.Context, db *sql.DB) ([]types.LayerDef, error) {
	rows, err := db.QueryContext(ctx, "SELECT id, display_name, color FROM layers ORDER BY position")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []types.LayerDef
	for rows.Next() {
		var d types.LayerDef
		if err := rows.Scan(&d.ID, &d.DisplayName, &d.Color); err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

func readMeta(ctx context.Context, db *sql.DB, key string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx, "SELECT value FROM _spanlens_meta WHERE key = ?", key).Scan(&value)
	return value, err
}
