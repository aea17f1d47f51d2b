package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/spanlens/spanlens/internal/engine"
	"github.com/spanlens/spanlens/internal/errors"
)

// CSVHeader is the first row of every CSV export.
var CSVHeader = []string{"event_id", "display_name", "layer", "start_time", "end_time", "duration"}

// WriteCSV writes the full span list of snap as CSV. Times are seconds with
// three decimals.
func WriteCSV(w io.Writer, snap *engine.Snapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return errors.NewExportError(errors.CodeRenderFailed, "failed to write CSV header", err)
	}
	for _, s := range snap.Spans {
		row := []string{
			s.EventID,
			s.DisplayName,
			s.Layer,
			fixed3(seconds(s.Start)),
			fixed3(seconds(s.End)),
			fixed3(seconds(s.Duration)),
		}
		if err := cw.Write(row); err != nil {
			return errors.NewExportError(errors.CodeRenderFailed, "failed to write CSV row", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.NewExportError(errors.CodeRenderFailed, "failed to flush CSV", err)
	}
	return nil
}

func fixed3(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
