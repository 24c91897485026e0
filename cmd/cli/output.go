package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/bytedance/sonic"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/netsweep/internal/scanning"
)

// Output formats.
const (
	formatTable = "table"
	formatJSON  = "json"
)

// recordWriter renders device records. Close flushes buffered output.
type recordWriter interface {
	Write(rec scanning.DeviceRecord) error
	Close() error
}

// resolveFormat picks the output format. An empty format means a table on
// a terminal and JSON lines everywhere else.
func resolveFormat(format string, w io.Writer) (string, error) {
	switch format {
	case formatTable, formatJSON:
		return format, nil
	case "":
		if isTerminal(w) {
			return formatTable, nil
		}
		return formatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want %s or %s)", format, formatTable, formatJSON)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func newRecordWriter(format string, w io.Writer) (recordWriter, error) {
	format, err := resolveFormat(format, w)
	if err != nil {
		return nil, err
	}
	if format == formatJSON {
		return &jsonWriter{w: w}, nil
	}

	table := tablewriter.NewWriter(w)
	header := make([]any, len(scanning.Columns))
	for i, c := range scanning.Columns {
		header[i] = c
	}
	table.Header(header...)
	return &tableWriter{table: table}, nil
}

// jsonWriter streams one JSON object per line as records arrive.
type jsonWriter struct {
	w io.Writer
}

func (j *jsonWriter) Write(rec scanning.DeviceRecord) error {
	line, err := sonic.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record for %s: %w", rec.Target, err)
	}
	_, err = j.w.Write(append(line, '\n'))
	return err
}

func (j *jsonWriter) Close() error { return nil }

// tableWriter buffers rows and renders the table on Close.
type tableWriter struct {
	table *tablewriter.Table
	rows  int
}

func (t *tableWriter) Write(rec scanning.DeviceRecord) error {
	t.rows++
	return t.table.Append(rec.Values())
}

func (t *tableWriter) Close() error {
	if t.rows == 0 {
		return nil
	}
	return t.table.Render()
}

// sweepStats counts what a sweep produced.
type sweepStats struct {
	Records int
	Online  int
	Hidden  int
}

// drain writes every record from results to out and returns the counts.
// Offline records are skipped when hideOffline is set. The first write
// error calls stop; the channel is still drained so the sweep can finish.
func drain(results <-chan scanning.DeviceRecord, out recordWriter, hideOffline bool, stop func()) (sweepStats, error) {
	var (
		stats    sweepStats
		firstErr error
	)
	for rec := range results {
		stats.Records++
		if rec.Status == scanning.StatusOnline {
			stats.Online++
		}
		if hideOffline && rec.Status == scanning.StatusOffline {
			stats.Hidden++
			continue
		}
		if firstErr != nil {
			continue
		}
		if err := out.Write(rec); err != nil {
			firstErr = err
			if stop != nil {
				stop()
			}
		}
	}
	if err := out.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return stats, firstErr
}

// sweepAndPrint runs a sweep over targets and writes the records to w.
func sweepAndPrint(ctx context.Context, sweeper *scanning.Scheduler, targets []string, w io.Writer, hideOffline bool) (sweepStats, error) {
	out, err := newRecordWriter(outputFormat, w)
	if err != nil {
		return sweepStats{}, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	return drain(sweeper.Scan(ctx, targets), out, hideOffline, cancel)
}
