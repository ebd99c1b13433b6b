package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// printer handles table or JSON output.
type printer struct {
	format string
	w      io.Writer
}

// json marshals v as indented JSON.
func (p *printer) json(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// table writes rows using tabwriter. header is the first row.
func (p *printer) table(header []string, rows [][]string) {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
}

// kv prints a key-value detail view.
func (p *printer) kv(pairs [][2]string) {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	for _, pair := range pairs {
		_, _ = fmt.Fprintf(tw, "%s:\t%s\n", pair[0], pair[1])
	}
	_ = tw.Flush()
}

// emit prints v to stdout, as JSON or through table, and writes it as JSON
// to --file when set.
func (a *app) emit(cmd *cobra.Command, v any, table func(p *printer)) error {
	p := &printer{format: a.format, w: cmd.OutOrStdout()}
	if p.format == "json" {
		if err := p.json(v); err != nil {
			return err
		}
	} else {
		table(p)
	}
	if a.file == "" {
		return nil
	}
	return a.export(cmd, v)
}

func (a *app) export(cmd *cobra.Command, v any) error {
	f, err := os.Create(a.file)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if err := (&printer{format: "json", w: f}).json(v); err != nil {
		_ = f.Close()
		return fmt.Errorf("write output file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "exported to %s\n", a.file)
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatUntil(t *time.Time) string {
	if t == nil {
		return "open"
	}
	return formatTime(*t)
}

func formatPayload(raw json.RawMessage) string {
	var b bytes.Buffer
	if err := json.Compact(&b, raw); err != nil {
		return string(raw)
	}
	return b.String()
}

func formatMetadata(md map[string]string) string {
	if len(md) == 0 {
		return "-"
	}
	var parts []string
	for _, k := range slices.Sorted(maps.Keys(md)) {
		parts = append(parts, k+"="+md[k])
	}
	return strings.Join(parts, ", ")
}
