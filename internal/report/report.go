// Package report renders instance listings and journal entries.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/cheapskate/internal/instance"
	"github.com/yairfalse/cheapskate/internal/store"
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// maxNameWidth limits the NAME column.
const maxNameWidth = 24

// ValidFormat reports whether f is a known output format.
func ValidFormat(f string) bool {
	switch f {
	case FormatTable, FormatJSON, FormatYAML:
		return true
	}
	return false
}

// Instances writes snaps in the requested format. JSON and YAML emit the
// flattened output records; the table is for people.
func Instances(w io.Writer, format string, snaps []*instance.Snapshot, now time.Time) error {
	switch format {
	case FormatJSON, FormatYAML:
		records := make([]map[string]any, 0, len(snaps))
		for _, s := range snaps {
			records = append(records, s.Record())
		}
		return Value(w, format, records)
	case FormatTable, "":
		return instanceTable(w, snaps, now)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func instanceTable(w io.Writer, snaps []*instance.Snapshot, now time.Time) error {
	if len(snaps) == 0 {
		_, err := fmt.Fprintln(w, "No instances found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATE\tTYPE\tGROUP\tUSER\tOFF\tHOURLY\tLAUNCHED")

	var hourly float64
	running := 0
	for _, s := range snaps {
		launched := "-"
		if !s.LaunchTime.IsZero() {
			launched = humanize.RelTime(s.LaunchTime, now, "ago", "from now")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t$%.3f\t%s\n",
			s.ID,
			truncate(s.Name),
			s.StateName,
			s.InstanceClass,
			s.Policy.Group,
			dash(s.Policy.Requester),
			dash(s.Policy.OffAt),
			s.HourlyPrice,
			launched,
		)
		if s.Running() {
			hourly += s.HourlyPrice
			running++
		}
	}

	fmt.Fprintf(tw, "\nTOTAL\t%s instances\t%s running\t\t\t\t\t$%s/h\t\n",
		humanize.Comma(int64(len(snaps))),
		humanize.Comma(int64(running)),
		humanize.CommafWithDigits(hourly, 3),
	)
	return tw.Flush()
}

// Journal writes journal entries as a table.
func Journal(w io.Writer, entries []store.Entry, now time.Time) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "Journal is empty.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tWHEN\tACTION\tRESOURCE\tRUN\tDETAIL")
	for _, e := range entries {
		detail := string(e.Data)
		if e.Error != "" {
			detail = "error: " + e.Error
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			e.Sequence,
			humanize.RelTime(e.Timestamp, now, "ago", "from now"),
			e.Type,
			e.ResourceID,
			dash(shortRunID(e.RunID)),
			detail,
		)
	}
	return tw.Flush()
}

// Value encodes v as JSON or YAML.
func Value(w io.Writer, format string, v any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func truncate(name string) string {
	if name == "" {
		return "-"
	}
	r := []rune(name)
	if len(r) > maxNameWidth {
		return string(r[:maxNameWidth-2]) + ".."
	}
	return name
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
