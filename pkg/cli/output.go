package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// render writes v as indented JSON, or calls table with a tabwriter.
func (a *app) render(v any, table func(w io.Writer)) error {
	if a.opts.output == outputJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")

		return enc.Encode(v)
	}

	writer := tabwriter.NewWriter(a.out, 2, 0, 3, ' ', 0)
	table(writer)

	return writer.Flush()
}

func row(w io.Writer, cols ...any) {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprint(c)
	}

	fmt.Fprintln(w, strings.Join(parts, "\t"))
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}

	return *s
}
