package tmdl

import (
	"fmt"
	"strings"
)

// ExportScript renders the measures of a table as a commented DAX script:
// a header, then per measure a description comment, the definition, and a
// format comment when a format string is present.
func ExportScript(t *Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- DAX Measures for %s\n", t.Name)
	b.WriteString("-- Generated by tabwright\n\n")

	for _, m := range t.Measures {
		desc := m.Description
		if desc == "" {
			desc = m.Name
		}
		for _, line := range strings.Split(desc, "\n") {
			fmt.Fprintf(&b, "-- %s\n", line)
		}
		fmt.Fprintf(&b, "[%s] = %s\n", m.Name, m.Expression)
		if m.FormatString != "" {
			fmt.Fprintf(&b, "-- Format: %s\n", m.FormatString)
		}
		b.WriteString("\n")
	}
	return b.String()
}
