package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/Krajiyah/firebase-admin-util/internal/record"
	"github.com/Krajiyah/firebase-admin-util/internal/ui"
)

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// formatValue renders a field value on one line.
func formatValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case nil:
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func sortedFields(value map[string]any) []string {
	names := make([]string, 0, len(value))
	for k := range value {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func printDoc(doc *record.Document) error {
	if jsonOutput {
		return printJSON(doc)
	}
	fmt.Printf("%s %s\n", ui.RenderMuted("key:"), ui.RenderAccent(doc.Key))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, name := range sortedFields(doc.Value) {
		fmt.Fprintf(w, "  %s\t%s\n", name, formatValue(doc.Value[name]))
	}
	return w.Flush()
}

// printDocs prints one row per record with the union of their fields as
// columns.
func printDocs(docs []record.Document) error {
	if jsonOutput {
		return printJSON(docs)
	}
	seen := map[string]bool{}
	var cols []string
	for _, d := range docs {
		for _, name := range sortedFields(d.Value) {
			if !seen[name] {
				seen[name] = true
				cols = append(cols, name)
			}
		}
	}
	sort.Strings(cols)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	header := append([]string{"KEY"}, cols...)
	fmt.Fprintln(w, strings.ToUpper(strings.Join(header, "\t")))
	for _, d := range docs {
		row := []string{d.Key}
		for _, c := range cols {
			s := formatValue(d.Value[c])
			if len(s) > 40 {
				s = s[:37] + "..."
			}
			row = append(row, s)
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d records\n", len(docs))
	return nil
}
