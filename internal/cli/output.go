package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// printResult пишет v в JSON либо построчно как "ключ: значение".
func printResult(w io.Writer, format string, v map[string]any) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s: %v\n", k, v[k]); err != nil {
			return err
		}
	}
	return nil
}
