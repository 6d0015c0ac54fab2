package format

import (
	"encoding/json"
	"fmt"
	"io"
)

// WriteJSON writes strict JSON output for CLI commands.
//
// Output stays strict JSON only. Anything a caller should do next goes in a `_hints`
// array next to `data`.
func WriteJSON(w io.Writer, v any, pretty bool) error {
	var b []byte
	var err error
	if pretty {
		b, err = json.MarshalIndent(v, "", "  ")
	} else {
		b, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(w, string(b))
	return err
}

// Envelope is the shape of every successful command result.
func Envelope(data any, hints ...string) map[string]any {
	out := map[string]any{"data": data}
	if len(hints) > 0 {
		out["_hints"] = hints
	}
	return out
}
