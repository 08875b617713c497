package audit

import (
	"encoding/json"
	"fmt"
	"io"
)

// WriteJSONL renders records one JSON object per line, the shape the
// logs command emits to stdout or a file.
func WriteJSONL(w io.Writer, records []Record) error {
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("write record %s: %w", r.ID, err)
		}
	}
	return nil
}
