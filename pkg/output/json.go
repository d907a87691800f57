package output

import (
	"encoding/json"
	"io"

	"github.com/minerops/stratum-counter/pkg/correlate"
	"github.com/minerops/stratum-counter/pkg/netstat"
)

// containerJSON is the documented JSON schema: one element per container
// with at least one matching connection. Connection states serialize as
// their kernel integer codes (ESTABLISHED = 1).
type containerJSON struct {
	Name        string               `json:"name"`
	ID          string               `json:"id"`
	Connections []netstat.Connection `json:"connections"`
}

// WriteJSON serializes the report to w. An empty report yields an empty
// array, not null, so downstream consumers always see a list.
func WriteJSON(w io.Writer, report *correlate.Report) error {
	out := make([]containerJSON, 0, len(report.Entries))
	for _, entry := range report.Entries {
		out = append(out, containerJSON{
			Name:        entry.Container.Name,
			ID:          entry.Container.ID,
			Connections: entry.Connections,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
