package storage

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/san-kum/cellsim/internal/description"
)

// ExportJSON writes a snapshot as indented, uncompressed JSON.
func ExportJSON(path string, data description.Data) error {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

// ImportEdit reads a JSON snapshot and flags every field it carries as
// modified, ready to be applied as an edit.
func ImportEdit(path string) (description.Data, error) {
	var data description.Data
	b, err := os.ReadFile(path)
	if err != nil {
		return data, err
	}
	if err := json.Unmarshal(b, &data); err != nil {
		return data, fmt.Errorf("storage: decode %s: %w", path, err)
	}
	data.Touch()
	return data, nil
}
