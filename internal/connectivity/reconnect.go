package connectivity

import (
	"github.com/san-kum/cellsim/internal/description"
	"github.com/san-kum/cellsim/internal/space"
)

// Reconnect restores bond and cluster consistency of data after an edit.
func Reconnect(data *description.Data, metric space.Metric, cfg Config) error {
	ix := BuildIndex(data, metric)
	if err := NewConnector(metric, cfg).Update(data, ix); err != nil {
		return err
	}
	return Partition(data)
}
