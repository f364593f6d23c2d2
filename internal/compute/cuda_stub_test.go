//go:build !cuda

package compute

import (
	"errors"
	"testing"

	"github.com/san-kum/cellsim/internal/config"
	"github.com/san-kum/cellsim/internal/description"
)

func TestCUDAStub(t *testing.T) {
	k := NewCUDAKernel()
	if k.Available() {
		t.Fatal("stub must report unavailable")
	}
	err := k.Initialize(description.IntVector{X: 10, Y: 10}, 0, config.DefaultParameters(), config.DefaultSettings().Device)
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("expected ErrDeviceUnavailable, got %v", err)
	}
	if _, err := NewKernel("cuda"); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("expected ErrDeviceUnavailable, got %v", err)
	}
	if AutoSelectKernel().Name() != "cpu" {
		t.Error("auto select should fall back to cpu")
	}
}
