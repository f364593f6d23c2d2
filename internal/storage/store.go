package storage

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/san-kum/cellsim/internal/config"
	"github.com/san-kum/cellsim/internal/description"
	"github.com/san-kum/cellsim/internal/metrics"
)

const (
	metadataFile = "metadata.json"
	snapshotFile = "snapshot.json.zst"
	statsFile    = "stats.csv"
)

var ErrRunNotFound = errors.New("storage: run not found")

// Store keeps one directory per recorded run under baseDir.
type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID        string             `json:"id"`
	Preset    string             `json:"preset,omitempty"`
	Kernel    string             `json:"kernel"`
	Timestamp time.Time          `json:"timestamp"`
	Seed      int64              `json:"seed"`
	Timestep  uint64             `json:"timestep"`
	Duration  float64            `json:"duration"`
	Cells     int                `json:"cells"`
	Particles int                `json:"particles"`
	Settings  *config.Settings   `json:"settings,omitempty"`
	Metrics   map[string]float64 `json:"metrics"`
}

// Save writes a run and returns its ID. A fresh ID is assigned when
// meta.ID is empty.
func (s *Store) Save(meta RunMetadata, snapshot description.Data, samples []metrics.Sample) (string, error) {
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	meta.Cells = snapshot.CellCount()
	meta.Particles = len(snapshot.Particles)

	runDir := filepath.Join(s.baseDir, meta.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, metadataFile), meta); err != nil {
		return "", fmt.Errorf("storage: write metadata: %w", err)
	}
	if err := writeSnapshot(filepath.Join(runDir, snapshotFile), snapshot); err != nil {
		return "", fmt.Errorf("storage: write snapshot: %w", err)
	}
	if err := writeSamples(filepath.Join(runDir, statsFile), samples); err != nil {
		return "", fmt.Errorf("storage: write stats: %w", err)
	}
	return meta.ID, nil
}

// List returns every readable run, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	slices.SortFunc(runs, func(a, b RunMetadata) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(s.path(runID, metadataFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("storage: decode metadata %s: %w", runID, err)
	}
	return &meta, nil
}

func (s *Store) LoadSnapshot(runID string) (description.Data, error) {
	var data description.Data

	f, err := os.Open(s.path(runID, snapshotFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return data, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return data, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return data, err
	}
	defer dec.Close()

	if err := json.NewDecoder(bufio.NewReader(dec)).Decode(&data); err != nil {
		return data, fmt.Errorf("storage: decode snapshot %s: %w", runID, err)
	}
	return data, nil
}

// LoadHistory reads the recorded statistics of a run. Malformed rows are
// skipped.
func (s *Store) LoadHistory(runID string) ([]metrics.Sample, error) {
	file, err := os.Open(s.path(runID, statsFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return []metrics.Sample{}, nil
	}

	samples := make([]metrics.Sample, 0, len(records)-1)
	for _, record := range records[1:] {
		sample, ok := parseSample(record)
		if !ok {
			continue
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func (s *Store) path(runID, name string) string {
	return filepath.Join(s.baseDir, filepath.Base(runID), name)
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeSnapshot(path string, data description.Data) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)
	if err := json.NewEncoder(bw).Encode(data); err != nil {
		enc.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

var statsHeader = []string{"time", "timestep", "running", "tps", "cells", "particles", "tokens", "internal_energy"}

func writeSamples(path string, samples []metrics.Sample) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(statsHeader); err != nil {
		return err
	}
	for _, s := range samples {
		row := []string{
			s.Time.UTC().Format(time.RFC3339Nano),
			strconv.FormatUint(s.Timestep, 10),
			strconv.FormatBool(s.Running),
			strconv.FormatFloat(s.TPS, 'f', 3, 64),
			strconv.Itoa(s.Cells),
			strconv.Itoa(s.Particles),
			strconv.Itoa(s.Tokens),
			strconv.FormatFloat(s.InternalEnergy, 'f', 6, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func parseSample(record []string) (metrics.Sample, bool) {
	if len(record) != len(statsHeader) {
		return metrics.Sample{}, false
	}
	var (
		s   metrics.Sample
		err error
	)
	if s.Time, err = time.Parse(time.RFC3339Nano, record[0]); err != nil {
		return s, false
	}
	if s.Timestep, err = strconv.ParseUint(record[1], 10, 64); err != nil {
		return s, false
	}
	if s.Running, err = strconv.ParseBool(record[2]); err != nil {
		return s, false
	}
	if s.TPS, err = strconv.ParseFloat(record[3], 64); err != nil {
		return s, false
	}
	if s.Cells, err = strconv.Atoi(record[4]); err != nil {
		return s, false
	}
	if s.Particles, err = strconv.Atoi(record[5]); err != nil {
		return s, false
	}
	if s.Tokens, err = strconv.Atoi(record[6]); err != nil {
		return s, false
	}
	if s.InternalEnergy, err = strconv.ParseFloat(record[7], 64); err != nil {
		return s, false
	}
	return s, true
}
