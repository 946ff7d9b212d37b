package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/dsdyn/internal/dynamo"
)

const (
	metadataFile   = "metadata.json"
	trajectoryFile = "trajectory.csv"
)

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
	ID         string             `json:"id"`
	Model      string             `json:"model"`
	Timestamp  time.Time          `json:"timestamp"`
	Method     string             `json:"method"`
	Integrator string             `json:"integrator,omitempty"`
	Cycles     int                `json:"cycles"`
	Equations  []string           `json:"equations"`
	Params     map[string]float64 `json:"params"`
	Init       map[string]float64 `json:"init"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
}

// Save writes a new run directory holding meta and traj and returns its
// id. meta.ID and meta.Timestamp are filled in.
func (s *Store) Save(meta RunMetadata, traj *dynamo.Trajectory) (string, error) {
	if err := traj.Validate(); err != nil {
		return "", err
	}
	meta.ID = fmt.Sprintf("%s_%s", meta.Model, uuid.New().String()[:8])
	meta.Timestamp = time.Now().UTC()

	runDir := filepath.Join(s.baseDir, meta.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	metaFile, err := os.Create(filepath.Join(runDir, metadataFile))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvFile, err := os.Create(filepath.Join(runDir, trajectoryFile))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	if err := WriteCSV(csvFile, traj); err != nil {
		return "", err
	}
	return meta.ID, csvFile.Sync()
}

// List returns every readable run, oldest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
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
			// not a run directory
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	return &meta, nil
}

func (s *Store) LoadTrajectory(runID string) (*dynamo.Trajectory, error) {
	f, err := os.Open(filepath.Join(s.baseDir, runID, trajectoryFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	traj, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	return traj, nil
}

// WriteCSV writes traj as a table: a time column, then one column per
// series in trajectory order. Values are written at full precision.
func WriteCSV(w io.Writer, traj *dynamo.Trajectory) error {
	cw := csv.NewWriter(w)

	header := append([]string{"time"}, traj.Order...)
	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))
	for i, t := range traj.Times {
		row[0] = strconv.FormatFloat(t, 'g', -1, 64)
		for j, name := range traj.Order {
			row[j+1] = strconv.FormatFloat(traj.Series[name][i], 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a table written by WriteCSV.
func ReadCSV(r io.Reader) (*dynamo.Trajectory, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 || len(records[0]) == 0 || records[0][0] != "time" {
		return nil, fmt.Errorf("missing time header")
	}

	header := records[0]
	rows := records[1:]
	times := make([]float64, len(rows))
	cols := make([][]float64, len(header)-1)
	for j := range cols {
		cols[j] = make([]float64, len(rows))
	}

	for i, rec := range rows {
		for j, field := range rec {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d, column %s: %w", i+2, header[j], err)
			}
			if j == 0 {
				times[i] = v
			} else {
				cols[j-1][i] = v
			}
		}
	}

	traj := dynamo.NewTrajectory(times)
	for j, name := range header[1:] {
		traj.Set(name, cols[j])
	}
	return traj, nil
}
