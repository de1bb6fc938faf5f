// Package params persists named parameter sets ("teams") per camera serial.
package params

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// Teams is the number of parameter sets each camera has.
const Teams = 4

var (
	// ErrInvalidTeam is returned for a team outside [0, Teams).
	ErrInvalidTeam = errors.New("params: invalid team")
	// ErrNotFound is returned when nothing was saved for a serial and team.
	ErrNotFound = errors.New("params: parameter set not found")
)

// file is the on-disk layout: [cameras.<serial>.teams.<n>] param = value.
type file struct {
	Version int                `toml:"version"`
	Cameras map[string]*camera `toml:"cameras"`
}

type camera struct {
	Teams map[string]map[string]any `toml:"teams"`
}

// Store keeps parameter sets in a TOML file. Every Save writes the file.
type Store struct {
	path string

	mu   sync.Mutex
	data *file
}

// NewStore creates a store backed by path.
func NewStore(path string) *Store {
	if path == "" {
		path = "parameters.toml"
	}
	return &Store{
		path: path,
		data: &file{Version: 1, Cameras: make(map[string]*camera)},
	}
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Load reads the file. A missing file leaves the store empty.
func (s *Store) Load() error {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read parameters file: %w", err)
	}

	data := &file{}
	if err := toml.Unmarshal(raw, data); err != nil {
		return fmt.Errorf("failed to parse parameters file: %w", err)
	}
	if data.Cameras == nil {
		data.Cameras = make(map[string]*camera)
	}
	if data.Version == 0 {
		data.Version = 1
	}

	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	return nil
}

// Save stores values as the team set of serial and writes the file.
func (s *Store) Save(serial string, team int, values map[string]any) error {
	if err := checkTeam(team); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cam, ok := s.data.Cameras[serial]
	if !ok || cam == nil {
		cam = &camera{}
		s.data.Cameras[serial] = cam
	}
	if cam.Teams == nil {
		cam.Teams = make(map[string]map[string]any)
	}
	set := make(map[string]any, len(values))
	for k, v := range values {
		set[k] = v
	}
	cam.Teams[strconv.Itoa(team)] = set

	return s.write()
}

// Get returns a copy of the team set of serial.
func (s *Store) Get(serial string, team int) (map[string]any, error) {
	if err := checkTeam(team); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cam, ok := s.data.Cameras[serial]
	if !ok || cam == nil {
		return nil, fmt.Errorf("%w: %s team %d", ErrNotFound, serial, team)
	}
	set, ok := cam.Teams[strconv.Itoa(team)]
	if !ok {
		return nil, fmt.Errorf("%w: %s team %d", ErrNotFound, serial, team)
	}
	out := make(map[string]any, len(set))
	for k, v := range set {
		out[k] = v
	}
	return out, nil
}

// Serials returns the cameras that have at least one saved set.
func (s *Store) Serials() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.data.Cameras))
	for serial := range s.data.Cameras {
		out = append(out, serial)
	}
	return out
}

func (s *Store) write() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create parameters directory: %w", err)
	}
	raw, err := toml.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write parameters file: %w", err)
	}
	return nil
}

func checkTeam(team int) error {
	if team < 0 || team >= Teams {
		return fmt.Errorf("%w: %d (want 0..%d)", ErrInvalidTeam, team, Teams-1)
	}
	return nil
}
