package profile

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

const (
	MCUFile   = "MCUs.json"
	MotorFile = "motors.json"
)

// Store persists the full MCU and motor lists. Saves overwrite everything.
type Store interface {
	LoadMCUs(ctx context.Context) ([]*MCUProfile, error)
	SaveMCUs(ctx context.Context, mcus []*MCUProfile) error
	LoadMotors(ctx context.Context) ([]*MotorProfile, error)
	SaveMotors(ctx context.Context, motors []*MotorProfile) error
}

var _ Store = (*FileStore)(nil)

// FileStore keeps MCUs.json and motors.json in Dir.
type FileStore struct {
	Dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, err
	}
	return &FileStore{Dir: dir}, nil
}

func readJSON[T any](path string) ([]T, error) {
	bb, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []T{}, nil
		}
		return nil, err
	}
	ret := make([]T, 0)
	if len(bb) == 0 {
		return ret, nil
	}
	if err := json.Unmarshal(bb, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func writeJSON[T any](path string, v []T) error {
	if v == nil {
		v = []T{}
	}
	bb, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, bb, 0o644)
}

func (f *FileStore) LoadMCUs(_ context.Context) ([]*MCUProfile, error) {
	return readJSON[*MCUProfile](filepath.Join(f.Dir, MCUFile))
}

func (f *FileStore) SaveMCUs(_ context.Context, mcus []*MCUProfile) error {
	return writeJSON(filepath.Join(f.Dir, MCUFile), mcus)
}

func (f *FileStore) LoadMotors(_ context.Context) ([]*MotorProfile, error) {
	return readJSON[*MotorProfile](filepath.Join(f.Dir, MotorFile))
}

func (f *FileStore) SaveMotors(_ context.Context, motors []*MotorProfile) error {
	return writeJSON(filepath.Join(f.Dir, MotorFile), motors)
}
