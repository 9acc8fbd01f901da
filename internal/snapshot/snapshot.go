// Package snapshot persists and loads the Control Object and Split Map that
// runners and the resume path share. The format is chosen by file extension;
// callers outside this package treat snapshots as opaque.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/splitflow/internal/control"
	"github.com/kingrea/splitflow/internal/errs"
	"github.com/kingrea/splitflow/internal/fsutil"
	"github.com/kingrea/splitflow/internal/split"
)

// Source loads the persisted control and split snapshots of a run.
type Source interface {
	LoadControl(ctx context.Context) (*control.Object, error)
	LoadSplits(ctx context.Context) (*split.Map, error)
}

// Files is a filesystem-backed Source.
type Files struct {
	ControlPath string `json:"control" yaml:"control"`
	SplitsPath  string `json:"splits" yaml:"splits"`
}

// LoadControl reads and validates the control snapshot. Any failure,
// including a snapshot that decodes but breaks the control invariants, is a
// LoadError.
func (f Files) LoadControl(ctx context.Context) (*control.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var obj control.Object
	if err := decodeFile(f.ControlPath, &obj); err != nil {
		return nil, errs.Load("load control", err, "control snapshot %s", f.ControlPath)
	}
	if err := obj.Validate(); err != nil {
		return nil, errs.Load("load control", err, "control snapshot %s is invalid", f.ControlPath)
	}
	return &obj, nil
}

// LoadSplits reads the split map snapshot.
func (f Files) LoadSplits(ctx context.Context) (*split.Map, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := &split.Map{}
	if err := decodeFile(f.SplitsPath, m); err != nil {
		return nil, errs.Load("load splits", err, "split snapshot %s", f.SplitsPath)
	}
	if err := m.Validate(); err != nil {
		return nil, errs.Load("load splits", err, "split snapshot %s is empty", f.SplitsPath)
	}
	return m, nil
}

// Write persists both snapshots atomically.
func (f Files) Write(ctl *control.Object, m *split.Map) error {
	if err := WriteControl(f.ControlPath, ctl); err != nil {
		return err
	}
	return WriteSplits(f.SplitsPath, m)
}

// WriteControl persists a control snapshot.
func WriteControl(path string, ctl *control.Object) error {
	if err := ctl.Validate(); err != nil {
		return err
	}
	return encodeFile(path, ctl)
}

// WriteSplits persists a split map snapshot.
func WriteSplits(path string, m *split.Map) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return encodeFile(path, m)
}

type format int

const (
	formatJSON format = iota
	formatYAML
)

func formatFor(path string) (format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	default:
		return 0, fmt.Errorf("snapshot: unsupported extension for %s", path)
	}
}

func decodeFile(path string, target any) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("snapshot: path is required")
	}
	fmtKind, err := formatFor(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch fmtKind {
	case formatYAML:
		return yaml.Unmarshal(data, target)
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		return dec.Decode(target)
	}
}

func encodeFile(path string, value any) error {
	fmtKind, err := formatFor(path)
	if err != nil {
		return err
	}
	var data []byte
	switch fmtKind {
	case formatYAML:
		data, err = yaml.Marshal(value)
	default:
		data, err = json.MarshalIndent(value, "", "  ")
		if err == nil {
			data = append(data, '\n')
		}
	}
	if err != nil {
		return fmt.Errorf("snapshot: encode %s: %w", path, err)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", path, err)
	}
	return nil
}
