package net

import (
	"encoding/gob"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/GoDepth360/internal/layer"
)

// CheckpointVersion is the current checkpoint format version.
const CheckpointVersion = 1

type savedParam struct {
	Shape []int
	Data  []float64
}

type checkpointFile struct {
	Version int
	Step    int64
	RunID   string
	Params  map[string]savedParam
}

// CheckpointInfo describes a restored checkpoint.
type CheckpointInfo struct {
	Step     int64
	RunID    string
	Restored int
	Skipped  []string
}

// EncodeCheckpoint writes params to w.
func EncodeCheckpoint(w io.Writer, params []*layer.Param, step int64, runID string) error {
	f := checkpointFile{
		Version: CheckpointVersion,
		Step:    step,
		RunID:   runID,
		Params:  make(map[string]savedParam, len(params)),
	}
	for _, p := range params {
		if _, dup := f.Params[p.Name]; dup {
			return errors.Errorf("duplicate parameter name %q", p.Name)
		}
		f.Params[p.Name] = savedParam{Shape: p.Shape, Data: p.Data}
	}
	return errors.Wrap(gob.NewEncoder(w).Encode(&f), "failed to encode checkpoint")
}

// SaveCheckpoint writes params to path, creating parent directories. The file
// is written next to its destination and renamed into place.
func SaveCheckpoint(path string, params []*layer.Param, step int64, runID string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create checkpoint directory")
	}
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	if err := EncodeCheckpoint(file, params, step, runID); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "failed to close checkpoint")
	}
	return errors.Wrap(os.Rename(tmp, path), "failed to move checkpoint into place")
}

// DecodeCheckpoint reads a checkpoint from r into params. Parameters whose
// name starts with one of the exclude prefixes keep their current value.
// Every other parameter must be present with a matching shape.
func DecodeCheckpoint(r io.Reader, params []*layer.Param, exclude ...string) (*CheckpointInfo, error) {
	var f checkpointFile
	if err := gob.NewDecoder(r).Decode(&f); err != nil {
		return nil, errors.Wrap(err, "failed to decode checkpoint")
	}
	if f.Version != CheckpointVersion {
		return nil, errors.Errorf("unsupported checkpoint version %d", f.Version)
	}

	info := &CheckpointInfo{Step: f.Step, RunID: f.RunID}
	for _, p := range params {
		if hasPrefix(p.Name, exclude) {
			info.Skipped = append(info.Skipped, p.Name)
			continue
		}
		saved, ok := f.Params[p.Name]
		if !ok {
			return nil, errors.Errorf("checkpoint has no parameter %q", p.Name)
		}
		if !sameShape(saved.Shape, p.Shape) || len(saved.Data) != len(p.Data) {
			return nil, errors.Errorf("parameter %q has shape %v in checkpoint, expected %v", p.Name, saved.Shape, p.Shape)
		}
	}
	// Only copy once everything has been validated.
	for _, p := range params {
		if hasPrefix(p.Name, exclude) {
			continue
		}
		copy(p.Data, f.Params[p.Name].Data)
		info.Restored++
	}
	return info, nil
}

// RestoreCheckpoint loads the checkpoint at path into params.
func RestoreCheckpoint(path string, params []*layer.Param, exclude ...string) (*CheckpointInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file")
	}
	defer file.Close()
	info, err := DecodeCheckpoint(file, params, exclude...)
	return info, errors.Wrapf(err, "restoring %s", path)
}

var checkpointName = regexp.MustCompile(`^model-(\d+)\.gob$`)

// CheckpointPath returns the file name used for step inside dir.
func CheckpointPath(dir string, step int64) string {
	return filepath.Join(dir, "model-"+strconv.FormatInt(step, 10)+".gob")
}

// LatestCheckpoint returns the checkpoint with the highest step in dir.
func LatestCheckpoint(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.Wrap(err, "failed to list checkpoints")
	}
	best := int64(-1)
	var path string
	for _, e := range entries {
		m := checkpointName.FindStringSubmatch(e.Name())
		if m == nil || e.IsDir() {
			continue
		}
		step, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		if step > best {
			best, path = step, filepath.Join(dir, e.Name())
		}
	}
	if path == "" {
		return "", errors.Errorf("no checkpoint found in %s", dir)
	}
	return path, nil
}

func hasPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
