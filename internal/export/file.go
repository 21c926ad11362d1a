package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/EmpoweredVote/EV-Forecast/internal/forecast"
)

// FileWriter writes a CSV or JSON file, replacing any existing one.
type FileWriter struct {
	Path   string
	Format Format
}

func (f *FileWriter) String() string { return f.Path }

func (f *FileWriter) Write(ctx context.Context, res *forecast.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := expand(f.Path, res)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	// Write next to the target and rename so readers never see a partial file.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".forecast-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := encode(tmp, f.Format, res); err != nil {
		tmp.Close()
		return fmt.Errorf("export %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// StreamWriter encodes to an io.Writer such as stdout.
type StreamWriter struct {
	W      io.Writer
	Format Format
}

func (s *StreamWriter) String() string { return "stdout" }

func (s *StreamWriter) Write(_ context.Context, res *forecast.Result) error {
	return encode(s.W, s.Format, res)
}
