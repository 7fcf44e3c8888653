package local

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/loqalabs/loqa-dictate/internal/recognition"
)

// Discover lists the models installed under dir. Every visible file or
// directory is one model, named after its base name without extension. A
// missing directory yields no models.
func Discover(dir string) ([]recognition.ModelReference, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read models dir: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	var models []recognition.ModelReference
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		display := name
		if !e.IsDir() {
			display = strings.TrimSuffix(name, filepath.Ext(name))
		}
		models = append(models, recognition.ModelReference{
			Path: filepath.Join(abs, name),
			Name: display,
			Type: recognition.ModelLocal,
		})
	}
	return models, nil
}
