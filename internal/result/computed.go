package result

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lagrangedao/go-tee-worker/constants"
	"github.com/lagrangedao/go-tee-worker/internal/models"
)

// ReadComputedFile reads computed.json from dir. A missing file returns nil, nil.
func ReadComputedFile(dir string) (*models.ComputedFile, error) {
	data, err := os.ReadFile(filepath.Join(dir, constants.COMPUTED_FILE))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed read computed file, dir: %s, error: %w", dir, err)
	}
	var cf models.ComputedFile
	if err = json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed parse computed file, dir: %s, error: %w", dir, err)
	}
	return &cf, nil
}

func WriteComputedFile(dir string, cf *models.ComputedFile) error {
	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return err
	}
	if err = os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, constants.COMPUTED_FILE), data, 0644)
}
