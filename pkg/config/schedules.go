package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/flowgraph/pkg/schedule"
	"gopkg.in/yaml.v3"
)

type schedulesFile struct {
	Schedules []schedule.Entry `json:"schedules" yaml:"schedules"`
}

// LoadSchedules reads the schedules list of a JSON or YAML file and validates every entry.
func LoadSchedules(path string) ([]schedule.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedules file %s: %w", path, err)
	}

	var file schedulesFile

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(data, &file)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to parse schedules file %s: %w", path, err)
	}

	for _, entry := range file.Schedules {
		if err := entry.Validate(); err != nil {
			return nil, err
		}
	}

	return file.Schedules, nil
}
