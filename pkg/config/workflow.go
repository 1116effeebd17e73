// Package config loads workflow definition files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/flowgraph/pkg/models"
	"gopkg.in/yaml.v3"
)

// ErrMissingID is returned for a definition without an id.
var ErrMissingID = errors.New("workflow has no id")

// LoadWorkflow reads a workflow definition from a JSON or YAML file. Files ending in .yaml or
// .yml are parsed as YAML; anything else as JSON.
func LoadWorkflow(path string) (*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

func ParseJSON(data []byte) (*models.Workflow, error) {
	var workflow models.Workflow
	if err := json.Unmarshal(data, &workflow); err != nil {
		return nil, fmt.Errorf("failed to parse workflow JSON: %w", err)
	}

	return checked(&workflow)
}

// ParseYAML accepts the same document shape as ParseJSON, with the same camelCase keys.
func ParseYAML(data []byte) (*models.Workflow, error) {
	var document map[string]any
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("failed to parse workflow YAML: %w", err)
	}

	// Round trip through JSON so the json tags of the models apply.
	raw, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("failed to convert workflow YAML: %w", err)
	}

	return ParseJSON(raw)
}

func checked(workflow *models.Workflow) (*models.Workflow, error) {
	if workflow.ID == "" {
		return nil, ErrMissingID
	}

	if workflow.Connections == nil {
		workflow.Connections = []*models.Connection{}
	}

	return workflow, nil
}
