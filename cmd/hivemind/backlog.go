package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/atriumhq/hivemind/pkg/models"
)

// backlogFile is the on-disk backlog format.
type backlogFile struct {
	Tasks []backlogTask `yaml:"tasks"`
}

type backlogTask struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	Description    string   `yaml:"description"`
	EstimatedHours float64  `yaml:"estimated_hours"`
	Priority       int      `yaml:"priority"`
	Labels         []string `yaml:"labels"`
	DependsOn      []string `yaml:"depends_on"`
}

// loadBacklog reads a YAML backlog into units. IDs are optional; tasks
// without one get a generated ID, which means they cannot be depended on
// by name.
func loadBacklog(path string) ([]*models.Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read backlog: %w", err)
	}

	var file backlogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse backlog %s: %w", path, err)
	}
	if len(file.Tasks) == 0 {
		return nil, fmt.Errorf("backlog %s has no tasks", path)
	}

	seen := make(map[string]bool, len(file.Tasks))
	units := make([]*models.Unit, 0, len(file.Tasks))
	for i, t := range file.Tasks {
		if t.Name == "" {
			return nil, fmt.Errorf("backlog task %d has no name", i+1)
		}
		id := t.ID
		if id == "" {
			id = uuid.NewString()
		}
		if seen[id] {
			return nil, fmt.Errorf("backlog task id %q appears twice", id)
		}
		seen[id] = true

		hours := t.EstimatedHours
		if hours <= 0 {
			hours = 1
		}

		units = append(units, &models.Unit{
			ID:             id,
			Kind:           models.KindTask,
			Name:           t.Name,
			Description:    t.Description,
			EstimatedHours: hours,
			Priority:       t.Priority,
			Labels:         t.Labels,
			DependsOn:      t.DependsOn,
		})
	}
	return units, nil
}
