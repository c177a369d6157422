// Package config provides configuration loading for process definitions.
package config

import (
	"errors"
	"fmt"
	"maps"
	"os"

	"github.com/dukex/portal-processes/pkg/handlers"
	"github.com/dukex/portal-processes/pkg/models"
	"gopkg.in/yaml.v3"
)

var ErrInvalidProcessConfig = errors.New("invalid process configuration")

// ProcessConfig holds the steps a process starts with and the steps scheduled after a
// manual step completes without explicit next steps.
type ProcessConfig struct {
	InitialSteps map[models.ProcessType][]models.ProcessStepType     `yaml:"initial_steps"`
	FollowUps    map[models.ProcessStepType][]models.ProcessStepType `yaml:"follow_ups"`
}

// Default returns the built-in process configuration.
func Default(table *models.LegalityTable) ProcessConfig {
	config := ProcessConfig{
		InitialSteps: make(map[models.ProcessType][]models.ProcessStepType),
		FollowUps:    handlers.FollowUps(),
	}

	for _, processType := range table.ProcessTypes() {
		config.InitialSteps[processType] = handlers.InitialSteps(processType)
	}

	return config
}

// Load reads a YAML file and overlays its entries onto the defaults. An empty path
// returns the defaults.
func Load(path string, table *models.LegalityTable) (ProcessConfig, error) {
	config := Default(table)

	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ProcessConfig{}, fmt.Errorf("failed to read process config file: %w", err)
	}

	var file ProcessConfig

	err = yaml.Unmarshal(data, &file)
	if err != nil {
		return ProcessConfig{}, fmt.Errorf("failed to parse process config file: %w", err)
	}

	maps.Copy(config.InitialSteps, file.InitialSteps)
	maps.Copy(config.FollowUps, file.FollowUps)

	err = config.Validate(table)
	if err != nil {
		return ProcessConfig{}, err
	}

	return config, nil
}

// Validate checks every configured step against the legality table.
func (c ProcessConfig) Validate(table *models.LegalityTable) error {
	for processType, steps := range c.InitialSteps {
		if !table.IsKnownProcessType(processType) {
			return fmt.Errorf("%w: unknown process type %s", ErrInvalidProcessConfig, processType)
		}

		for _, stepType := range steps {
			err := table.Check(processType, stepType)
			if err != nil {
				return fmt.Errorf("%w: initial steps: %w", ErrInvalidProcessConfig, err)
			}
		}
	}

	for stepType, next := range c.FollowUps {
		definition, ok := table.Definition(stepType)
		if !ok {
			return fmt.Errorf("%w: unknown step type %s", ErrInvalidProcessConfig, stepType)
		}

		for _, processType := range definition.ProcessTypes {
			for _, nextType := range next {
				err := table.Check(processType, nextType)
				if err != nil {
					return fmt.Errorf("%w: follow-ups of %s: %w", ErrInvalidProcessConfig, stepType, err)
				}
			}
		}
	}

	return nil
}

// InitialStepsFor returns the configured initial steps of processType.
func (c ProcessConfig) InitialStepsFor(processType models.ProcessType) []models.ProcessStepType {
	return c.InitialSteps[processType]
}
