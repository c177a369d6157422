package models

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrIllegalStepType indicates a step type that may not be created for a process type.
var ErrIllegalStepType = errors.New("illegal process step type")

// ErrInvalidStepTypeDefinition indicates an inconsistent step type catalogue.
var ErrInvalidStepTypeDefinition = errors.New("invalid process step type definition")

// IllegalStepTypeError reports an illegal (process type, step type) pair.
type IllegalStepTypeError struct {
	ProcessType ProcessType
	StepType    ProcessStepType
}

func (e *IllegalStepTypeError) Error() string {
	return fmt.Sprintf("process step type %s is not valid for process type %s", e.StepType, e.ProcessType)
}

func (e *IllegalStepTypeError) Is(target error) bool {
	return target == ErrIllegalStepType
}

// LegalityTable is the static mapping between process types and the step types they may create.
// It is read-only after construction and safe for concurrent use.
type LegalityTable struct {
	definitions    map[ProcessStepType]StepTypeDefinition
	byProcessType  map[ProcessType][]ProcessStepType
	retriggerOf    map[ProcessStepType]ProcessStepType
	processTypes   []ProcessType
	stepTypesOrder []ProcessStepType
}

// NewLegalityTable validates the definitions and builds the lookup tables.
func NewLegalityTable(definitions ...StepTypeDefinition) (*LegalityTable, error) {
	table := &LegalityTable{
		definitions:   make(map[ProcessStepType]StepTypeDefinition, len(definitions)),
		byProcessType: make(map[ProcessType][]ProcessStepType),
		retriggerOf:   make(map[ProcessStepType]ProcessStepType),
	}

	for _, def := range definitions {
		if def.Type == "" {
			return nil, fmt.Errorf("%w: empty step type", ErrInvalidStepTypeDefinition)
		}

		if _, exists := table.definitions[def.Type]; exists {
			return nil, fmt.Errorf("%w: step type %s declared twice", ErrInvalidStepTypeDefinition, def.Type)
		}

		if len(def.ProcessTypes) == 0 {
			return nil, fmt.Errorf("%w: step type %s belongs to no process type", ErrInvalidStepTypeDefinition, def.Type)
		}

		switch def.Kind {
		case StepKindExecutable, StepKindManual, StepKindRetrigger:
		default:
			return nil, fmt.Errorf("%w: step type %s has unknown kind %q", ErrInvalidStepTypeDefinition, def.Type, def.Kind)
		}

		table.definitions[def.Type] = def
		table.stepTypesOrder = append(table.stepTypesOrder, def.Type)

		for _, processType := range def.ProcessTypes {
			if _, known := table.byProcessType[processType]; !known {
				table.processTypes = append(table.processTypes, processType)
			}

			table.byProcessType[processType] = append(table.byProcessType[processType], def.Type)
		}
	}

	for _, def := range definitions {
		if def.Retrigger == "" {
			continue
		}

		variant, exists := table.definitions[def.Retrigger]
		if !exists {
			return nil, fmt.Errorf("%w: retrigger %s of %s is not declared", ErrInvalidStepTypeDefinition, def.Retrigger, def.Type)
		}

		if variant.Kind != StepKindRetrigger {
			return nil, fmt.Errorf("%w: retrigger %s of %s is not a retrigger step type", ErrInvalidStepTypeDefinition, def.Retrigger, def.Type)
		}

		for _, processType := range def.ProcessTypes {
			if !slices.Contains(variant.ProcessTypes, processType) {
				return nil, fmt.Errorf("%w: retrigger %s is not valid for %s", ErrInvalidStepTypeDefinition, def.Retrigger, processType)
			}
		}

		if previous, taken := table.retriggerOf[def.Retrigger]; taken {
			return nil, fmt.Errorf("%w: retrigger %s already substitutes for %s", ErrInvalidStepTypeDefinition, def.Retrigger, previous)
		}

		table.retriggerOf[def.Retrigger] = def.Type
	}

	for _, def := range definitions {
		if def.Kind == StepKindRetrigger {
			if _, linked := table.retriggerOf[def.Type]; !linked {
				return nil, fmt.Errorf("%w: retrigger step type %s re-enters no step type", ErrInvalidStepTypeDefinition, def.Type)
			}
		}
	}

	return table, nil
}

// MustNewLegalityTable is NewLegalityTable for built-in catalogues and panics on error.
func MustNewLegalityTable(definitions ...StepTypeDefinition) *LegalityTable {
	table, err := NewLegalityTable(definitions...)
	if err != nil {
		panic(err)
	}

	return table
}

var (
	defaultTable     *LegalityTable
	defaultTableOnce sync.Once
)

// DefaultLegalityTable returns the table built from DefaultStepTypeDefinitions.
func DefaultLegalityTable() *LegalityTable {
	defaultTableOnce.Do(func() {
		defaultTable = MustNewLegalityTable(DefaultStepTypeDefinitions()...)
	})

	return defaultTable
}

// ProcessTypes returns the process types in declaration order.
func (t *LegalityTable) ProcessTypes() []ProcessType {
	return slices.Clone(t.processTypes)
}

// StepTypes returns every declared step type in declaration order.
func (t *LegalityTable) StepTypes() []ProcessStepType {
	return slices.Clone(t.stepTypesOrder)
}

// IsKnownProcessType reports whether any step type is declared for processType.
func (t *LegalityTable) IsKnownProcessType(processType ProcessType) bool {
	_, known := t.byProcessType[processType]

	return known
}

// Definition returns the declaration of stepType.
func (t *LegalityTable) Definition(stepType ProcessStepType) (StepTypeDefinition, bool) {
	def, ok := t.definitions[stepType]

	return def, ok
}

// ValidStepTypesFor returns every step type the process type may ever create.
func (t *LegalityTable) ValidStepTypesFor(processType ProcessType) []ProcessStepType {
	return slices.Clone(t.byProcessType[processType])
}

// ExecutableStepTypesFor returns the handler-run step types of processType.
func (t *LegalityTable) ExecutableStepTypesFor(processType ProcessType) []ProcessStepType {
	return t.stepTypesOfKind(processType, StepKindExecutable)
}

// RetriggerStepTypesFor returns the retrigger step types of processType.
func (t *LegalityTable) RetriggerStepTypesFor(processType ProcessType) []ProcessStepType {
	return t.stepTypesOfKind(processType, StepKindRetrigger)
}

func (t *LegalityTable) stepTypesOfKind(processType ProcessType, kind StepKind) []ProcessStepType {
	var stepTypes []ProcessStepType

	for _, stepType := range t.byProcessType[processType] {
		if t.definitions[stepType].Kind == kind {
			stepTypes = append(stepTypes, stepType)
		}
	}

	return stepTypes
}

// IsLegal reports whether processType may create steps of stepType.
func (t *LegalityTable) IsLegal(processType ProcessType, stepType ProcessStepType) bool {
	def, ok := t.definitions[stepType]
	if !ok {
		return false
	}

	return slices.Contains(def.ProcessTypes, processType)
}

// Check returns an *IllegalStepTypeError when the pair is not legal.
func (t *LegalityTable) Check(processType ProcessType, stepType ProcessStepType) error {
	if !t.IsLegal(processType, stepType) {
		return &IllegalStepTypeError{ProcessType: processType, StepType: stepType}
	}

	return nil
}

// IsExecutable reports whether steps of stepType are run by a handler.
func (t *LegalityTable) IsExecutable(stepType ProcessStepType) bool {
	return t.definitions[stepType].Kind == StepKindExecutable
}

// IsManual reports whether steps of stepType wait for an operator or external callback.
func (t *LegalityTable) IsManual(stepType ProcessStepType) bool {
	return t.definitions[stepType].Kind == StepKindManual
}

// IsRetrigger reports whether stepType is a retrigger step type.
func (t *LegalityTable) IsRetrigger(stepType ProcessStepType) bool {
	return t.definitions[stepType].Kind == StepKindRetrigger
}

// RetriggerVariantOf returns the retrigger step type substituting for stepType.
func (t *LegalityTable) RetriggerVariantOf(stepType ProcessStepType) (ProcessStepType, bool) {
	def, ok := t.definitions[stepType]
	if !ok || def.Retrigger == "" {
		return "", false
	}

	return def.Retrigger, true
}

// RetriggeredStepOf returns the step type a retrigger step type re-enters.
func (t *LegalityTable) RetriggeredStepOf(retriggerType ProcessStepType) (ProcessStepType, bool) {
	original, ok := t.retriggerOf[retriggerType]

	return original, ok
}
