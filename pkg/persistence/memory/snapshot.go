package memory

import (
	"cmp"
	"slices"

	"github.com/dukex/portal-processes/pkg/models"
)

// Snapshot is a serialisable copy of the store contents. Steps keep their creation order.
type Snapshot struct {
	Processes []models.Process        `json:"processes"`
	Steps     []models.ProcessStep    `json:"steps"`
	Checklist []models.ChecklistEntry `json:"checklist"`
}

func (s *state) snapshot() Snapshot {
	snapshot := Snapshot{
		Processes: make([]models.Process, 0, len(s.processes)),
		Steps:     make([]models.ProcessStep, 0, len(s.stepOrder)),
		Checklist: make([]models.ChecklistEntry, 0, len(s.checklist)),
	}

	for _, process := range s.processes {
		snapshot.Processes = append(snapshot.Processes, cloneProcess(process))
	}

	for _, stepID := range s.stepOrder {
		snapshot.Steps = append(snapshot.Steps, cloneStep(s.steps[stepID]))
	}

	for _, entry := range s.checklist {
		snapshot.Checklist = append(snapshot.Checklist, entry)
	}

	slices.SortFunc(snapshot.Processes, func(a, b models.Process) int {
		return cmp.Compare(a.ID, b.ID)
	})

	slices.SortFunc(snapshot.Checklist, func(a, b models.ChecklistEntry) int {
		return cmp.Or(cmp.Compare(a.ExternalID, b.ExternalID), cmp.Compare(a.Type, b.Type))
	})

	return snapshot
}

func (s Snapshot) toState() *state {
	restored := newState()

	for _, process := range s.Processes {
		restored.processes[process.ID] = cloneProcess(process)
	}

	for _, step := range s.Steps {
		restored.steps[step.ID] = cloneStep(step)
		restored.stepOrder = append(restored.stepOrder, step.ID)
	}

	for _, entry := range s.Checklist {
		restored.checklist[checklistKey{externalID: entry.ExternalID, entryType: entry.Type}] = entry
	}

	return restored
}
