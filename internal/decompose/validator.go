package decompose

import (
	"errors"
	"fmt"
	"strings"

	"github.com/atriumhq/hivemind/pkg/models"
)

// ErrValidation indicates a proposal failed structural validation.
var ErrValidation = errors.New("decomposition validation failed")

// ValidationResult contains the findings from validating a subtask set.
// Errors are hard failures (the decomposition is discarded); warnings are
// logged and tolerated, since planner-authored text may be imprecise.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// validate checks the structural invariants of an assembled subtask list
// (siblings plus integration subtask):
//   - the dependency subgraph is acyclic (hard)
//   - no subtask depends on a sibling with a strictly higher order, except
//     through the integration subtask (soft)
//   - every requires claim names something an earlier sibling provides (soft)
func validate(subtasks []*models.Unit) ValidationResult {
	var result ValidationResult

	if err := ValidateNoCycles(subtasks); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}

	byID := make(map[string]*models.Unit, len(subtasks))
	for _, s := range subtasks {
		byID[s.ID] = s
	}

	for _, s := range subtasks {
		if s.Integration {
			continue
		}
		for _, depID := range s.DependsOn {
			dep, ok := byID[depID]
			if !ok {
				continue
			}
			if dep.Order > s.Order {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("subtask %q (order %d) depends on later sibling %q (order %d)", s.Name, s.Order, dep.Name, dep.Order))
			}
		}
	}

	checkContracts(subtasks, &result)
	return result
}

// checkContracts soft-validates that each requires claim overlaps with
// what an earlier sibling provides. Word-level matching only: the text is
// planner-authored and may be imprecise, so mismatches warn rather than
// fail.
func checkContracts(subtasks []*models.Unit, result *ValidationResult) {
	for _, s := range subtasks {
		if s.Integration || s.Requires == "" {
			continue
		}

		var provided strings.Builder
		for _, other := range subtasks {
			if other.ID == s.ID || other.Order >= s.Order {
				continue
			}
			provided.WriteString(strings.ToLower(other.Provides))
			provided.WriteString(" ")
			provided.WriteString(strings.ToLower(strings.Join(other.FileArtifacts, " ")))
			provided.WriteString(" ")
		}
		providedText := provided.String()

		if !anyTokenMatch(s.Requires, providedText) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("subtask %q requires %q but no earlier sibling provides it", s.Name, s.Requires))
		}
	}
}

// anyTokenMatch reports whether any significant word of the claim appears
// in the provided text.
func anyTokenMatch(claim, providedText string) bool {
	for _, token := range strings.Fields(strings.ToLower(claim)) {
		token = strings.Trim(token, ".,;:\"'`()[]{}")
		if len(token) < 4 {
			continue
		}
		if strings.Contains(providedText, token) {
			return true
		}
	}
	return false
}

// ValidateNoCycles checks that there are no circular dependencies among
// the units, reporting the cycle path when one is found.
func ValidateNoCycles(units []*models.Unit) error {
	byID := make(map[string]*models.Unit, len(units))
	for _, u := range units {
		byID[u.ID] = u
	}

	state := make(map[string]int) // 0=unvisited, 1=visiting, 2=visited

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		if state[id] == 2 {
			return nil
		}
		if state[id] == 1 {
			cycleStart := 0
			for i, p := range path {
				if p == id {
					cycleStart = i
					break
				}
			}
			cycle := append(path[cycleStart:], id)
			return fmt.Errorf("circular dependency detected: %s", strings.Join(cycle, " -> "))
		}

		state[id] = 1
		if u := byID[id]; u != nil {
			for _, depID := range u.DependsOn {
				if _, known := byID[depID]; !known {
					continue
				}
				if err := visit(depID, append(path, id)); err != nil {
					return err
				}
			}
		}
		state[id] = 2
		return nil
	}

	for _, u := range units {
		if state[u.ID] == 0 {
			if err := visit(u.ID, nil); err != nil {
				return err
			}
		}
	}
	return nil
}
