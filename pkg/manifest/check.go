package manifest

import (
	"github.com/lemniscat/lemniscat/pkg/condition"
	"github.com/lemniscat/lemniscat/pkg/engine"
	"github.com/lemniscat/lemniscat/pkg/steps"
)

// CheckConditions parses every task condition of m without evaluating it
// and returns one CONDITION_INVALID error per malformed condition.
func CheckConditions(m *engine.Manifest) []error {
	var errs []error
	check := func(capability string, s *engine.Solution) {
		for _, t := range s.Tasks {
			if t.Condition == nil {
				continue
			}
			if err := condition.Check(*t.Condition); err != nil {
				errs = append(errs, engine.NewValidationError("invalid task condition", err).
					WithCode(engine.ErrCodeConditionInvalid).
					WithCapability(capability).
					WithSolution(s.Name).
					WithTask(t.DisplayName))
			}
		}
	}

	if m.Pre != nil {
		check(steps.Global, m.Pre)
	}
	for _, name := range m.Order {
		c := m.Capability(name)
		if c == nil {
			continue
		}
		for _, s := range c.Solutions {
			check(name, s)
		}
	}
	if m.Post != nil {
		check(steps.Global, m.Post)
	}
	return errs
}
