package schema

import (
	"fmt"
)

// ValidationError is one problem found in a step document.
type ValidationError struct {
	Path     string `json:"path"`
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidateFlow checks a flow document's step structure. All problems are
// collected; an empty result means valid.
func ValidateFlow(f *Flow) []*ValidationError {
	var errs []*ValidationError
	if len(f.Steps) == 0 {
		errs = append(errs, &ValidationError{Path: "steps", Message: "flow has no steps", Severity: "error"})
	}
	errs = append(errs, validateSteps(f.Steps, "steps")...)
	return errs
}

// ValidateModule checks a module document's step structure.
func ValidateModule(m *Module) []*ValidationError {
	var errs []*ValidationError
	if m.Name == "" {
		errs = append(errs, &ValidationError{Path: "name", Message: "module has no name", Severity: "error"})
	}
	if len(m.Steps) == 0 {
		errs = append(errs, &ValidationError{Path: "steps", Message: "module has no steps", Severity: "error"})
	}
	errs = append(errs, validateSteps(m.Steps, "steps")...)
	return errs
}

func validateSteps(steps []Step, path string) []*ValidationError {
	var errs []*ValidationError
	for i := range steps {
		s := &steps[i]
		p := fmt.Sprintf("%s[%d]", path, i)
		switch s.Kind() {
		case KindAction:
			// Action shape carries no nested lists.
			if len(s.Then) > 0 || len(s.Else) > 0 || len(s.Do) > 0 {
				errs = append(errs, &ValidationError{Path: p, Message: "action step must not carry then/else/do", Severity: "error"})
			}
		case KindConditional:
			if len(s.Then) == 0 {
				errs = append(errs, &ValidationError{Path: p + ".then", Message: "conditional has no then branch", Severity: "error"})
			}
			errs = append(errs, validateSteps(s.Then, p+".then")...)
			errs = append(errs, validateSteps(s.Else, p+".else")...)
		case KindLoop:
			if s.As == "" {
				errs = append(errs, &ValidationError{Path: p + ".as", Message: "loop has no iteration variable", Severity: "error"})
			}
			if len(s.Do) == 0 {
				errs = append(errs, &ValidationError{Path: p + ".do", Message: "loop has no body", Severity: "error"})
			}
			errs = append(errs, validateSteps(s.Do, p+".do")...)
		case KindInclude:
			// Module resolution happens at run time; nothing structural
			// to check beyond the shape itself.
		default:
			errs = append(errs, &ValidationError{Path: p, Message: "step must have exactly one of action, if, for_each, use_module", Severity: "error"})
		}
	}
	return errs
}
