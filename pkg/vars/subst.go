package vars

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ormasoftchile/stepflow/pkg/eval"
)

// Placeholder grammar. `${name}` and `$<name>` are variable references;
// `${{ expr }}` and `$[[ expr ]]` are expressions.
var (
	exprCurlyRe   = regexp.MustCompile(`\$\{\{(.*?)\}\}`)
	exprBracketRe = regexp.MustCompile(`\$\[\[(.*?)\]\]`)
	varCurlyRe    = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	varAngleRe    = regexp.MustCompile(`\$<([A-Za-z_][A-Za-z0-9_]*)>`)
)

// Substitutor resolves placeholders in step fields against a variable store.
type Substitutor struct {
	store     *Store
	evaluator *eval.Evaluator
	logger    *slog.Logger
}

// NewSubstitutor wires a substitutor over the given store and evaluator.
func NewSubstitutor(store *Store, evaluator *eval.Evaluator, logger *slog.Logger) *Substitutor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Substitutor{store: store, evaluator: evaluator, logger: logger}
}

// Resolve substitutes placeholders in v. Strings are scanned for markers;
// lists and maps are resolved element by element; every other type passes
// through unchanged. A value that is exactly one marker resolves to the
// variable's or expression's native value, not its string form.
func (s *Substitutor) Resolve(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return s.resolveString(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			r, err := s.Resolve(item)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			r, err := s.Resolve(item)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// ResolveMap resolves every value of a params map.
func (s *Substitutor) ResolveMap(params map[string]any) (map[string]any, error) {
	if params == nil {
		return nil, nil
	}
	out, err := s.Resolve(params)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func (s *Substitutor) resolveString(text string) (any, error) {
	// Whole-value shortcuts keep native types. A value is whole when,
	// after trimming, the first marker match spans the entire string.
	trimmed := strings.TrimSpace(text)
	for _, re := range []*regexp.Regexp{exprCurlyRe, exprBracketRe} {
		if m := re.FindStringSubmatchIndex(trimmed); m != nil && m[0] == 0 && m[1] == len(trimmed) {
			return s.evalExpr(trimmed[m[2]:m[3]])
		}
	}
	for _, re := range []*regexp.Regexp{varCurlyRe, varAngleRe} {
		if m := re.FindStringSubmatchIndex(trimmed); m != nil && m[0] == 0 && m[1] == len(trimmed) {
			name := trimmed[m[2]:m[3]]
			if val, ok := s.store.Get(name); ok {
				return val, nil
			}
			s.logger.Debug("unresolved variable left literal", "name", name)
			return text, nil
		}
	}

	// Embedded expressions fail hard on error; embedded variable
	// references that do not resolve stay literal.
	var firstErr error
	replaceExpr := func(match string, re *regexp.Regexp) string {
		inner := re.FindStringSubmatch(match)[1]
		val, err := s.evalExpr(inner)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return match
		}
		return fmt.Sprintf("%v", val)
	}
	out := exprCurlyRe.ReplaceAllStringFunc(text, func(m string) string { return replaceExpr(m, exprCurlyRe) })
	out = exprBracketRe.ReplaceAllStringFunc(out, func(m string) string { return replaceExpr(m, exprBracketRe) })
	if firstErr != nil {
		return nil, firstErr
	}

	replaceVar := func(match string, re *regexp.Regexp) string {
		name := re.FindStringSubmatch(match)[1]
		if val, ok := s.store.Get(name); ok {
			return fmt.Sprintf("%v", val)
		}
		s.logger.Debug("unresolved variable left literal", "name", name)
		return match
	}
	out = varCurlyRe.ReplaceAllStringFunc(out, func(m string) string { return replaceVar(m, varCurlyRe) })
	out = varAngleRe.ReplaceAllStringFunc(out, func(m string) string { return replaceVar(m, varAngleRe) })
	return out, nil
}

func (s *Substitutor) evalExpr(src string) (any, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("empty expression")
	}
	expanded, err := s.expandRefs(src)
	if err != nil {
		return nil, fmt.Errorf("expression %q: %w", src, err)
	}
	val, err := s.evaluator.Evaluate(expanded, s.store.Flatten())
	if err != nil {
		return nil, fmt.Errorf("expression %q: %w", src, err)
	}
	return val, nil
}

// expandRefs substitutes variable markers inside expression text before it
// reaches the evaluator. Unlike plain text, an unresolved reference here is
// a hard error.
func (s *Substitutor) expandRefs(src string) (string, error) {
	var firstErr error
	replace := func(match string, re *regexp.Regexp) string {
		name := re.FindStringSubmatch(match)[1]
		val, ok := s.store.Get(name)
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf("unresolved variable %q", name)
			}
			return match
		}
		return fmt.Sprintf("%v", val)
	}
	out := varCurlyRe.ReplaceAllStringFunc(src, func(m string) string { return replace(m, varCurlyRe) })
	out = varAngleRe.ReplaceAllStringFunc(out, func(m string) string { return replace(m, varAngleRe) })
	return out, firstErr
}
