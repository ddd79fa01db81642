package transform

import (
	"fmt"

	dterrors "github.com/vnykmshr/datatide/pkg/common/errors"
)

// Transfer validates steps in order and returns the Program workers
// rebuild. It fails on the first step that has no transform, names an
// unknown Ref or trips the scanner. A nil scanner uses NewScanner(false);
// a nil registry uses Default.
func Transfer(reg *Registry, steps []Step, sc *Scanner) (*Program, error) {
	if reg == nil {
		reg = Default
	}
	if sc == nil {
		sc = NewScanner(false)
	}

	prog := &Program{
		Steps:    make([]SerializedStep, len(steps)),
		Resolver: reg,
		local:    make([]Func, len(steps)),
	}

	for i, step := range steps {
		fn, code, text, err := resolveStep(reg, i, step)
		if err != nil {
			return nil, err
		}
		if step.Source != "" {
			text = step.Source
		}
		if err := sc.Scan(step.Name, text); err != nil {
			return nil, err
		}

		prog.Steps[i] = SerializedStep{Name: step.Name, Code: code}
		prog.local[i] = fn
	}

	return prog, nil
}

// resolveStep returns the function, code and default scan text of a step.
// Only source text is scanned: a function symbol says nothing about the
// body and its import path can look like a denied package.
func resolveStep(reg *Registry, i int, step Step) (Func, string, string, error) {
	if step.Transform == nil {
		if step.Ref == "" {
			return nil, "", "", &dterrors.ConfigurationError{
				Step:   step.Name,
				Index:  i,
				Reason: "Transform must be a function.",
			}
		}
		e, ok := reg.lookup(step.Ref)
		if !ok {
			return nil, "", "", &dterrors.ConfigurationError{
				Step:   step.Name,
				Index:  i,
				Reason: fmt.Sprintf("No transform registered as %q.", step.Ref),
			}
		}
		return e.fn, e.name, e.source, nil
	}

	symbol := symbolOf(step.Transform)
	if e, ok := reg.lookupSymbol(symbol); ok {
		return step.Transform, e.name, e.source, nil
	}
	return step.Transform, fmt.Sprintf("%s#%d", symbol, i), "", nil
}
