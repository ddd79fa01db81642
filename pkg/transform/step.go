package transform

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"time"
)

// Func transforms one item. It should honor ctx; a step that ignores
// cancellation keeps running after its timeout has been reported.
type Func func(ctx context.Context, in any) (any, error)

// Step is one stage of a transform chain.
type Step struct {
	// Name labels the step in errors and logs. Optional.
	Name string

	// Transform is the function to run. When nil, Ref is used. The
	// deny-list cannot see compiled code: a closure is only scanned
	// through Source.
	Transform Func

	// Ref names a function in the registry passed to Transfer.
	Ref string

	// Source is an optional text form of the transform, checked by the
	// deny-list scan. It overrides source registered with WithSource.
	Source string
}

// SerializedStep is the transportable form of a Step.
type SerializedStep struct {
	Name string `msgpack:"name"`
	Code string `msgpack:"code"`
}

// Resolver maps a step code back to a function.
type Resolver interface {
	Resolve(code string) (Func, bool)
}

// Program is the validated, transferred form of a step list. It is built
// once per call and shared read-only by every worker.
type Program struct {
	Steps       []SerializedStep
	Resolver    Resolver
	StepTimeout time.Duration

	local []Func
}

// Local returns the function captured for step i at transfer time. Only
// programs built by Transfer in this process carry local functions.
func (p *Program) Local(i int) (Func, bool) {
	if p == nil || i < 0 || i >= len(p.local) || p.local[i] == nil {
		return nil, false
	}
	return p.local[i], true
}

// Len returns the number of steps.
func (p *Program) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Steps)
}

// symbolOf returns the runtime symbol of fn, e.g. "main.double" or
// "main.main.func1".
func symbolOf(fn Func) string {
	pc := reflect.ValueOf(fn).Pointer()
	if f := runtime.FuncForPC(pc); f != nil {
		return f.Name()
	}
	return fmt.Sprintf("func@%#x", pc)
}
