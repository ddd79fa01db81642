/*
Package transform validates transform steps and turns them into a form that
workers can rebuild on their side of an isolation boundary.

# Steps

A Step pairs an optional name with a transform. The transform is either a
Func value or a Ref naming a function in a Registry:

	transform.MustRegister("double", func(ctx context.Context, in any) (any, error) {
		return in.(int) * 2, nil
	})

	steps := []transform.Step{
		{Name: "double", Ref: "double"},
		{Name: "inc", Transform: func(ctx context.Context, in any) (any, error) {
			return in.(int) + 1, nil
		}},
	}

# Transfer

Transfer checks every step in order and produces a Program:

	prog, err := transform.Transfer(transform.Default, steps, transform.NewScanner(false))

A step with neither a Transform nor a Ref is a ConfigurationError. A step
whose text form matches the deny-list is an UnsafeTransformError. Both are
reported before any worker exists.

Each serialized step carries a Code. Registered functions travel by name,
so a worker process running the same binary can resolve them from its own
registry. Unregistered closures get a call-scoped code of the form
symbol#index; only in-process workers can run them.

# Deny-list

The Scanner rejects text that mentions process control, dynamic loading,
reflection, goroutine spawning or timer scheduling. Delay primitives
(time.Sleep, time.After) are rejected too unless delays are allowed.

The scan is textual. It only sees what the step exposes: its Source or
the source registered with WithSource. A closure or registered function
without source text is not scanned at all. It is a guard against
mistakes and is easily defeated on purpose.
*/
package transform
