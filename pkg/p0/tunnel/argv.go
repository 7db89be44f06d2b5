package tunnel

// Argv builds an argument vector as ordered flag/value pairs. External tool
// invocations are assembled through this type rather than string
// interpolation so user-controlled values can never split into extra
// arguments.
type Argv struct {
	path string
	args []string
}

func NewArgv(path string) *Argv {
	return &Argv{path: path}
}

// Flag appends a bare flag such as "-N".
func (a *Argv) Flag(name string) *Argv {
	a.args = append(a.args, name)
	return a
}

// Option appends a flag with its value as two arguments.
func (a *Argv) Option(name, value string) *Argv {
	a.args = append(a.args, name, value)
	return a
}

// Arg appends a positional argument verbatim.
func (a *Argv) Arg(value string) *Argv {
	a.args = append(a.args, value)
	return a
}

// Append appends several positional arguments.
func (a *Argv) Append(values ...string) *Argv {
	a.args = append(a.args, values...)
	return a
}

func (a *Argv) Path() string { return a.path }

// Args returns a copy of the accumulated arguments.
func (a *Argv) Args() []string {
	out := make([]string, len(a.args))
	copy(out, a.args)
	return out
}
