package contexts

import (
	"github.com/ambitlabs/ambit/internal/ambient"
)

// ProcessKeyType selects the process identity stack.
const ProcessKeyType = "Process"

// ProcessContext carries process identity: the environment name used for
// data store naming and similar parameters, and whether the process is
// running inside a test. Both fields travel to out-of-process tasks.
type ProcessContext struct {
	ambient.Base

	// EnvName selects the data store name and similar parameters.
	EnvName string `json:"env_name,omitempty"`

	// Testing is true inside a test. Pointer so an unset value inherits
	// from the enclosing context rather than reading as false.
	Testing *bool `json:"testing,omitempty"`
}

// KeyType implements ambient.Context.
func (c *ProcessContext) KeyType() string { return ProcessKeyType }

// TypeTag implements ambient.Context.
func (c *ProcessContext) TypeTag() string { return "ProcessContext" }

// Fields implements ambient.Context.
func (c *ProcessContext) Fields() []ambient.Field {
	return []ambient.Field{
		{
			Name:  "env_name",
			IsSet: func() bool { return c.EnvName != "" },
			Inherit: func(parent ambient.Context) {
				if p, ok := parent.(*ProcessContext); ok {
					c.EnvName = p.EnvName
				}
			},
		},
		{
			Name:  "testing",
			IsSet: func() bool { return c.Testing != nil },
			Inherit: func(parent ambient.Context) {
				if p, ok := parent.(*ProcessContext); ok {
					c.Testing = p.Testing
				}
			},
		},
	}
}

// IsTesting reports the testing flag, false when unset.
func (c *ProcessContext) IsTesting() bool {
	return c.Testing != nil && *c.Testing
}

// CurrentProcess returns the innermost active ProcessContext.
func CurrentProcess(env *ambient.Env) (*ProcessContext, error) {
	c, err := env.Current(ProcessKeyType)
	if err != nil {
		return nil, err
	}
	return c.(*ProcessContext), nil
}

// CurrentProcessOrNone returns the innermost active ProcessContext or nil.
func CurrentProcessOrNone(env *ambient.Env) *ProcessContext {
	c := env.CurrentOrNone(ProcessKeyType)
	if c == nil {
		return nil
	}
	return c.(*ProcessContext)
}

// RegisterProcessDefault installs the process-wide default ProcessContext
// built from settings values. The default is the root used when no scope
// is active.
func RegisterProcessDefault(envName string, testing bool) {
	ambient.RegisterContextDefault(ProcessKeyType, func() (ambient.Context, error) {
		t := testing
		return &ProcessContext{
			Base:    ambient.Base{Root: true},
			EnvName: envName,
			Testing: &t,
		}, nil
	})
}

func init() {
	ambient.RegisterContextType("ProcessContext", func() ambient.Context { return &ProcessContext{} })
}
