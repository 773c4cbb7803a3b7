package contexts

import (
	"fmt"
	"strings"

	"github.com/ambitlabs/ambit/internal/ambient"
)

// TrialKeyType selects the trial naming stack.
const TrialKeyType = "Trial"

// TrialSeparator joins trial chain tokens into a single trial identifier.
const TrialSeparator = `\`

// TrialContext names one trial in an experiment as a chain of tokens
// accumulated across nested scopes. The joined chain is the trial
// identifier recorded with results.
type TrialContext struct {
	ambient.Base

	// TrialChain holds the trial identifier tokens, outermost first.
	TrialChain []string `json:"trial_chain,omitempty"`
}

// KeyType implements ambient.Context.
func (c *TrialContext) KeyType() string { return TrialKeyType }

// TypeTag implements ambient.Context.
func (c *TrialContext) TypeTag() string { return "TrialContext" }

// Fields implements ambient.Context.
func (c *TrialContext) Fields() []ambient.Field {
	return []ambient.Field{
		{
			Name:  "trial_chain",
			IsSet: func() bool { return len(c.TrialChain) > 0 },
			Inherit: func(parent ambient.Context) {
				if p, ok := parent.(*TrialContext); ok {
					c.TrialChain = append([]string(nil), p.TrialChain...)
				}
			},
		},
	}
}

// AppendToken returns a new unactivated TrialContext whose chain is the
// currently active chain plus the given token. An empty token leaves the
// chain unchanged, which makes conditional appending easy to write.
func AppendToken(env *ambient.Env, token string) (*TrialContext, error) {
	return AppendTokens(env, []string{token})
}

// AppendTokens is AppendToken for several tokens at once. Empty tokens are
// skipped; invalid tokens are rejected.
func AppendTokens(env *ambient.Env, tokens []string) (*TrialContext, error) {
	var chain []string
	if current := CurrentTrialOrNone(env); current != nil {
		chain = append(chain, current.TrialChain...)
	}
	for _, token := range tokens {
		if token == "" {
			continue
		}
		if err := checkTrialToken(token); err != nil {
			return nil, err
		}
		chain = append(chain, token)
	}
	return &TrialContext{Base: ambient.Base{Root: true}, TrialChain: chain}, nil
}

// Trial returns the joined trial identifier from the active chain, or ""
// when no trial context is active or the chain is empty.
func Trial(env *ambient.Env) string {
	current := CurrentTrialOrNone(env)
	if current == nil || len(current.TrialChain) == 0 {
		return ""
	}
	return strings.Join(current.TrialChain, TrialSeparator)
}

// CurrentTrialOrNone returns the innermost active TrialContext or nil.
func CurrentTrialOrNone(env *ambient.Env) *TrialContext {
	c := env.CurrentOrNone(TrialKeyType)
	if c == nil {
		return nil
	}
	return c.(*TrialContext)
}

// checkTrialToken rejects tokens that would corrupt the joined identifier.
func checkTrialToken(token string) error {
	if strings.Contains(token, "\n") {
		return fmt.Errorf("trial token %q must not contain a newline", token)
	}
	if strings.Contains(token, TrialSeparator) {
		return fmt.Errorf("trial token %q must not contain %q, it separates chain tokens", token, TrialSeparator)
	}
	return nil
}

func init() {
	ambient.RegisterContextType("TrialContext", func() ambient.Context { return &TrialContext{} })
}
