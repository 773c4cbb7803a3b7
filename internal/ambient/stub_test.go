package ambient

// Shared test doubles: two context families and three extension types, with
// the hooks and counters the lifecycle tests need.

const (
	widgetKeyType = "Widget"
	gadgetKeyType = "Gadget"
)

// widgetContext is the primary test context: two inheritable fields, enter
// and exit hooks with injectable failures, and call counters.
type widgetContext struct {
	Base

	Endpoint string `json:"endpoint,omitempty"`
	Retries  *int   `json:"retries,omitempty"`

	enterErr   error
	exitErr    error
	enterCalls int
	exitCalls  int
}

func (c *widgetContext) KeyType() string { return widgetKeyType }

func (c *widgetContext) TypeTag() string { return "TestWidgetContext" }

func (c *widgetContext) Fields() []Field {
	return []Field{
		{
			Name:  "endpoint",
			IsSet: func() bool { return c.Endpoint != "" },
			Inherit: func(parent Context) {
				if p, ok := parent.(*widgetContext); ok {
					c.Endpoint = p.Endpoint
				}
			},
		},
		{
			Name:  "retries",
			IsSet: func() bool { return c.Retries != nil },
			Inherit: func(parent Context) {
				if p, ok := parent.(*widgetContext); ok {
					c.Retries = p.Retries
				}
			},
		},
	}
}

func (c *widgetContext) OnEnter() error {
	c.enterCalls++
	return c.enterErr
}

func (c *widgetContext) OnExit() error {
	c.exitCalls++
	return c.exitErr
}

// gadgetContext is a second key type for isolation tests.
type gadgetContext struct {
	Base

	Label string `json:"label,omitempty"`
}

func (c *gadgetContext) KeyType() string { return gadgetKeyType }

func (c *gadgetContext) TypeTag() string { return "TestGadgetContext" }

func (c *gadgetContext) Fields() []Field {
	return []Field{
		{
			Name:  "label",
			IsSet: func() bool { return c.Label != "" },
			Inherit: func(parent Context) {
				if p, ok := parent.(*gadgetContext); ok {
					c.Label = p.Label
				}
			},
		},
	}
}

type colorExt struct {
	ExtBase

	Color string `json:"color,omitempty"`
}

func (x *colorExt) Category() string { return "color" }

func (x *colorExt) TypeTag() string { return "TestColorExt" }

// themeExt shares the "color" category with colorExt, so one shadows the
// other in merges and two of them in one list is a duplicate.
type themeExt struct {
	ExtBase

	Theme string `json:"theme,omitempty"`
}

func (x *themeExt) Category() string { return "color" }

func (x *themeExt) TypeTag() string { return "TestThemeExt" }

type limitExt struct {
	ExtBase

	Max int `json:"max,omitempty"`
}

func (x *limitExt) Category() string { return "limit" }

func (x *limitExt) TypeTag() string { return "TestLimitExt" }

func init() {
	RegisterContextType("TestWidgetContext", func() Context { return &widgetContext{} })
	RegisterContextType("TestGadgetContext", func() Context { return &gadgetContext{} })
	RegisterExtensionType("TestColorExt", func() Extension { return &colorExt{} })
	RegisterExtensionType("TestThemeExt", func() Extension { return &themeExt{} })
	RegisterExtensionType("TestLimitExt", func() Extension { return &limitExt{} })
}

func intPtr(v int) *int { return &v }

// deserializedWidget builds a frozen, deserialized widget, the shape the
// snapshot codec produces and bulk reactivation consumes.
func deserializedWidget(endpoint string, retries int) *widgetContext {
	c := &widgetContext{Endpoint: endpoint, Retries: intPtr(retries)}
	c.base().markDeserialized()
	c.base().freeze()
	return c
}
