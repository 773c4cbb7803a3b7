package contexts

import (
	"context"
	"fmt"

	"github.com/ambitlabs/ambit/internal/ambient"
	"github.com/ambitlabs/ambit/internal/record"
)

// DataKeyType selects the data source stack.
const DataKeyType = "Data"

// DataContext names the data source work runs against and the record keys
// it depends on. Resolution goes through a collaborator-supplied Loader;
// the context carries keys only, never storage handles, so it serializes
// cleanly into snapshots.
type DataContext struct {
	ambient.Base

	// DataSource names the record store the work reads and writes.
	DataSource string `json:"data_source,omitempty"`

	// RecordKeys lists storage keys this scope depends on.
	RecordKeys []string `json:"record_keys,omitempty"`
}

// KeyType implements ambient.Context.
func (c *DataContext) KeyType() string { return DataKeyType }

// TypeTag implements ambient.Context.
func (c *DataContext) TypeTag() string { return "DataContext" }

// Fields implements ambient.Context.
func (c *DataContext) Fields() []ambient.Field {
	return []ambient.Field{
		{
			Name:  "data_source",
			IsSet: func() bool { return c.DataSource != "" },
			Inherit: func(parent ambient.Context) {
				if p, ok := parent.(*DataContext); ok {
					c.DataSource = p.DataSource
				}
			},
		},
		{
			Name:  "record_keys",
			IsSet: func() bool { return len(c.RecordKeys) > 0 },
			Inherit: func(parent ambient.Context) {
				if p, ok := parent.(*DataContext); ok {
					c.RecordKeys = append([]string(nil), p.RecordKeys...)
				}
			},
		},
	}
}

// Resolve loads one of the context's referenced records through the
// collaborator. Asking for a key the context does not reference is an
// error: a scope may only touch the records it declared.
func (c *DataContext) Resolve(ctx context.Context, loader record.Loader, key string) (*record.Record, error) {
	if !c.References(key) {
		return nil, fmt.Errorf("record key %q is not referenced by the active data context", key)
	}
	return loader.LoadRecord(ctx, key)
}

// References reports whether the context lists the record key.
func (c *DataContext) References(key string) bool {
	for _, k := range c.RecordKeys {
		if k == key {
			return true
		}
	}
	return false
}

// CurrentDataOrNone returns the innermost active DataContext or nil.
func CurrentDataOrNone(env *ambient.Env) *DataContext {
	c := env.CurrentOrNone(DataKeyType)
	if c == nil {
		return nil
	}
	return c.(*DataContext)
}

func init() {
	ambient.RegisterContextType("DataContext", func() ambient.Context { return &DataContext{} })
}
