package ambient

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivate_NonRootWithoutParent(t *testing.T) {
	env := NewEnv()

	c := &widgetContext{Endpoint: "orphan"}
	act, err := env.Activate(c)
	require.Error(t, err)
	assert.Nil(t, act)
	assert.True(t, IsStackMisuse(err))
	assert.Contains(t, err.Error(), "requires an enclosing scope")
	assert.Nil(t, env.CurrentOrNone(widgetKeyType))
}

func TestActivate_InheritsUnsetFields(t *testing.T) {
	env := NewEnv()

	root := &widgetContext{Base: Base{Root: true}, Endpoint: "https://api.example.com", Retries: intPtr(5)}
	actRoot, err := env.Activate(root)
	require.NoError(t, err)

	t.Run("partially set child", func(t *testing.T) {
		child := &widgetContext{Retries: intPtr(2)}
		act, err := env.Activate(child)
		require.NoError(t, err)

		assert.Equal(t, "https://api.example.com", child.Endpoint, "unset field inherits from parent")
		require.NotNil(t, child.Retries)
		assert.Equal(t, 2, *child.Retries, "explicitly set field is never overwritten")

		require.NoError(t, act.Exit())
	})

	t.Run("fully unset child", func(t *testing.T) {
		child := &widgetContext{}
		act, err := env.Activate(child)
		require.NoError(t, err)

		assert.Equal(t, "https://api.example.com", child.Endpoint)
		require.NotNil(t, child.Retries)
		assert.Equal(t, 5, *child.Retries)

		require.NoError(t, act.Exit())
	})

	require.NoError(t, actRoot.Exit())
}

func TestActivate_FreezesContext(t *testing.T) {
	env := NewEnv()

	c := &widgetContext{Base: Base{Root: true}, Endpoint: "a"}
	assert.False(t, c.Frozen())

	act, err := env.Activate(c)
	require.NoError(t, err)
	assert.True(t, c.Frozen())

	err = c.SetExtensions(&colorExt{Color: "red"})
	require.Error(t, err)
	assert.True(t, IsStackMisuse(err))
	assert.Contains(t, err.Error(), "frozen")

	require.NoError(t, act.Exit())
}

func TestActivate_SameInstanceTwice(t *testing.T) {
	env := NewEnv()

	c := &widgetContext{Base: Base{Root: true}, Endpoint: "a"}
	act, err := env.Activate(c)
	require.NoError(t, err)

	again, err := env.Activate(c)
	require.Error(t, err)
	assert.Nil(t, again)
	assert.True(t, IsStackMisuse(err))
	assert.Contains(t, err.Error(), "activated twice")

	require.NoError(t, act.Exit())
}

func TestActivate_ExtensionMergeShadowsByCategory(t *testing.T) {
	env := NewEnv()

	parent := &widgetContext{Base: Base{Root: true}, Endpoint: "a"}
	require.NoError(t, parent.SetExtensions(&colorExt{Color: "blue"}, &limitExt{Max: 5}))
	actParent, err := env.Activate(parent)
	require.NoError(t, err)

	child := &widgetContext{}
	dark := &themeExt{Theme: "dark"}
	require.NoError(t, child.SetExtensions(dark))
	actChild, err := env.Activate(child)
	require.NoError(t, err)

	merged := child.Extensions()
	require.Len(t, merged, 2)
	assert.Same(t, dark, merged[0], "the child's own extensions come first")
	assert.Equal(t, "limit", merged[1].Category(), "non-shadowed parent extensions are appended in order")

	got, ok := child.ExtensionByCategory("color")
	require.True(t, ok)
	assert.Same(t, dark, got, "the child's extension shadows the parent's for the same category")

	gotLimit, ok := child.ExtensionByCategory("limit")
	require.True(t, ok)
	assert.Equal(t, 5, gotLimit.(*limitExt).Max)

	// The parent's own list is untouched by the merge.
	require.Len(t, parent.Extensions(), 2)
	assert.Equal(t, "blue", parent.Extensions()[0].(*colorExt).Color)

	require.NoError(t, actChild.Exit())
	require.NoError(t, actParent.Exit())
}

func TestActivate_ExtensionsFreezeWithContext(t *testing.T) {
	env := NewEnv()

	c := &widgetContext{Base: Base{Root: true}, Endpoint: "a"}
	ext := &colorExt{Color: "blue"}
	require.NoError(t, c.SetExtensions(ext))
	assert.False(t, ext.Frozen())

	act, err := env.Activate(c)
	require.NoError(t, err)
	assert.True(t, ext.Frozen())

	require.NoError(t, act.Exit())
}

func TestSetExtensions_DuplicateCategory(t *testing.T) {
	c := &widgetContext{Base: Base{Root: true}}

	err := c.SetExtensions(&colorExt{Color: "blue"}, &themeExt{Theme: "dark"})
	require.Error(t, err)
	assert.True(t, IsDuplicateExtension(err))
	assert.Contains(t, err.Error(), `"color"`)
	assert.Empty(t, c.Extensions())
}

func TestActivate_DuplicateCategoryInList(t *testing.T) {
	// A duplicate that slips past SetExtensions, here planted directly, is
	// still caught at activation.
	env := NewEnv()

	c := &widgetContext{Base: Base{Root: true}}
	c.base().exts = []Extension{&colorExt{Color: "blue"}, &themeExt{Theme: "dark"}}

	act, err := env.Activate(c)
	require.Error(t, err)
	assert.Nil(t, act)
	assert.True(t, IsDuplicateExtension(err))
	assert.Nil(t, env.CurrentOrNone(widgetKeyType))
}

func TestActivate_EnterHookFailure(t *testing.T) {
	env := NewEnv()

	boom := errors.New("boom")
	c := &widgetContext{Base: Base{Root: true}, Endpoint: "a", enterErr: boom}

	act, err := env.Activate(c)
	require.Error(t, err)
	assert.Nil(t, act)
	assert.ErrorIs(t, err, boom, "the hook error propagates unchanged")
	assert.Equal(t, 1, c.enterCalls)
	assert.Nil(t, env.CurrentOrNone(widgetKeyType), "a failed enter leaves the stack untouched")
}

func TestActive_ExitHookRuns(t *testing.T) {
	env := NewEnv()

	c := &widgetContext{Base: Base{Root: true}, Endpoint: "a"}
	act, err := env.Activate(c)
	require.NoError(t, err)
	require.NoError(t, act.Exit())
	assert.Equal(t, 1, c.enterCalls)
	assert.Equal(t, 1, c.exitCalls)
}

func TestActive_ExitHookFailure(t *testing.T) {
	env := NewEnv()

	fail := errors.New("release failed")
	c := &widgetContext{Base: Base{Root: true}, Endpoint: "a", exitErr: fail}
	act, err := env.Activate(c)
	require.NoError(t, err)

	err = act.Exit()
	assert.ErrorIs(t, err, fail)
	assert.Nil(t, env.CurrentOrNone(widgetKeyType), "the context is popped even when the hook fails")
}

func TestWith_RunsBodyInsideScope(t *testing.T) {
	env := NewEnv()

	c := &widgetContext{Base: Base{Root: true}, Endpoint: "scoped"}
	ran := false
	err := env.With(c, func() error {
		ran = true
		got, err := env.Current(widgetKeyType)
		require.NoError(t, err)
		assert.Same(t, c, got)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Nil(t, env.CurrentOrNone(widgetKeyType))
}

func TestWith_BodyErrorWins(t *testing.T) {
	env := NewEnv()

	bodyErr := errors.New("body failed")
	exitErr := errors.New("exit failed")
	c := &widgetContext{Base: Base{Root: true}, Endpoint: "a", exitErr: exitErr}

	err := env.With(c, func() error { return bodyErr })
	assert.ErrorIs(t, err, bodyErr, "a body error is never masked by an exit error")
}

func TestWith_ExitErrorReturnedWhenBodySucceeds(t *testing.T) {
	env := NewEnv()

	exitErr := errors.New("exit failed")
	c := &widgetContext{Base: Base{Root: true}, Endpoint: "a", exitErr: exitErr}

	err := env.With(c, func() error { return nil })
	assert.ErrorIs(t, err, exitErr)
}

func TestActivate_DeserializedBootstrapsEmptyStack(t *testing.T) {
	env := NewEnv()

	// Not a root, but deserialized: the root requirement was enforced in the
	// capturing environment.
	c := deserializedWidget("replayed", 3)
	act, err := env.Activate(c)
	require.NoError(t, err)

	got, err := env.Current(widgetKeyType)
	require.NoError(t, err)
	assert.Same(t, c, got)

	require.NoError(t, act.Exit())
}

func TestActivate_DeserializedSkipsInheritance(t *testing.T) {
	env := NewEnv()

	root := &widgetContext{Base: Base{Root: true}, Endpoint: "live", Retries: intPtr(9)}
	actRoot, err := env.Activate(root)
	require.NoError(t, err)

	c := &widgetContext{}
	c.base().markDeserialized()
	c.base().freeze()
	act, err := env.Activate(c)
	require.NoError(t, err)

	assert.Empty(t, c.Endpoint, "deserialized values are final, nothing is inherited")
	assert.Nil(t, c.Retries)

	require.NoError(t, act.Exit())
	require.NoError(t, actRoot.Exit())
}

func TestActivate_FrozenReentryOnEmptyStackNeedsRoot(t *testing.T) {
	env := NewEnv()

	c := &widgetContext{Endpoint: "a"}
	c.base().freeze()

	act, err := env.Activate(c)
	require.Error(t, err)
	assert.Nil(t, act)
	assert.True(t, IsStackMisuse(err))
}
