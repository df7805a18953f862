package draft_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/delaneyj/draftparty/draft"
	"github.com/delaneyj/draftparty/produce"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterState() map[string]any {
	return map[string]any{
		"count": 0,
		"log":   []any{},
		"theme": "dark",
	}
}

func setCount(n int) draft.Recipe {
	return func(d *produce.Draft) error {
		d.Set(n, "count")
		return nil
	}
}

func TestMutateWithoutProviderFails(t *testing.T) {
	s := draft.New(counterState())
	err := s.Mutate(setCount(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, draft.ErrNoProvider)
	assert.Equal(t, 0, s.State().(map[string]any)["count"])
}

func TestBufferedMutationsDrainInCallOrder(t *testing.T) {
	s := draft.New(counterState(), draft.WithBufferedMutations())
	for i := 1; i <= 3; i++ {
		i := i
		err := s.Mutate(func(d *produce.Draft) error {
			d.Append(i, "log")
			return nil
		})
		require.NoError(t, err)
	}
	// nothing applied yet
	assert.Equal(t, 0, len(s.State().(map[string]any)["log"].([]any)))

	_, err := s.Mount()
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3}, s.State().(map[string]any)["log"])
}

func TestSingleActiveProvider(t *testing.T) {
	s := draft.New(counterState())
	p, err := s.Mount()
	require.NoError(t, err)

	_, err = s.Mount()
	assert.ErrorIs(t, err, draft.ErrProviderMounted)

	p.Unmount()
	p.Unmount() // second teardown is a no-op

	_, err = s.Mount()
	assert.NoError(t, err)
}

func TestMutateAfterTeardownFails(t *testing.T) {
	s := draft.New(counterState())
	p, err := s.Mount()
	require.NoError(t, err)
	require.NoError(t, s.Mutate(setCount(1)))

	p.Unmount()
	assert.ErrorIs(t, s.Mutate(setCount(2)), draft.ErrNoProvider)
	assert.Equal(t, 1, s.State().(map[string]any)["count"])
}

func TestMountOverridesInitialState(t *testing.T) {
	s := draft.New(counterState())
	_, err := s.Mount(map[string]any{"count": 42})
	require.NoError(t, err)
	assert.Equal(t, 42, s.State().(map[string]any)["count"])
}

func TestNoopMutationKeepsSnapshotAndStaysSilent(t *testing.T) {
	s := draft.New(counterState())
	_, err := s.Mount()
	require.NoError(t, err)

	sel := draft.NewSelector("count", func(state any) any {
		return state.(map[string]any)["count"]
	})
	callCount := 0
	r, err := s.Subscribe(func(values []any, mutate func(draft.Recipe) error) {
		callCount++
	}, sel)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 1, callCount) // initial render only

	before := s.State()
	require.NoError(t, s.Mutate(setCount(0)))
	assert.True(t, produce.SameRef(before, s.State()))
	assert.Equal(t, 1, callCount)
}

func TestMutationBroadcastsBeforeReturning(t *testing.T) {
	s := draft.New(counterState())
	_, err := s.Mount()
	require.NoError(t, err)

	sel := draft.NewSelector("count", func(state any) any {
		return state.(map[string]any)["count"]
	})
	var rendered []any
	r, err := s.Subscribe(func(values []any, mutate func(draft.Recipe) error) {
		rendered = values
	}, sel)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, s.Mutate(setCount(7)))
	assert.Equal(t, []any{7}, rendered)
}

func TestStructuralSharingThroughTheStore(t *testing.T) {
	s := draft.New(counterState())
	_, err := s.Mount()
	require.NoError(t, err)

	before := s.State().(map[string]any)
	require.NoError(t, s.Mutate(setCount(3)))
	after := s.State().(map[string]any)

	assert.False(t, produce.SameRef(before, after))
	assert.True(t, produce.SameRef(before["log"], after["log"]))
}

func TestBatchCoalescesIntoOneBroadcast(t *testing.T) {
	s := draft.New(counterState())
	_, err := s.Mount()
	require.NoError(t, err)

	sel := draft.NewSelector("count", func(state any) any {
		return state.(map[string]any)["count"]
	})
	callCount := 0
	var last []any
	r, err := s.Subscribe(func(values []any, mutate func(draft.Recipe) error) {
		callCount++
		last = values
	}, sel)
	require.NoError(t, err)
	defer r.Close()
	callCount = 0

	s.Batch(func() {
		require.NoError(t, s.Mutate(setCount(1)))
		require.NoError(t, s.Mutate(setCount(2)))
		require.NoError(t, s.Mutate(setCount(3)))
	})

	assert.Equal(t, 1, callCount)
	assert.Equal(t, []any{3}, last)
}

func TestBatchOfNoopsBroadcastsNothing(t *testing.T) {
	s := draft.New(counterState())
	_, err := s.Mount()
	require.NoError(t, err)

	sel := draft.NewSelector("count", func(state any) any {
		return state.(map[string]any)["count"]
	})
	callCount := 0
	r, err := s.Subscribe(func(values []any, mutate func(draft.Recipe) error) {
		callCount++
	}, sel)
	require.NoError(t, err)
	defer r.Close()
	callCount = 0

	s.Batch(func() {
		require.NoError(t, s.Mutate(setCount(0)))
	})
	assert.Zero(t, callCount)
}

func TestMutatorBindsArguments(t *testing.T) {
	s := draft.New(counterState())
	_, err := s.Mount()
	require.NoError(t, err)

	setTheme := s.Mutator(func(d *produce.Draft, args ...any) error {
		d.Set(args[0], "theme")
		return nil
	})
	require.NoError(t, setTheme("light"))
	assert.Equal(t, "light", s.State().(map[string]any)["theme"])
}

func TestFailedRecipeLeavesStoreUnchanged(t *testing.T) {
	s := draft.New(counterState())
	_, err := s.Mount()
	require.NoError(t, err)

	sel := draft.NewSelector("count", func(state any) any {
		return state.(map[string]any)["count"]
	})
	callCount := 0
	r, err := s.Subscribe(func(values []any, mutate func(draft.Recipe) error) {
		callCount++
	}, sel)
	require.NoError(t, err)
	defer r.Close()
	callCount = 0

	boom := errors.New("boom")
	before := s.State()
	err = s.Mutate(func(d *produce.Draft) error {
		d.Set(99, "count")
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, produce.SameRef(before, s.State()))
	assert.Zero(t, callCount)
}

func TestDeepEqualityMasksEquivalentReplacement(t *testing.T) {
	s := draft.New(map[string]any{"list": []any{1, 2}}, draft.WithEquality(draft.DeepEquality))
	_, err := s.Mount()
	require.NoError(t, err)

	sel := draft.NewSelector("list", func(state any) any {
		return state.(map[string]any)["list"]
	})
	callCount := 0
	r, err := s.Subscribe(func(values []any, mutate func(draft.Recipe) error) {
		callCount++
	}, sel)
	require.NoError(t, err)
	defer r.Close()
	callCount = 0

	before := s.State()
	// a fresh but structurally identical slice: new snapshot, no re-render
	require.NoError(t, s.Mutate(func(d *produce.Draft) error {
		d.Set([]any{1, 2}, "list")
		return nil
	}))
	assert.False(t, produce.SameRef(before, s.State()))
	assert.Zero(t, callCount)
}

func TestEachStoreIsIndependent(t *testing.T) {
	a := draft.New(counterState())
	b := draft.New(counterState())
	_, err := a.Mount()
	require.NoError(t, err)

	assert.NoError(t, a.Mutate(setCount(5)))
	assert.ErrorIs(t, b.Mutate(setCount(5)), draft.ErrNoProvider)
	assert.Equal(t, 5, a.State().(map[string]any)["count"])
	assert.Equal(t, 0, b.State().(map[string]any)["count"])
}

func fieldState(n int) map[string]any {
	state := map[string]any{}
	for i := 1; i <= n; i++ {
		state[fmt.Sprintf("f%02d", i)] = 0
	}
	return state
}

func fieldSelector(i int) *draft.Selector {
	field := fmt.Sprintf("f%02d", i)
	return draft.NewSelector(field, func(state any) any {
		return state.(map[string]any)[field]
	})
}
