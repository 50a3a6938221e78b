package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causalverse/internal/causal"
	"github.com/roach88/causalverse/internal/ir"
)

func testOptions(prefix string) []Option {
	return []Option{
		WithUniverse("u"),
		WithClock(causal.NewClock()),
		WithIDGenerator(causal.NewSequenceGenerator(prefix)),
	}
}

func newTestStore(t *testing.T, key string, initial ir.IRValue, extra ...Option) *Store {
	t.Helper()
	s, err := New(key, initial, append(testOptions(key), extra...)...)
	require.NoError(t, err)
	return s
}

func mustSet(t *testing.T, s *Store, v ir.IRValue) causal.Event {
	t.Helper()
	require.NoError(t, s.Set(v))
	return s.Head()
}

// ============================================================================
// Get / Set
// ============================================================================

func TestNew_CreatesRootEvent(t *testing.T) {
	s := newTestStore(t, "counter", ir.IRInt(0))

	head := s.Head()
	assert.Equal(t, causal.KindCreate, head.Kind)
	assert.Empty(t, head.CausedBy)
	assert.Equal(t, "u", head.UniverseID)
	assert.Equal(t, ir.IRInt(0), s.Get())
	assert.Equal(t, DefaultBranch, s.ActiveBranch())
}

func TestNew_RejectsEmptyKey(t *testing.T) {
	_, err := New("", ir.IRInt(0))
	assert.Error(t, err)
}

func TestSet_GetReturnsLastValue(t *testing.T) {
	s := newTestStore(t, "counter", ir.IRInt(0))

	for i := 1; i <= 5; i++ {
		prev := s.Head()
		e := mustSet(t, s, ir.IRInt(i))
		assert.Equal(t, ir.IRInt(i), s.Get())
		assert.Equal(t, []string{prev.ID}, e.CausedBy)
		assert.Greater(t, e.Timestamp, prev.Timestamp)
	}
	assert.Equal(t, 6, s.Len())
}

func TestGet_ReturnsCopy(t *testing.T) {
	s := newTestStore(t, "obj", ir.IRObject{"x": ir.IRInt(1)})

	v := s.Get().(ir.IRObject)
	v["x"] = ir.IRInt(99)

	assert.True(t, ir.Equal(ir.IRObject{"x": ir.IRInt(1)}, s.Get()))
}

func TestDelete(t *testing.T) {
	s := newTestStore(t, "k", ir.IRString("v"))
	require.NoError(t, s.Delete())

	assert.Equal(t, ir.IRNull{}, s.Get())
	assert.Equal(t, causal.KindDelete, s.Head().Kind)
}

func TestSet_LinearHistoryIsTopological(t *testing.T) {
	s := newTestStore(t, "counter", ir.IRInt(0))
	for i := 1; i <= 20; i++ {
		mustSet(t, s, ir.IRInt(i))
	}

	g, err := s.Graph()
	require.NoError(t, err)

	var appended, ordered []string
	for _, e := range s.Events() {
		appended = append(appended, e.ID)
	}
	for _, e := range g.Topological() {
		ordered = append(ordered, e.ID)
	}
	assert.Equal(t, appended, ordered)
}

// ============================================================================
// Subscribers
// ============================================================================

func TestSubscribe(t *testing.T) {
	s := newTestStore(t, "counter", ir.IRInt(0))

	var seen []ir.IRValue
	unsubscribe := s.Subscribe(func(v ir.IRValue, e causal.Event) {
		assert.Equal(t, "counter", e.StoreKey)
		seen = append(seen, v)
	})

	mustSet(t, s, ir.IRInt(1))
	mustSet(t, s, ir.IRInt(2))
	unsubscribe()
	mustSet(t, s, ir.IRInt(3))

	assert.Equal(t, []ir.IRValue{ir.IRInt(1), ir.IRInt(2)}, seen)
}

func TestSubscribe_CanReadStore(t *testing.T) {
	s := newTestStore(t, "counter", ir.IRInt(0))

	var observed ir.IRValue
	s.Subscribe(func(ir.IRValue, causal.Event) {
		observed = s.Get()
	})
	mustSet(t, s, ir.IRInt(7))

	assert.Equal(t, ir.IRInt(7), observed)
}

// ============================================================================
// Time travel
// ============================================================================

func TestAt(t *testing.T) {
	s := newTestStore(t, "counter", ir.IRInt(0))
	root := s.Head()
	e1 := mustSet(t, s, ir.IRInt(1))
	e2 := mustSet(t, s, ir.IRInt(2))

	v, err := s.At(root.Timestamp)
	require.NoError(t, err)
	assert.Equal(t, ir.IRInt(0), v)

	v, err = s.At(e1.Timestamp)
	require.NoError(t, err)
	assert.Equal(t, ir.IRInt(1), v)

	v, err = s.At(e2.Timestamp + 100)
	require.NoError(t, err)
	assert.Equal(t, ir.IRInt(2), v)
}

func TestAt_Idempotent(t *testing.T) {
	s := newTestStore(t, "counter", ir.IRInt(0))
	e := mustSet(t, s, ir.IRInt(1))
	mustSet(t, s, ir.IRInt(2))

	first, err := s.At(e.Timestamp)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := s.At(e.Timestamp)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestAt_BeforeGenesis(t *testing.T) {
	s := newTestStore(t, "counter", ir.IRInt(0))
	root := s.Head()

	_, err := s.At(root.Timestamp - 1)
	require.Error(t, err)
	assert.True(t, IsBeforeGenesisError(err))

	var te *TemporalError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "counter", te.Store)
}

func TestAt_FollowsActiveBranchOnly(t *testing.T) {
	s := newTestStore(t, "counter", ir.IRInt(0))
	require.NoError(t, s.Branch("side"))
	require.NoError(t, s.SwitchBranch("side"))
	side := mustSet(t, s, ir.IRInt(50))
	require.NoError(t, s.SwitchBranch(DefaultBranch))

	v, err := s.At(side.Timestamp)
	require.NoError(t, err)
	assert.Equal(t, ir.IRInt(0), v, "side branch events are not on main's history")
}

func TestAtEvent(t *testing.T) {
	s := newTestStore(t, "counter", ir.IRInt(0))
	e1 := mustSet(t, s, ir.IRInt(1))
	mustSet(t, s, ir.IRInt(2))

	v, err := s.AtEvent(e1.ID)
	require.NoError(t, err)
	assert.Equal(t, ir.IRInt(1), v)

	_, err = s.AtEvent("missing")
	assert.True(t, IsUnknownEventError(err))
}

func TestResetHead_KeepsAbandonedTipsAddressable(t *testing.T) {
	s := newTestStore(t, "counter", ir.IRInt(0))
	e5 := mustSet(t, s, ir.IRInt(5))
	e6 := mustSet(t, s, ir.IRInt(6))
	e7 := mustSet(t, s, ir.IRInt(7))
	before := s.Len()

	require.NoError(t, s.ResetHead(DefaultBranch, e5.ID))
	assert.Equal(t, ir.IRInt(5), s.Get())
	assert.Equal(t, before, s.Len(), "reset creates no events")
	assert.Equal(t, []string{e7.ID}, s.Branches().Detached)

	for id, want := range map[string]ir.IRValue{e6.ID: ir.IRInt(6), e7.ID: ir.IRInt(7)} {
		v, err := s.AtEvent(id)
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}

	err := s.ResetHead(DefaultBranch, "missing")
	assert.True(t, IsUnknownEventError(err))
}

func TestResetHead_ForwardDoesNotDetach(t *testing.T) {
	s := newTestStore(t, "counter", ir.IRInt(0))
	e1 := mustSet(t, s, ir.IRInt(1))
	e2 := mustSet(t, s, ir.IRInt(2))

	require.NoError(t, s.ResetHead(DefaultBranch, e1.ID))
	require.NoError(t, s.ResetHead(DefaultBranch, e2.ID))
	assert.Empty(t, s.Branches().Detached, "a tip reached again is no longer detached")
}

// ============================================================================
// Branches
// ============================================================================

func TestBranch_SharesHistory(t *testing.T) {
	s := newTestStore(t, "counter", ir.IRInt(0))
	mustSet(t, s, ir.IRInt(3))
	n := s.Len()

	require.NoError(t, s.Branch("experiment"))
	assert.Equal(t, n, s.Len(), "branching copies no events")

	head, err := s.HeadOf("experiment")
	require.NoError(t, err)
	assert.Equal(t, s.Head().ID, head.ID)
}

func TestBranch_SwitchBackLeavesSourceUnchanged(t *testing.T) {
	s := newTestStore(t, "counter", ir.IRInt(0))
	mustSet(t, s, ir.IRInt(4))

	require.NoError(t, s.Branch("b"))
	require.NoError(t, s.SwitchBranch("b"))
	mustSet(t, s, ir.IRInt(40))
	require.NoError(t, s.SwitchBranch(DefaultBranch))

	assert.Equal(t, ir.IRInt(4), s.Get())
}

func TestBranch_Errors(t *testing.T) {
	s := newTestStore(t, "counter", ir.IRInt(0))

	require.NoError(t, s.Branch("b"))
	assert.ErrorIs(t, s.Branch("b"), ErrBranchExists)
	assert.ErrorIs(t, s.SwitchBranch("nope"), ErrUnknownBranch)
	assert.Error(t, s.Branch(""))

	_, err := s.HeadOf("nope")
	assert.ErrorIs(t, err, ErrUnknownBranch)
}

// ============================================================================
// Clone / Mark / Rollback
// ============================================================================

func TestClone_IsIsolated(t *testing.T) {
	s := newTestStore(t, "counter", ir.IRInt(0))
	mustSet(t, s, ir.IRInt(1))

	c := s.Clone("fork")
	assert.Equal(t, s.Len(), c.Len())
	assert.Equal(t, "fork", c.UniverseID())

	require.NoError(t, c.Set(ir.IRInt(99)))
	assert.Equal(t, ir.IRInt(1), s.Get())
	assert.Equal(t, "fork", c.Head().UniverseID)

	require.NoError(t, s.Set(ir.IRInt(2)))
	assert.Equal(t, ir.IRInt(99), c.Get())
}

func TestRollback(t *testing.T) {
	s := newTestStore(t, "counter", ir.IRInt(0))
	mustSet(t, s, ir.IRInt(1))
	m := s.Mark()
	headBefore := s.Head()

	e2 := mustSet(t, s, ir.IRInt(2))
	require.NoError(t, s.Branch("tmp"))
	assert.Len(t, s.Since(m), 1)

	s.Rollback(m)

	assert.Equal(t, ir.IRInt(1), s.Get())
	assert.Equal(t, headBefore.ID, s.Head().ID)
	assert.Empty(t, s.Since(m))
	assert.NotContains(t, s.Branches().Heads, "tmp")

	_, err := s.AtEvent(e2.ID)
	assert.True(t, IsUnknownEventError(err))

	// the store keeps working after a rollback
	mustSet(t, s, ir.IRInt(3))
	assert.Equal(t, ir.IRInt(3), s.Get())
}
