package vm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterningIsUnique(t *testing.T) {
	machine := New()
	a := machine.InternString("hello")
	b := machine.InternString("hello")
	assert.Same(t, a, b)
	c := machine.InternString("hellp")
	assert.NotSame(t, a, c)
}

func TestCollectFreesUnreachable(t *testing.T) {
	machine := New()
	name := machine.InternString("Junk")
	machine.push(ObjVal(name)) // keep the class name alive

	before := machine.ObjCount()
	for i := 0; i < 100; i++ {
		class := machine.newClass(name)
		machine.newInstance(class)
	}
	assert.Equal(t, before+200, machine.ObjCount())

	machine.CollectGarbage()
	assert.Equal(t, before, machine.ObjCount(), "unreachable classes and instances are swept")
}

func TestCollectKeepsStackRoots(t *testing.T) {
	machine := New()
	class := machine.newClass(machine.InternString("Kept"))
	machine.push(ObjVal(class))
	inst := machine.newInstance(class)
	machine.push(ObjVal(inst))

	machine.CollectGarbage()

	// Both survive and their headers are white again for the next cycle.
	assert.False(t, class.O.Marked)
	assert.False(t, inst.O.Marked)
	assert.Equal(t, "Kept", inst.Class.Name.Chars)
}

func TestWeakInternTable(t *testing.T) {
	machine := New()
	machine.InternString("transient-string-nobody-holds")
	require.NotNil(t, machine.strings.FindString("transient-string-nobody-holds", HashString("transient-string-nobody-holds")))

	machine.CollectGarbage()
	assert.Nil(t, machine.strings.FindString("transient-string-nobody-holds", HashString("transient-string-nobody-holds")),
		"interned strings are held weakly")
}

func TestStaticStringsAreRoots(t *testing.T) {
	machine := New()
	init := machine.ssInit
	disp := machine.ssDisplay
	// Nothing else references them; only the root marking keeps the
	// cached pointers valid through a collection.
	machine.CollectGarbage()
	assert.Same(t, init, machine.InternString("__init__"))
	assert.Same(t, disp, machine.InternString("__display__"))
}

func TestInternIdentityStableAcrossCollect(t *testing.T) {
	machine := New()
	s := machine.InternString("stable")
	machine.push(ObjVal(s))
	machine.CollectGarbage()
	assert.Same(t, s, machine.InternString("stable"))
}

func TestGlobalsAreRoots(t *testing.T) {
	machine := New()
	class := machine.newClass(machine.InternString("G"))
	machine.DefineGlobalDirect("g", ObjVal(class), false)

	machine.CollectGarbage()
	assert.Equal(t, "G", class.Name.Chars)

	v, ok := machine.globalVals[machine.GlobalIndex(machine.InternString("g"))].Value, true
	require.True(t, ok)
	assert.Same(t, class, v.O)
}

func TestUpvalueChainIsRoot(t *testing.T) {
	machine := New()
	machine.push(Number(42))
	u := machine.captureUpvalue(0, false)
	machine.CollectGarbage()
	assert.True(t, u.IsOpen())
	assert.Equal(t, 42.0, u.Get(machine).AsNumber())
}

func TestOpenUpvalueOrdering(t *testing.T) {
	machine := New()
	for i := 0; i < 5; i++ {
		machine.push(Number(float64(i)))
	}
	// Capture out of order; the list must stay sorted by decreasing slot.
	machine.captureUpvalue(1, false)
	machine.captureUpvalue(3, false)
	machine.captureUpvalue(0, false)
	machine.captureUpvalue(2, false)

	var slots []int
	for u := machine.openUpvals; u != nil; u = u.NextOpen {
		slots = append(slots, u.Location)
	}
	assert.Equal(t, []int{3, 2, 1, 0}, slots)

	// Re-capturing an already captured slot returns the same box.
	u := machine.captureUpvalue(2, false)
	again := machine.captureUpvalue(2, false)
	assert.Same(t, u, again)
}

func TestCloseUpvalues(t *testing.T) {
	machine := New()
	machine.push(Number(1))
	machine.push(Number(2))
	u1 := machine.captureUpvalue(0, false)
	u2 := machine.captureUpvalue(1, false)

	machine.closeUpvalues(1)
	assert.False(t, u2.IsOpen())
	assert.Equal(t, 2.0, u2.Get(machine).AsNumber())
	assert.True(t, u1.IsOpen())
	assert.Same(t, u1, machine.openUpvals)

	machine.closeUpvalues(0)
	assert.False(t, u1.IsOpen())
	assert.Nil(t, machine.openUpvals)
}

func TestBytesAccounting(t *testing.T) {
	machine := New()
	before := machine.BytesAllocated()
	machine.newClass(machine.InternString("Acct"))
	assert.Greater(t, machine.BytesAllocated(), before)

	machine.CollectGarbage()
	assert.LessOrEqual(t, machine.BytesAllocated(), before+uint64(sizeString)+uint64(len("Acct")),
		"sweep credits the freed bytes back")
}

func TestStressMode(t *testing.T) {
	machine := New()
	machine.SetGCStress(true)
	// Every allocation collects; reachable objects must survive anyway.
	var kept []*OString
	for i := 0; i < 50; i++ {
		s := machine.InternString(fmt.Sprintf("stress-%d", i))
		machine.push(ObjVal(s))
		kept = append(kept, s)
	}
	for i, s := range kept {
		assert.Equal(t, fmt.Sprintf("stress-%d", i), s.Chars)
	}
}
