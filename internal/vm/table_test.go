package vm

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableInsertGet(t *testing.T) {
	var tbl Table
	assert.True(t, tbl.Insert(Number(1), Bool(true)))
	assert.False(t, tbl.Insert(Number(1), Bool(false)), "second insert of same key is an update")

	v, ok := tbl.Get(Number(1))
	require.True(t, ok)
	assert.False(t, v.AsBool())

	_, ok = tbl.Get(Number(2))
	assert.False(t, ok)
}

func TestTableRemoveLeavesTombstone(t *testing.T) {
	machine := New()
	var tbl Table
	keys := make([]Value, 16)
	for i := range keys {
		keys[i] = ObjVal(machine.InternString(fmt.Sprintf("key-%d", i)))
		tbl.Insert(keys[i], Number(float64(i)))
	}
	assert.True(t, tbl.Remove(keys[3]))
	assert.False(t, tbl.Remove(keys[3]), "double remove")

	// Every other key survives the tombstone in its probe sequence.
	for i, k := range keys {
		if i == 3 {
			_, ok := tbl.Get(k)
			assert.False(t, ok)
			continue
		}
		v, ok := tbl.Get(k)
		require.True(t, ok, "key %d", i)
		assert.Equal(t, float64(i), v.AsNumber())
	}
	assert.Equal(t, len(keys)-1, tbl.Len())
}

func TestTableGrowthKeepsEntries(t *testing.T) {
	machine := New()
	var tbl Table
	const n = 500
	for i := 0; i < n; i++ {
		tbl.Insert(ObjVal(machine.InternString(fmt.Sprintf("g%d", i))), Number(float64(i)))
	}
	assert.Equal(t, n, tbl.Len())
	for i := 0; i < n; i++ {
		v, ok := tbl.Get(ObjVal(machine.InternString(fmt.Sprintf("g%d", i))))
		require.True(t, ok)
		assert.Equal(t, float64(i), v.AsNumber())
	}
}

func TestTombstoneReuseOnInsert(t *testing.T) {
	machine := New()
	var tbl Table
	k := ObjVal(machine.InternString("reused"))
	tbl.Insert(k, Number(1))
	tbl.Remove(k)
	tbl.Insert(k, Number(2))
	v, ok := tbl.Get(k)
	require.True(t, ok)
	assert.Equal(t, 2.0, v.AsNumber())
}

func TestTableInto(t *testing.T) {
	machine := New()
	var src, dst Table
	a := ObjVal(machine.InternString("a"))
	b := ObjVal(machine.InternString("b"))
	src.Insert(a, Number(1))
	src.Insert(b, Number(2))
	dst.Insert(a, Number(99))
	src.Into(&dst)

	v, _ := dst.Get(a)
	assert.Equal(t, 1.0, v.AsNumber(), "into overwrites")
	v, _ = dst.Get(b)
	assert.Equal(t, 2.0, v.AsNumber())
}

func TestHashNumberSpecials(t *testing.T) {
	assert.Equal(t, hashNumber(math.NaN()), hashNumber(math.NaN()), "NaN hashes to a fixed constant")
	assert.Equal(t, hashNumber(math.Inf(1)), hashNumber(math.Inf(1)))
	assert.NotEqual(t, hashNumber(math.Inf(1)), hashNumber(math.Inf(-1)))
	assert.NotEqual(t, hashNumber(1), hashNumber(2))
}

func TestValueKeyKinds(t *testing.T) {
	var tbl Table
	tbl.Insert(Bool(true), Number(1))
	tbl.Insert(Bool(false), Number(2))

	v, ok := tbl.Get(Bool(true))
	require.True(t, ok)
	assert.Equal(t, 1.0, v.AsNumber())
	v, ok = tbl.Get(Bool(false))
	require.True(t, ok)
	assert.Equal(t, 2.0, v.AsNumber())
}

func TestFindString(t *testing.T) {
	machine := New()
	s := machine.InternString("needle")
	var tbl Table
	tbl.Insert(ObjVal(s), Nil())

	found := tbl.FindString("needle", HashString("needle"))
	assert.Same(t, s, found)
	assert.Nil(t, tbl.FindString("missing", HashString("missing")))
}
