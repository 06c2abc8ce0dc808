package wantlist

import (
	"testing"

	cid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"
)

var testcids []cid.Cid

func init() {
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		h, err := multihash.Sum([]byte(s), multihash.SHA2_256, -1)
		if err != nil {
			panic(err)
		}
		testcids = append(testcids, cid.NewCidV1(cid.Raw, h))
	}
}

func assertHasCid(t *testing.T, w *Wantlist, c cid.Cid) {
	e, ok := w.Contains(c)
	require.True(t, ok, "expected to have %s", c)
	require.True(t, e.Cid.Equals(c))
}

func assertNotHasCid(t *testing.T, w *Wantlist, c cid.Cid) {
	_, ok := w.Contains(c)
	require.False(t, ok, "expected not to have %s", c)
}

func TestBasicWantlist(t *testing.T) {
	wl := New()

	wl.Add(testcids[0], 5, WantBlock)
	assertHasCid(t, wl, testcids[0])
	wl.Add(testcids[1], 4, WantBlock)
	assertHasCid(t, wl, testcids[0])
	assertHasCid(t, wl, testcids[1])

	require.Equal(t, 2, wl.Len())

	// adding the same cid again increments refcount, not entry count
	wl.Add(testcids[1], 4, WantBlock)
	assertHasCid(t, wl, testcids[1])
	require.Equal(t, 2, wl.Len())

	wl.Remove(testcids[0])
	assertHasCid(t, wl, testcids[1])
	assertNotHasCid(t, wl, testcids[0])
}

func TestRefCounting(t *testing.T) {
	wl := New()

	wl.Add(testcids[0], 5, WantBlock)
	wl.Add(testcids[0], 5, WantBlock)
	assertHasCid(t, wl, testcids[0])

	// one remove isn't enough, refcount is 2
	wl.Remove(testcids[0])
	assertHasCid(t, wl, testcids[0])
	e, _ := wl.Contains(testcids[0])
	require.Equal(t, 1, e.RefCnt)

	wl.Remove(testcids[0])
	assertNotHasCid(t, wl, testcids[0])
}

func TestRemoveForce(t *testing.T) {
	wl := New()
	wl.Add(testcids[0], 5, WantBlock)
	wl.Add(testcids[0], 5, WantBlock)

	require.True(t, wl.RemoveForce(testcids[0]))
	assertNotHasCid(t, wl, testcids[0])
	require.False(t, wl.RemoveForce(testcids[0]))
}

func TestPriorityUpgrade(t *testing.T) {
	wl := New()
	wl.Add(testcids[0], 1, WantBlock)
	wl.Add(testcids[0], 9, WantBlock)
	e, _ := wl.Contains(testcids[0])
	require.EqualValues(t, 9, e.Priority)
}

func TestSortedEntriesDeterministic(t *testing.T) {
	wl := New()
	for i := len(testcids) - 1; i >= 0; i-- {
		wl.Add(testcids[i], int32(i), WantBlock)
	}

	a := wl.SortedEntries()
	b := wl.SortedEntries()
	require.Equal(t, len(testcids), len(a))
	for i := range a {
		require.True(t, a[i].Cid.Equals(b[i].Cid))
	}
	for i := 1; i < len(a); i++ {
		require.True(t, string(a[i-1].Cid.Bytes()) <= string(a[i].Cid.Bytes()))
	}
}

func TestByPriorityBreaksTiesByInsertionOrder(t *testing.T) {
	wl := New()
	wl.Add(testcids[0], 1, WantBlock)
	wl.Add(testcids[1], 1, WantBlock)
	wl.Add(testcids[2], 1, WantBlock)

	es := wl.ByPriority()
	require.Len(t, es, 3)
	require.True(t, es[0].Cid.Equals(testcids[0]))
	require.True(t, es[1].Cid.Equals(testcids[1]))
	require.True(t, es[2].Cid.Equals(testcids[2]))
}
