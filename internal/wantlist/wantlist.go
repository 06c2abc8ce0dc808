// Package wantlist implements an ordered multiset of wanted CIDs, annotated
// with priority and want-type, and reference counted so that multiple
// interested parties (local getters, a remote peer's repeated want
// messages) can share one entry.
package wantlist

import (
	"bytes"
	"sort"

	cid "github.com/ipfs/go-cid"
)

// WantType describes whether the remote end of an entry wants the full
// block or only a Have/DontHave response. The legacy wire protocol
// (bitswap 1.0.0) only ever produces WantBlock.
type WantType int

const (
	WantBlock WantType = iota
	WantHave
)

// Entry is a single (cid, priority, want-type) record together with the
// reference count that keeps it alive and a cancel flag.
type Entry struct {
	Cid      cid.Cid
	Priority int32
	WantType WantType

	// RefCnt tracks how many interested parties this entry is being kept
	// alive for. It reaches zero exactly when the entry should be removed.
	RefCnt int

	// Cancel is a cancel flag carried with the entry. Wantlist never sets
	// it: Remove deletes an entry as soon as its RefCnt reaches zero
	// instead of holding it until a flush, and Add clears the flag.
	Cancel bool

	// seq records insertion order, used to break priority ties
	// deterministically in ByPriority.
	seq int64
}

type entrySlice []Entry

func (es entrySlice) Len() int      { return len(es) }
func (es entrySlice) Swap(i, j int) { es[i], es[j] = es[j], es[i] }
func (es entrySlice) Less(i, j int) bool {
	return bytes.Compare(es[i].Cid.Bytes(), es[j].Cid.Bytes()) < 0
}

// Wantlist is a mapping from CID to Entry. It is not safe for concurrent
// use; callers that need concurrent access (the want-manager, the decision
// engine's per-peer ledgers) own their Wantlist exclusively and serialize
// mutations themselves.
type Wantlist struct {
	set     map[string]Entry
	nextSeq int64
}

// New returns an empty Wantlist.
func New() *Wantlist {
	return &Wantlist{set: make(map[string]Entry)}
}

// Len returns the number of distinct CIDs currently wanted.
func (w *Wantlist) Len() int {
	return len(w.set)
}

// Add inserts c with the given priority/want-type, or increments its
// reference count if already present. Returns true if this call caused a
// new entry to be created.
func (w *Wantlist) Add(c cid.Cid, priority int32, wtype WantType) bool {
	k := c.KeyString()
	if e, ok := w.set[k]; ok {
		e.RefCnt++
		// A later, higher-priority want should win, matching how a
		// remote's repeated want messages are expected to refine priority.
		if priority > e.Priority {
			e.Priority = priority
		}
		e.Cancel = false
		w.set[k] = e
		return false
	}
	w.set[k] = Entry{
		Cid:      c,
		Priority: priority,
		WantType: wtype,
		RefCnt:   1,
		seq:      w.nextSeq,
	}
	w.nextSeq++
	return true
}

// Remove decrements c's reference count, deleting the entry once it drops
// to zero. Returns true if the entry was deleted by this call.
func (w *Wantlist) Remove(c cid.Cid) bool {
	k := c.KeyString()
	e, ok := w.set[k]
	if !ok {
		return false
	}
	e.RefCnt--
	if e.RefCnt <= 0 {
		delete(w.set, k)
		return true
	}
	w.set[k] = e
	return false
}

// RemoveForce unconditionally deletes c regardless of its reference count.
// Returns true if an entry was present to remove.
func (w *Wantlist) RemoveForce(c cid.Cid) bool {
	k := c.KeyString()
	if _, ok := w.set[k]; !ok {
		return false
	}
	delete(w.set, k)
	return true
}

// Contains reports whether c is present, and returns its current entry.
func (w *Wantlist) Contains(c cid.Cid) (Entry, bool) {
	e, ok := w.set[c.KeyString()]
	return e, ok
}

// Entries returns a snapshot slice of all entries in unspecified order.
// Safe for the caller to retain; it shares no state with the Wantlist.
func (w *Wantlist) Entries() []Entry {
	es := make([]Entry, 0, len(w.set))
	for _, e := range w.set {
		es = append(es, e)
	}
	return es
}

// SortedEntries returns entries ordered by CID canonical bytes, ascending.
// The ordering is a pure function of the wantlist's contents so that two
// peers computing the same wantlist serialize identical wire bytes.
func (w *Wantlist) SortedEntries() []Entry {
	es := entrySlice(w.Entries())
	sort.Sort(es)
	return es
}

// ByPriority returns entries ordered highest-priority first, breaking ties
// by insertion order (earlier Add calls sort first).
func (w *Wantlist) ByPriority() []Entry {
	es := w.Entries()
	sort.Slice(es, func(i, j int) bool {
		if es[i].Priority != es[j].Priority {
			return es[i].Priority > es[j].Priority
		}
		return es[i].seq < es[j].seq
	})
	return es
}
