package bitswap

import (
	"sync"

	cid "github.com/ipfs/go-cid"
)

// pendingWants refcounts in-flight local Get/GetMany callers per CID, so a
// CANCEL is only sent to peers once every caller interested in that CID has
// either received the block or given up. Overlapping Get calls for the
// same CID must not cancel each other's want.
type pendingWants struct {
	mu   sync.Mutex
	refs map[string]int
}

func newPendingWants() *pendingWants {
	return &pendingWants{refs: make(map[string]int)}
}

// add records one more interested caller for each of ks, returning the
// subset that just transitioned from zero to one references (those, and
// only those, need a fresh WantBlocks call).
func (pw *pendingWants) add(ks []cid.Cid) []cid.Cid {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	var fresh []cid.Cid
	for _, k := range ks {
		key := k.KeyString()
		if pw.refs[key] == 0 {
			fresh = append(fresh, k)
		}
		pw.refs[key]++
	}
	return fresh
}

// release drops one interested caller for each of ks, returning the subset
// that just transitioned to zero references (those, and only those, need a
// CancelWants call).
func (pw *pendingWants) release(ks []cid.Cid) []cid.Cid {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	var done []cid.Cid
	for _, k := range ks {
		key := k.KeyString()
		if pw.refs[key] == 0 {
			continue
		}
		pw.refs[key]--
		if pw.refs[key] == 0 {
			done = append(done, k)
			delete(pw.refs, key)
		}
	}
	return done
}

// clear drops every reference for each of ks unconditionally, returning
// the subset that had at least one outstanding reference. Used once a
// block for a CID actually arrives: the want is satisfied for every local
// caller at once, regardless of how many are still waiting on their own
// context to end.
func (pw *pendingWants) clear(ks []cid.Cid) []cid.Cid {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	var done []cid.Cid
	for _, k := range ks {
		key := k.KeyString()
		if pw.refs[key] == 0 {
			continue
		}
		done = append(done, k)
		delete(pw.refs, key)
	}
	return done
}

// unwantRegistry fans out a one-shot abort signal to every local GetBlock
// caller currently awaiting a given CID, so Unwant(cid) can fail them
// immediately without the block pubsub in internal/notifications ever
// needing to represent failure; it only ever represents delivery.
type unwantRegistry struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func newUnwantRegistry() *unwantRegistry {
	return &unwantRegistry{subs: make(map[string]map[chan struct{}]struct{})}
}

// subscribe registers a fresh abort channel for c. Callers must
// unsubscribe once they stop waiting, whether they resolved normally or
// via abort, to avoid leaking the registration.
func (u *unwantRegistry) subscribe(c cid.Cid) chan struct{} {
	ch := make(chan struct{})
	key := c.KeyString()
	u.mu.Lock()
	if u.subs[key] == nil {
		u.subs[key] = make(map[chan struct{}]struct{})
	}
	u.subs[key][ch] = struct{}{}
	u.mu.Unlock()
	return ch
}

func (u *unwantRegistry) unsubscribe(c cid.Cid, ch chan struct{}) {
	key := c.KeyString()
	u.mu.Lock()
	if set, ok := u.subs[key]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(u.subs, key)
		}
	}
	u.mu.Unlock()
}

// fire closes every abort channel currently registered for c, waking every
// caller blocked waiting on it, then forgets them (a one-shot signal).
func (u *unwantRegistry) fire(c cid.Cid) {
	key := c.KeyString()
	u.mu.Lock()
	set := u.subs[key]
	delete(u.subs, key)
	u.mu.Unlock()
	for ch := range set {
		close(ch)
	}
}
