// Package recurse guards methods against re-entrant invocation through
// cycles of objects. A guarded call that re-enters the same call site on the
// same instance is short-circuited with a caller-supplied fallback value
// instead of recursing forever; distinct instances, and distinct call sites
// on the same instance, never block each other.
//
// The unit of recursion detection is the (instance, call site) pair, where
// the call site identifies the guarded method. By default it is derived
// from the invocation stack; an explicit Site token can be used instead:
//
//	func (n *Node) Depth() int {
//		return recurse.Once(n, func() int {
//			if n.Parent == nil {
//				return 0
//			}
//			return n.Parent.Depth() + 1
//		}, 0)
//	}
package recurse

import (
	"runtime"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// CallSite identifies a guarded call location.
type CallSite uint64

// Site returns a CallSite token for an explicit label. Two guarded calls
// using the same label on the same instance detect each other as recursion.
func Site(label string) CallSite {
	return CallSite(xxhash.Sum64String(label))
}

// guard is the process-wide association from instance identity to the set
// of call sites currently executing on it. Entries exist only while a
// guarded call is on the stack: the per-instance set is created on entry to
// the first guarded region and the whole entry is removed when the last
// region exits, so the table never extends an instance's lifetime past its
// own call stack.
var guard = struct {
	sync.Mutex
	active map[any]map[CallSite]struct{}
}{active: make(map[any]map[CallSite]struct{})}

// Once runs fn unless the calling site is already executing on instance, in
// which case it returns fallback without invoking fn. The in-progress marker
// is removed when fn returns or panics, so a failure inside fn never leaves
// the instance locked for that call site.
//
// The instance keys the guard table by identity and must be comparable —
// in practice a pointer to the guarded object.
func Once[T any](instance any, fn func() T, fallback T) T {
	return OnceAt(instance, callerSite(), fn, fallback)
}

// OnceAt is Once with an explicit call-site token.
func OnceAt[T any](instance any, site CallSite, fn func() T, fallback T) T {
	if !enter(instance, site) {
		return fallback
	}
	defer exit(instance, site)
	return fn()
}

// enter marks the (instance, site) pair as executing. It reports false when
// the pair is already marked, leaving the marked state untouched.
func enter(instance any, site CallSite) bool {
	guard.Lock()
	defer guard.Unlock()
	sites := guard.active[instance]
	if _, running := sites[site]; running {
		return false
	}
	if sites == nil {
		sites = make(map[CallSite]struct{})
		guard.active[instance] = sites
	}
	sites[site] = struct{}{}
	return true
}

// exit removes the (instance, site) marker, dropping the whole instance
// entry when no other guarded call remains on it.
func exit(instance any, site CallSite) {
	guard.Lock()
	defer guard.Unlock()
	sites := guard.active[instance]
	delete(sites, site)
	if len(sites) == 0 {
		delete(guard.active, instance)
	}
}

// guardFile is the source file holding the guard plumbing. Frames from it
// are skipped when deriving the call site from the stack.
var guardFile = func() string {
	_, file, _, _ := runtime.Caller(0)
	return file
}()

// callerSite identifies the first call frame outside the guard plumbing:
// the guarded method that invoked the guard. Keying on the guarded method
// keeps two guarded methods on one instance independent, while the same
// method stays one call site no matter which outer context invoked it or
// how deep the recursion runs.
func callerSite() CallSite {
	var pcs [16]uintptr
	n := runtime.Callers(2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	var h xxhash.Digest
	for {
		frame, more := frames.Next()
		if frame.File != guardFile {
			_, _ = h.WriteString(frame.Function)
			_, _ = h.WriteString("|")
			_, _ = h.WriteString(frame.File)
			break
		}
		if !more {
			break
		}
	}
	return CallSite(h.Sum64())
}
