package mvstore

import (
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/mvstore/slab"
)

// LockKind distinguishes read locks pinned at the moving latest version
// from locks pinned permanently for frozen transactions.
type LockKind int

const (
	LockLive LockKind = iota
	LockFrozen
)

func (k LockKind) String() string {
	if k == LockFrozen {
		return "frozen"
	}
	return "live"
}

// ReadLock pins one committed version against reclamation. It is a plain
// value: copies are fine, but exactly one release (or leak) must happen
// per successful grab.
type ReadLock struct {
	Version  uint64
	TopRef   slab.Ref
	FileSize int64
	Slot     int
	Kind     LockKind
}

type versionInfo struct {
	topRef   slab.Ref
	fileSize int64
	pins     int
	leaked   int
}

// lockRegistry tracks which versions exist, which are pinned, and by how
// many readers. Reader slots come from a bitmap so indices are reused
// densely. The onFree callback fires outside any version's last unpin so
// the owner can reclaim nodes of versions no longer reachable.
type lockRegistry struct {
	mu       sync.Mutex
	slots    *roaring.Bitmap
	versions map[uint64]*versionInfo
	latest   uint64
	closed   bool
	onFree   func()
}

func newLockRegistry(onFree func()) *lockRegistry {
	return &lockRegistry{
		slots:    roaring.New(),
		versions: make(map[uint64]*versionInfo),
		onFree:   onFree,
	}
}

func (r *lockRegistry) allocSlotLocked() int {
	var i uint32
	for r.slots.Contains(i) {
		i++
	}
	r.slots.Add(i)
	return int(i)
}

// publish registers a newly committed version and makes it the latest.
// Versions are strictly increasing.
func (r *lockRegistry) publish(version uint64, topRef slab.Ref, fileSize int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if version <= r.latest {
		panic(fmt.Sprintf("mvstore: version %d published after %d", version, r.latest))
	}
	r.versions[version] = &versionInfo{topRef: topRef, fileSize: fileSize}
	prev := r.latest
	r.latest = version

	// The previous latest stays only while somebody pins it.
	if prev != 0 {
		if info := r.versions[prev]; info != nil && info.pins == 0 && info.leaked == 0 {
			delete(r.versions, prev)
		}
	}
}

// grab pins a version. Version zero with a live kind pins the latest.
// Fails only when the registry is torn down or the version is unavailable.
func (r *lockRegistry) grab(kind LockKind, version uint64) (ReadLock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ReadLock{}, ErrDatabaseClosed
	}
	if version == 0 {
		version = r.latest
	}
	info, ok := r.versions[version]
	if !ok {
		return ReadLock{}, fmt.Errorf("%w: %d", ErrNoSuchVersion, version)
	}
	info.pins++
	return ReadLock{
		Version:  version,
		TopRef:   info.topRef,
		FileSize: info.fileSize,
		Slot:     r.allocSlotLocked(),
		Kind:     kind,
	}, nil
}

// release unpins exactly once. Dropping the last pin of a version older
// than the latest makes it reclaimable and triggers the free callback.
func (r *lockRegistry) release(lock ReadLock) {
	r.mu.Lock()
	info, ok := r.versions[lock.Version]
	if !ok || info.pins == 0 {
		r.mu.Unlock()
		panic(fmt.Sprintf("mvstore: release of unpinned version %d", lock.Version))
	}
	r.slots.Remove(uint32(lock.Slot))
	info.pins--
	freed := false
	if info.pins == 0 && info.leaked == 0 && lock.Version != r.latest {
		delete(r.versions, lock.Version)
		freed = true
	}
	onFree := r.onFree
	r.mu.Unlock()

	if freed && onFree != nil {
		onFree()
	}
}

// leak converts a pin into a permanent one. The slot is returned but the
// version stays retained forever: after a failed flush the on-disk root
// pointer may still reference it, so its nodes must never be reclaimed.
func (r *lockRegistry) leak(lock ReadLock) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.versions[lock.Version]
	if !ok || info.pins == 0 {
		panic(fmt.Sprintf("mvstore: leak of unpinned version %d", lock.Version))
	}
	r.slots.Remove(uint32(lock.Slot))
	info.pins--
	info.leaked++
}

// latestVersion returns the newest committed version, zero before the
// first commit.
func (r *lockRegistry) latestVersion() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

// oldestPinned returns the oldest retained version, or zero when only the
// latest is live.
func (r *lockRegistry) oldestPinned() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var oldest uint64
	for v, info := range r.versions {
		if v == r.latest || (info.pins == 0 && info.leaked == 0) {
			continue
		}
		if oldest == 0 || v < oldest {
			oldest = v
		}
	}
	return oldest
}

// retainedRoots returns the top refs of every retained version, latest
// included. These are the live roots for node reclamation.
func (r *lockRegistry) retainedRoots() []slab.Ref {
	r.mu.Lock()
	defer r.mu.Unlock()

	roots := make([]slab.Ref, 0, len(r.versions))
	for v, info := range r.versions {
		if info.topRef == 0 {
			continue
		}
		if v == r.latest || info.pins > 0 || info.leaked > 0 {
			roots = append(roots, info.topRef)
		}
	}
	return roots
}

// pinCount returns the number of live pins across all versions, leaked
// ones excluded. Used by the close path to detect attached transactions.
func (r *lockRegistry) pinCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int
	for _, info := range r.versions {
		n += info.pins
	}
	return n
}

// pinsOf returns the pin count of one version. Test hook.
func (r *lockRegistry) pinsOf(version uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.versions[version]
	if !ok {
		return 0
	}
	return info.pins
}

// close marks the registry torn down. Later grabs fail.
func (r *lockRegistry) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}
