package vm

import "fmt"

// Send-site caching
//
// Every send bytecode has its own cache slot, kept on the CompiledMethod and
// indexed by the pc of the send. Most sites only ever see one receiver
// class, a few see a handful and a very few see many:
//   - monomorphic: one (class, method) entry, replaced on a miss
//   - polymorphic: up to MaxPICEntries entries, then the site goes
//     megamorphic and always performs a full lookup
//
// Entries remember the cache epoch they were filled in. Any method
// dictionary change bumps the VM's epoch, which makes every entry stale at
// once. The cache only memoizes Class.Lookup; it never decides a send.

// CacheMode selects the send-site cache discipline.
type CacheMode uint8

const (
	CacheMonomorphic CacheMode = iota
	CachePolymorphic
	CacheOff
)

var cacheModeNames = [...]string{
	CacheMonomorphic: "monomorphic",
	CachePolymorphic: "polymorphic",
	CacheOff:         "off",
}

func (m CacheMode) String() string {
	if int(m) < len(cacheModeNames) {
		return cacheModeNames[m]
	}
	return "unknown"
}

// ParseCacheMode parses "off", "monomorphic" or "polymorphic".
func ParseCacheMode(s string) (CacheMode, error) {
	for i, name := range cacheModeNames {
		if name == s {
			return CacheMode(i), nil
		}
	}
	return CacheMonomorphic, fmt.Errorf("vm: unknown cache mode %q", s)
}

// MaxPICEntries is the number of classes a polymorphic site remembers.
const MaxPICEntries = 6

type siteState uint8

const (
	siteEmpty siteState = iota
	siteFilled
	siteMegamorphic
)

type siteEntry struct {
	class  *Class
	method *CompiledMethod
}

// sendSite is the cache for one send bytecode.
type sendSite struct {
	state   siteState
	epoch   uint64
	count   int
	entries [MaxPICEntries]siteEntry
}

// CacheStats counts lookups served by the send-site cache.
type CacheStats struct {
	Hits   uint64
	Misses uint64
	// Megamorphic counts sends at sites that gave up caching.
	Megamorphic uint64
}

// HitRate returns the hit rate as a percentage.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) * 100 / float64(total)
}

// lookupMethod resolves selector for class, consulting and filling the
// site's cache. site may be nil for sends that have no bytecode site.
func (vm *VM) lookupMethod(site *sendSite, class *Class, selector Value) *CompiledMethod {
	if site == nil || vm.cacheMode == CacheOff {
		return class.Lookup(selector)
	}
	if site.epoch != vm.cacheEpoch {
		site.state = siteEmpty
		site.count = 0
		site.epoch = vm.cacheEpoch
	}
	switch site.state {
	case siteFilled:
		for i := 0; i < site.count; i++ {
			if site.entries[i].class == class {
				vm.cacheStats.Hits++
				return site.entries[i].method
			}
		}
	case siteMegamorphic:
		vm.cacheStats.Megamorphic++
		return class.Lookup(selector)
	}
	vm.cacheStats.Misses++
	method := class.Lookup(selector)
	if method == nil {
		return nil
	}
	switch {
	case vm.cacheMode == CacheMonomorphic || site.state == siteEmpty:
		site.entries[0] = siteEntry{class, method}
		site.count = 1
		site.state = siteFilled
	case site.count < MaxPICEntries:
		site.entries[site.count] = siteEntry{class, method}
		site.count++
	default:
		site.state = siteMegamorphic
		site.entries = [MaxPICEntries]siteEntry{}
		site.count = 0
	}
	return method
}

// invalidateCaches makes every send-site entry stale.
func (vm *VM) invalidateCaches() {
	vm.cacheEpoch++
}

// CacheStats returns the send-site cache counters.
func (vm *VM) CacheStats() CacheStats { return vm.cacheStats }

// SetCacheMode changes the cache discipline; existing entries are dropped.
func (vm *VM) SetCacheMode(mode CacheMode) {
	vm.cacheMode = mode
	vm.invalidateCaches()
}
