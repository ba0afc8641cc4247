package keywords

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Family is a named set of lower-case key-name substrings identifying
// ad-bearing fields. Families stay narrow: a false positive rewrites
// legitimate data.
type Family struct {
	Name     string
	Keywords []string
}

// NewFamily lower-cases and de-duplicates keywords, preserving order.
func NewFamily(name string, keywords ...string) Family {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return Family{Name: name, Keywords: out}
}

// Matches reports whether the lower-cased key contains any family keyword.
func (f Family) Matches(key string) bool {
	if len(f.Keywords) == 0 {
		return false
	}
	lower := strings.ToLower(key)
	for _, kw := range f.Keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Builtin family names.
const (
	FamilyAdSwitch   = "ad-switch"
	FamilyLaunch     = "launch"
	FamilyAdConfig   = "ad-config"
	FamilyAdTracking = "ad-tracking"
)

// FamilySet is a threadsafe catalog of families addressed by name.
type FamilySet struct {
	mu       sync.RWMutex
	families map[string]Family
}

// NewFamilySet constructs an empty set.
func NewFamilySet() *FamilySet {
	return &FamilySet{families: make(map[string]Family)}
}

// Register inserts or replaces a family.
func (s *FamilySet) Register(f Family) error {
	name := strings.ToLower(strings.TrimSpace(f.Name))
	if name == "" {
		return fmt.Errorf("keywords: family name is required")
	}
	if len(f.Keywords) == 0 {
		return fmt.Errorf("keywords: family %s has no keywords", f.Name)
	}
	f.Name = name
	s.mu.Lock()
	s.families[name] = f
	s.mu.Unlock()
	return nil
}

// Lookup resolves a family by name.
func (s *FamilySet) Lookup(name string) (Family, bool) {
	s.mu.RLock()
	f, ok := s.families[strings.ToLower(name)]
	s.mu.RUnlock()
	return f, ok
}

// Names returns the registered family names sorted.
func (s *FamilySet) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.families))
	for name := range s.families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone copies the set.
func (s *FamilySet) Clone() *FamilySet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := NewFamilySet()
	for name, f := range s.families {
		out.families[name] = f
	}
	return out
}

// BuiltinFamilies returns a fresh set holding the builtin families.
//
//   - ad-switch: flat feature-switch maps whose keys toggle ad surfaces. Only
//     applied shallowly, so the broad "ad" substring is tolerated there.
//   - launch: splash/launch configuration found anywhere in AB-test payloads.
//   - ad-config: ad containers inside mobile configuration trees.
//   - ad-tracking: ad attribution arguments attached to feed items.
func BuiltinFamilies() *FamilySet {
	s := NewFamilySet()
	for _, f := range []Family{
		NewFamily(FamilyAdSwitch, "ad", "splash", "banner", "popup"),
		NewFamily(FamilyLaunch, "splash", "launch", "startup", "openad", "bootad"),
		NewFamily(FamilyAdConfig,
			"advert", "adconfig", "adlist", "adinfo", "addata",
			"splash", "banner", "popup", "floatad", "float_ad", "floatlayer"),
		NewFamily(FamilyAdTracking, "idleads"),
	} {
		_ = s.Register(f)
	}
	return s
}
