package entity

import (
	"sort"
	"strings"
)

// suffixIndex maps fully-qualified dotted names and every right-aligned suffix
// of them back to the full name. A suffix shared by two names belongs to
// neither and is remembered as ambiguous.
type suffixIndex struct {
	names     map[string]uint32
	suffixes  map[string]string
	ambiguous map[string][]string
}

func newSuffixIndex() *suffixIndex {
	return &suffixIndex{
		names:     make(map[string]uint32),
		suffixes:  make(map[string]string),
		ambiguous: make(map[string][]string),
	}
}

func (s *suffixIndex) add(name string, id uint32) {
	s.names[name] = id
	parts := strings.Split(name, ".")
	for i := 1; i < len(parts); i++ {
		suffix := strings.Join(parts[i:], ".")
		if owners, ok := s.ambiguous[suffix]; ok {
			s.ambiguous[suffix] = append(owners, name)
			continue
		}
		if owner, ok := s.suffixes[suffix]; ok && owner != name {
			delete(s.suffixes, suffix)
			s.ambiguous[suffix] = []string{owner, name}
			continue
		}
		s.suffixes[suffix] = name
	}
}

// exact returns the full name only when name is itself fully qualified.
func (s *suffixIndex) exact(name string) (string, uint32, bool) {
	id, ok := s.names[name]
	return name, id, ok
}

// lookup tries the exact name first, then the unique-suffix table.
func (s *suffixIndex) lookup(name string) (string, uint32, bool) {
	if full, id, ok := s.exact(name); ok {
		return full, id, true
	}
	if full, ok := s.suffixes[name]; ok {
		return full, s.names[full], true
	}
	return "", 0, false
}

// candidates lists the names sharing an ambiguous suffix.
func (s *suffixIndex) candidates(name string) []string {
	owners := append([]string(nil), s.ambiguous[name]...)
	sort.Strings(owners)
	return owners
}

func (s *suffixIndex) sorted() []string {
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
