package ident

import (
	"strconv"
	"strings"
)

// Allocator hands out identifiers that are unique within one namespace (a
// table's column list, a run's table set). Names are compared
// case-insensitively.
type Allocator struct {
	used     map[string]struct{}
	reserved map[string]string
}

// NewAllocator returns an allocator. Names in reserved are never handed out
// as-is; a requested reserved name is renamed to "<name>_<reservedSuffix>"
// first.
func NewAllocator(reservedSuffix string, reserved ...string) *Allocator {
	a := &Allocator{
		used:     make(map[string]struct{}),
		reserved: make(map[string]string, len(reserved)),
	}
	for _, r := range reserved {
		r = strings.ToLower(r)
		a.reserved[r] = r + "_" + reservedSuffix
		a.used[r] = struct{}{}
	}
	return a
}

// Allocate sanitizes raw and returns a name not handed out before. On
// collision the suffixes _1, _2, ... are tried in order.
func (a *Allocator) Allocate(raw string) Ident {
	base := Truncate(Sanitize(raw), MaxLength)
	if renamed, ok := a.reserved[base]; ok {
		base = Truncate(renamed, MaxLength)
	}

	name := base
	for n := 1; a.taken(name); n++ {
		suffix := "_" + strconv.Itoa(n)
		name = Truncate(base, MaxLength-len(suffix)) + suffix
	}
	a.used[name] = struct{}{}
	return Ident(name)
}

// Claim marks name as used without allocating it.
func (a *Allocator) Claim(name string) {
	a.used[strings.ToLower(name)] = struct{}{}
}

func (a *Allocator) taken(name string) bool {
	_, ok := a.used[strings.ToLower(name)]
	return ok
}
