package domain

import (
	"slices"
	"strings"
)

// PathConflict is one shared target path between two packages
type PathConflict struct {
	A    string `json:"a"`
	B    string `json:"b"`
	Path string `json:"path"`
}

// ConflictReport is the result of checking one candidate against the enabled set
type ConflictReport struct {
	Candidate           string              `json:"candidate"`
	HasConflict         bool                `json:"has_conflict"`
	ConflictingPackages []string            `json:"conflicting_packages"`
	SharedPaths         map[string][]string `json:"shared_paths,omitempty"`
}

// PriorityOrder is a total order over a conflict group, most favored first
type PriorityOrder []string

// Key returns the group identity: sorted member names joined by ","
func (o PriorityOrder) Key() string {
	return GroupKey(o)
}

// Contains reports whether name is a member of the order
func (o PriorityOrder) Contains(name string) bool {
	return slices.Contains(o, name)
}

// After returns the members that come after name, in order
func (o PriorityOrder) After(name string) []string {
	idx := slices.Index(o, name)
	if idx < 0 {
		return nil
	}
	return o[idx+1:]
}

// Before returns the members that come before name, most favored first
func (o PriorityOrder) Before(name string) []string {
	idx := slices.Index(o, name)
	if idx < 0 {
		return nil
	}
	return o[:idx]
}

// ConflictGroup is a set of packages known to share at least one target path
type ConflictGroup struct {
	Key     string        `json:"key"`
	Members []string      `json:"members"`
	Order   PriorityOrder `json:"order"`
}

// GroupKey builds the lookup key of a package set
func GroupKey(names []string) string {
	sorted := slices.Clone(names)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	return strings.Join(sorted, ",")
}

// SplitKey returns the member names encoded in a group key
func SplitKey(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, ",")
}
