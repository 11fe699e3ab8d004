// Package routing maps source chats to the set of chats their messages are
// forwarded to.
package routing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/env"
)

// Group is one named source-to-target route
type Group struct {
	Name    string   `json:"name"`
	Sources []string `json:"sources"`
	Targets []string `json:"targets"`
}

// Table is immutable after construction and safe for concurrent reads
type Table struct {
	groups []Group
	// source id -> indexes into groups
	bySource map[string][]int
}

func NewTable(groups ...Group) *Table {
	t := &Table{bySource: make(map[string][]int)}
	for _, g := range groups {
		g.Sources = dedup(g.Sources)
		g.Targets = dedup(g.Targets)
		if len(g.Sources) == 0 || len(g.Targets) == 0 {
			continue
		}
		idx := len(t.groups)
		t.groups = append(t.groups, g)
		for _, src := range g.Sources {
			t.bySource[src] = append(t.bySource[src], idx)
		}
	}
	return t
}

// ResolveTargets returns the sorted union of targets of every group listing
// source. Unknown sources resolve to an empty set.
func (t *Table) ResolveTargets(source string) []string {
	if t == nil {
		return nil
	}
	var out []string
	for _, idx := range t.bySource[source] {
		out = append(out, t.groups[idx].Targets...)
	}
	return dedup(out)
}

// MatchingGroups returns the names of every group listing source
func (t *Table) MatchingGroups(source string) []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.bySource[source]))
	for _, idx := range t.bySource[source] {
		names = append(names, t.groups[idx].Name)
	}
	return names
}

func (t *Table) IsSource(source string) bool {
	if t == nil {
		return false
	}
	_, ok := t.bySource[source]
	return ok
}

func (t *Table) Groups() []Group {
	if t == nil {
		return nil
	}
	out := make([]Group, len(t.groups))
	copy(out, t.groups)
	return out
}

func dedup(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// GroupsFromEnv builds the route list from SOURCE_JIDS/TARGET_JIDS (the
// "default" group) plus ROUTE_<n>_NAME/SOURCES/TARGETS for n in
// 1..ROUTE_GROUP_COUNT
func GroupsFromEnv() []Group {
	var groups []Group
	if def := (Group{
		Name:    "default",
		Sources: env.GetEnvListOrDefault("SOURCE_JIDS", nil),
		Targets: env.GetEnvListOrDefault("TARGET_JIDS", nil),
	}); len(def.Sources) > 0 && len(def.Targets) > 0 {
		groups = append(groups, def)
	}

	count := env.GetEnvIntOrDefault("ROUTE_GROUP_COUNT", 5)
	for n := 1; n <= count; n++ {
		prefix := fmt.Sprintf("ROUTE_%d_", n)
		g := Group{
			Name:    env.GetEnvStringOrDefault(prefix+"NAME", fmt.Sprintf("route-%d", n)),
			Sources: env.GetEnvListOrDefault(prefix+"SOURCES", nil),
			Targets: env.GetEnvListOrDefault(prefix+"TARGETS", nil),
		}
		if len(g.Sources) == 0 || len(g.Targets) == 0 {
			continue
		}
		groups = append(groups, g)
	}
	return groups
}
