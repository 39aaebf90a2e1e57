package tagtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/voltbill/chargesync/internal/steve"
)

func tag(id, parent string) steve.Tag {
	return steve.Tag{IDTag: id, ParentIDTag: parent}
}

func ids(tags []steve.Tag) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, t.IDTag)
	}
	return out
}

func TestDescendantsOf(t *testing.T) {
	tags := []steve.Tag{
		tag("fleet", ""),
		tag("site-a", "fleet"),
		tag("site-b", "fleet"),
		tag("driver-1", "site-a"),
		tag("driver-2", "site-a"),
		tag("other-root", ""),
	}

	tests := []struct {
		name string
		root string
		want []string
	}{
		{"full subtree", "fleet", []string{"site-a", "site-b", "driver-1", "driver-2"}},
		{"mid subtree", "site-a", []string{"driver-1", "driver-2"}},
		{"leaf", "driver-1", nil},
		{"unknown tag", "nope", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DescendantsOf(tags, tt.root)
			assert.ElementsMatch(t, tt.want, ids(got))
		})
	}
}

func TestDescendantsOfExcludesSelf(t *testing.T) {
	tags := []steve.Tag{tag("a", ""), tag("b", "a")}
	got := DescendantsOf(tags, "a")
	assert.NotContains(t, ids(got), "a")
}

func TestDescendantsOfTerminatesOnCycle(t *testing.T) {
	// a -> b -> c -> a: each node visited once, no infinite walk.
	tags := []steve.Tag{tag("a", "c"), tag("b", "a"), tag("c", "b")}
	got := DescendantsOf(tags, "a")
	assert.ElementsMatch(t, []string{"b", "c"}, ids(got))
}

func TestAncestorsOf(t *testing.T) {
	tags := []steve.Tag{
		tag("fleet", ""),
		tag("site-a", "fleet"),
		tag("driver-1", "site-a"),
	}

	got := AncestorsOf(tags, tag("driver-1", "site-a"))
	assert.Equal(t, []string{"site-a", "fleet"}, ids(got), "nearest ancestor first")
}

func TestAncestorsOfStopsOnDanglingParent(t *testing.T) {
	tags := []steve.Tag{tag("driver-1", "ghost")}
	got := AncestorsOf(tags, tags[0])
	assert.Empty(t, got)
}

func TestAncestorsOfTerminatesOnCycle(t *testing.T) {
	tags := []steve.Tag{tag("a", "b"), tag("b", "a")}
	got := AncestorsOf(tags, tags[0])
	assert.Equal(t, []string{"b"}, ids(got))
}

func TestAncestorsOfSelfParent(t *testing.T) {
	tags := []steve.Tag{tag("a", "a")}
	got := AncestorsOf(tags, tags[0])
	assert.Empty(t, got)
}

func TestIsDescendantOf(t *testing.T) {
	tags := []steve.Tag{
		tag("fleet", ""),
		tag("site-a", "fleet"),
		tag("driver-1", "site-a"),
	}

	assert.True(t, IsDescendantOf(tags, tags[2], "fleet"))
	assert.True(t, IsDescendantOf(tags, tags[2], "site-a"))
	assert.False(t, IsDescendantOf(tags, tags[1], "site-a"))
	assert.False(t, IsDescendantOf(tags, tags[0], "driver-1"))
}

func TestBuildForest(t *testing.T) {
	tags := []steve.Tag{
		tag("fleet", ""),
		tag("site-a", "fleet"),
		tag("orphan", "ghost"),
	}

	roots := BuildForest(tags)

	rootIDs := make([]string, 0, len(roots))
	for _, root := range roots {
		rootIDs = append(rootIDs, root.Tag.IDTag)
	}
	assert.ElementsMatch(t, []string{"fleet", "orphan"}, rootIDs, "missing parent promotes to root")

	for _, root := range roots {
		if root.Tag.IDTag == "fleet" {
			assert.Len(t, root.Children, 1)
			assert.Equal(t, "site-a", root.Children[0].Tag.IDTag)
		}
	}
}
