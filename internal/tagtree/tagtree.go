// Package tagtree resolves the OCPP tag hierarchy. Tags carry parent
// pointers only, so every traversal works over the flat list with an
// explicit visited set; input containing a parent cycle must still
// terminate.
package tagtree

import "github.com/voltbill/chargesync/internal/steve"

// Node is one tag in the reconstructed forest.
type Node struct {
	Tag      steve.Tag
	Children []*Node
}

// DescendantsOf returns all tags below tagID, any depth, excluding the tag
// itself. A revisited id is treated as already expanded, so cycles in the
// parent data cannot loop the walk.
func DescendantsOf(tags []steve.Tag, tagID string) []steve.Tag {
	children := childIndex(tags)

	var out []steve.Tag
	visited := map[string]bool{tagID: true}
	queue := []string{tagID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range children[current] {
			if visited[child.IDTag] {
				continue
			}
			visited[child.IDTag] = true
			out = append(out, child)
			queue = append(queue, child.IDTag)
		}
	}
	return out
}

// AncestorsOf walks the parent chain upward, nearest first. The walk stops
// silently on a dangling parent reference and breaks out of cycles via the
// visited set.
func AncestorsOf(tags []steve.Tag, tag steve.Tag) []steve.Tag {
	byID := tagIndex(tags)

	var out []steve.Tag
	visited := map[string]bool{tag.IDTag: true}
	parentID := tag.ParentIDTag
	for parentID != "" {
		if visited[parentID] {
			break
		}
		parent, ok := byID[parentID]
		if !ok {
			break
		}
		visited[parentID] = true
		out = append(out, parent)
		parentID = parent.ParentIDTag
	}
	return out
}

// IsDescendantOf reports whether ancestorID appears anywhere above tag.
func IsDescendantOf(tags []steve.Tag, tag steve.Tag, ancestorID string) bool {
	for _, ancestor := range AncestorsOf(tags, tag) {
		if ancestor.IDTag == ancestorID {
			return true
		}
	}
	return false
}

// BuildForest reconstructs the tag forest. A tag whose declared parent is
// absent from the input set becomes a root.
func BuildForest(tags []steve.Tag) []*Node {
	nodes := make(map[string]*Node, len(tags))
	for _, tag := range tags {
		nodes[tag.IDTag] = &Node{Tag: tag}
	}

	var roots []*Node
	for _, tag := range tags {
		node := nodes[tag.IDTag]
		parent, ok := nodes[tag.ParentIDTag]
		if tag.ParentIDTag == "" || !ok || parent == node {
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}
	return roots
}

func tagIndex(tags []steve.Tag) map[string]steve.Tag {
	byID := make(map[string]steve.Tag, len(tags))
	for _, tag := range tags {
		byID[tag.IDTag] = tag
	}
	return byID
}

func childIndex(tags []steve.Tag) map[string][]steve.Tag {
	children := make(map[string][]steve.Tag)
	for _, tag := range tags {
		if tag.ParentIDTag == "" {
			continue
		}
		children[tag.ParentIDTag] = append(children[tag.ParentIDTag], tag)
	}
	return children
}
