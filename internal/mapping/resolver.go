package mapping

import (
	"github.com/voltbill/chargesync/internal/mapping/domain"
	"github.com/voltbill/chargesync/internal/steve"
	"github.com/voltbill/chargesync/internal/tagtree"
)

// DirectByTag indexes mappings by tag id. When one tag carries several
// active rows the first (lowest id, per repository ordering) wins.
func DirectByTag(mappings []domain.TagBillingMapping) map[string]*domain.TagBillingMapping {
	byTag := make(map[string]*domain.TagBillingMapping, len(mappings))
	for i := range mappings {
		m := &mappings[i]
		if _, ok := byTag[m.OcppTagID]; ok {
			continue
		}
		byTag[m.OcppTagID] = m
	}
	return byTag
}

// Resolve returns the effective mapping for tagID: its direct mapping if
// one exists, otherwise the mapping of the nearest mapped ancestor. Returns
// nil when neither exists or the tag is unknown.
func Resolve(tagID string, directByTag map[string]*domain.TagBillingMapping, tags []steve.Tag) *domain.TagBillingMapping {
	if m, ok := directByTag[tagID]; ok {
		return m
	}

	var tag steve.Tag
	found := false
	for _, t := range tags {
		if t.IDTag == tagID {
			tag = t
			found = true
			break
		}
	}
	if !found {
		return nil
	}

	for _, ancestor := range tagtree.AncestorsOf(tags, tag) {
		if m, ok := directByTag[ancestor.IDTag]; ok {
			return m
		}
	}
	return nil
}

// BuildLookupWithInheritance precomputes the effective mapping for every
// tag so downstream consumers never distinguish direct from inherited.
//
// A tag's own mapping always resolves for that tag, subscription or not,
// since an unbillable mapping still drives tag authorization and
// sync-state tracking. Inheritance is stricter: only mappings carrying a
// subscription propagate to descendants.
func BuildLookupWithInheritance(mappings []domain.TagBillingMapping, tags []steve.Tag) map[string]*domain.TagBillingMapping {
	directByTag := DirectByTag(mappings)

	inheritable := make([]domain.TagBillingMapping, 0, len(mappings))
	for _, m := range mappings {
		if m.Billable() {
			inheritable = append(inheritable, m)
		}
	}
	inheritableByTag := DirectByTag(inheritable)

	lookup := make(map[string]*domain.TagBillingMapping, len(tags))
	for _, tag := range tags {
		if m, ok := directByTag[tag.IDTag]; ok {
			lookup[tag.IDTag] = m
			continue
		}
		if m := Resolve(tag.IDTag, inheritableByTag, tags); m != nil {
			lookup[tag.IDTag] = m
		}
	}
	return lookup
}
