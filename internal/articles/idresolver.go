package articles

import "github.com/hitoshi/articles/internal/model"

// idCandidateKeys are the identity candidates in priority order: guid wins
// whenever it survives, then pubdate, then title, then link.
var idCandidateKeys = []string{"guid", "pubdate", "title", "link"}

// idResolver chooses one stable identity field for a whole batch of raw
// items (§4.A). Feed items are observed one at a time; a candidate survives
// only if it is present and non-empty on every item observed so far.
type idResolver struct {
	survivors map[string]bool
}

func newIdResolver() *idResolver {
	survivors := make(map[string]bool, len(idCandidateKeys))
	for _, k := range idCandidateKeys {
		survivors[k] = true
	}
	return &idResolver{survivors: survivors}
}

// Observe registers one raw item's candidate fields, narrowing the surviving
// set.
func (r *idResolver) Observe(item model.RawItem) {
	for _, k := range idCandidateKeys {
		if !r.survivors[k] {
			continue
		}
		if _, ok := item.Get(k); !ok {
			r.survivors[k] = false
		}
	}
}

// Resolve returns the highest-priority surviving candidate key. If no
// candidate survived (including the empty-batch case), it fails with
// model.ErrNoIdType.
func (r *idResolver) Resolve() (string, error) {
	for _, k := range idCandidateKeys {
		if r.survivors[k] {
			return k, nil
		}
	}
	return "", model.NewError(model.ErrKindNoIdType, "no candidate identity field survived across all items")
}
