package dht

import "sort"

// Helper is the ephemeral {contact, distance-to-target} pairing used
// inside lookups and returned as RPC find_nodes/find_value results. Its
// lifetime is a single lookup; callers that want to keep a Helper's
// contact clone it into their own routing table.
type Helper struct {
	Contact  *Contact
	Distance Key
}

// Less reports whether h sorts strictly before other by distance,
// ascending. Comparison never narrows to fixed-width signed arithmetic
// (see Less in key.go).
func (h Helper) Less(other Helper) bool {
	return Less(h.Distance, other.Distance)
}

// sortHelpers sorts helpers ascending by distance using a stable sort,
// so RPC-completion order breaks ties deterministically as required by
// the lookup's ordering guarantee.
func sortHelpers(helpers []Helper) {
	sort.SliceStable(helpers, func(i, j int) bool {
		return helpers[i].Less(helpers[j])
	})
}
