package chat

import (
	"fmt"
	"hash/fnv"
)

var (
	nameAdjectives = []string{
		"Swift", "Bright", "Clever", "Bold", "Quick", "Smart", "Keen", "Sharp", "Wise", "Cool",
		"Calm", "Fair", "Kind", "Pure", "True", "Free", "Wild", "Brave", "Happy", "Lucky",
	}
	nameNouns = []string{
		"Tiger", "Lion", "Eagle", "Wolf", "Bear", "Fox", "Owl", "Hawk", "Shark", "Dragon",
		"Phoenix", "Falcon", "Panther", "Raven", "Scout", "Ranger", "Guardian", "Storm", "Frost", "Spirit",
	}
)

// PseudonymFor derives a stable display name such as "SwiftTiger042" from
// a user id, for identities that carry no display name of their own.
func PseudonymFor(userID string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(userID))
	sum := h.Sum64()

	adjective := nameAdjectives[sum%uint64(len(nameAdjectives))]
	sum /= uint64(len(nameAdjectives))
	noun := nameNouns[sum%uint64(len(nameNouns))]
	sum /= uint64(len(nameNouns))

	return fmt.Sprintf("%s%s%03d", adjective, noun, sum%1000)
}
