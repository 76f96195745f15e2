package flows

import "strings"

// AllowList is an immutable set of normalized email addresses.
type AllowList struct {
	members map[string]struct{}
}

// NewAllowList normalizes and deduplicates emails. Blank entries are dropped.
func NewAllowList(emails []string) AllowList {
	members := make(map[string]struct{}, len(emails))
	for _, email := range emails {
		n := normalize(email)
		if n == "" {
			continue
		}
		members[n] = struct{}{}
	}
	return AllowList{members: members}
}

// Contains reports exact, case-insensitive membership.
func (a AllowList) Contains(email string) bool {
	n := normalize(email)
	if n == "" {
		return false
	}
	_, ok := a.members[n]
	return ok
}

// Len returns the number of distinct members.
func (a AllowList) Len() int {
	return len(a.members)
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
