package book

import (
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Account is a node in the book's account tree. Sibling names are unique.
type Account struct {
	GUID        string
	Name        string
	Type        string
	Description string
	Hidden      bool
	Placeholder bool
	Parent      *Account
	Children    []*Account
}

// FullName returns the colon-joined path from the root, root excluded.
func (a *Account) FullName() string {
	if a == nil || a.Parent == nil {
		return ""
	}
	if parent := a.Parent.FullName(); parent != "" {
		return parent + ":" + a.Name
	}
	return a.Name
}

// Child returns the child with exactly the given name, or nil.
func (a *Account) Child(name string) *Account {
	for _, c := range a.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// NotFoundError reports an account path that could not be resolved.
type NotFoundError struct {
	Path       string // the path as requested
	Missing    string // the segment with no matching child
	Suggestion string // closest sibling name, when one is near enough
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("account path %q could not be found: no account named %q at that level", e.Path, e.Missing)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", e.Suggestion)
	}
	return msg
}

// FindAccount resolves a colon-delimited path by walking children from the
// root with exact, case-sensitive name matches. Failure at any level returns
// a *NotFoundError carrying the full original path.
func (b *Book) FindAccount(path string) (*Account, error) {
	acc := b.root
	for _, seg := range strings.Split(path, ":") {
		child := acc.Child(seg)
		if child == nil {
			return nil, &NotFoundError{Path: path, Missing: seg, Suggestion: closestChild(acc, seg)}
		}
		acc = child
	}
	return acc, nil
}

const maxSuggestDistance = 3

func closestChild(parent *Account, want string) string {
	best := ""
	bestDist := maxSuggestDistance + 1
	for _, c := range parent.Children {
		if d := levenshtein.ComputeDistance(want, c.Name); d < bestDist {
			best, bestDist = c.Name, d
		}
	}
	return best
}
