package service

import (
	"fmt"
	"sort"

	"identityrecon/internal/apperr"
	"identityrecon/internal/models"
)

type resolutionKind int

const (
	// resolveNew: nothing matched, the request starts a new identity.
	resolveNew resolutionKind = iota
	// resolveSingle: every match belongs to one identity group.
	resolveSingle
	// resolveMerge: the request links two or more existing groups.
	resolveMerge
)

func (k resolutionKind) String() string {
	switch k {
	case resolveNew:
		return "new"
	case resolveSingle:
		return "single"
	case resolveMerge:
		return "merge"
	default:
		return fmt.Sprintf("resolutionKind(%d)", int(k))
	}
}

// resolution is the shape of a match set: which groups it touches.
type resolution struct {
	kind resolutionKind
	// primaryIDs holds the distinct effective primaries, ascending. The first
	// one is the group that survives a merge.
	primaryIDs []int64
}

func (r resolution) oldest() int64 {
	return r.primaryIDs[0]
}

// absorbed returns the primaries that a merge demotes.
func (r resolution) absorbed() []int64 {
	return r.primaryIDs[1:]
}

// resolve classifies matches by the distinct primaries they belong to.
func resolve(matches []models.Contact) (resolution, error) {
	if len(matches) == 0 {
		return resolution{kind: resolveNew}, nil
	}

	seen := make(map[int64]struct{}, len(matches))
	primaries := make([]int64, 0, len(matches))
	for _, c := range matches {
		pid, err := effectivePrimary(c)
		if err != nil {
			return resolution{}, err
		}
		if _, ok := seen[pid]; ok {
			continue
		}
		seen[pid] = struct{}{}
		primaries = append(primaries, pid)
	}
	sort.Slice(primaries, func(i, j int) bool { return primaries[i] < primaries[j] })

	kind := resolveSingle
	if len(primaries) > 1 {
		kind = resolveMerge
	}
	return resolution{kind: kind, primaryIDs: primaries}, nil
}

func effectivePrimary(c models.Contact) (int64, error) {
	switch c.LinkPrecedence {
	case models.PrecedencePrimary:
		return c.ID, nil
	case models.PrecedenceSecondary:
		if c.LinkedID == nil {
			return 0, fmt.Errorf("contact %d is secondary without a linked primary: %w", c.ID, apperr.ErrInvariant)
		}
		return *c.LinkedID, nil
	default:
		return 0, fmt.Errorf("contact %d has unknown precedence %q: %w", c.ID, c.LinkPrecedence, apperr.ErrInvariant)
	}
}

// hasNewFact reports whether email or phone is absent from every member of
// group. A nil input never counts as new.
func hasNewFact(group []models.Contact, email, phone *string) bool {
	emailKnown := email == nil
	phoneKnown := phone == nil
	for _, c := range group {
		if !emailKnown && c.Email != nil && *c.Email == *email {
			emailKnown = true
		}
		if !phoneKnown && c.PhoneNumber != nil && *c.PhoneNumber == *phone {
			phoneKnown = true
		}
		if emailKnown && phoneKnown {
			return false
		}
	}
	return !emailKnown || !phoneKnown
}

// checkGroup verifies the shape FindGroup promises: the head is a primary
// and every other member links straight to it.
func checkGroup(group []models.Contact) error {
	head := group[0]
	if !head.IsPrimary() {
		return fmt.Errorf("contact %d heads a group but is %s: %w", head.ID, head.LinkPrecedence, apperr.ErrInvariant)
	}
	for _, c := range group[1:] {
		if c.IsPrimary() || c.LinkedID == nil || *c.LinkedID != head.ID {
			return fmt.Errorf("contact %d is not a secondary of %d: %w", c.ID, head.ID, apperr.ErrInvariant)
		}
	}
	return nil
}
