package models

import "time"

// LinkPrecedence marks a contact as the canonical member of its group or as a
// linked member.
type LinkPrecedence string

const (
	PrecedencePrimary   LinkPrecedence = "primary"
	PrecedenceSecondary LinkPrecedence = "secondary"
)

// Valid reports whether p is one of the known precedences.
func (p LinkPrecedence) Valid() bool {
	return p == PrecedencePrimary || p == PrecedenceSecondary
}

// Contact represents a customer contact in the database
type Contact struct {
	ID             int64          `json:"id"`
	PhoneNumber    *string        `json:"phoneNumber,omitempty"`
	Email          *string        `json:"email,omitempty"`
	LinkedID       *int64         `json:"linkedId,omitempty"`
	LinkPrecedence LinkPrecedence `json:"linkPrecedence"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	DeletedAt      *time.Time     `json:"deletedAt,omitempty"`
}

// IsPrimary reports whether c heads its identity group.
func (c Contact) IsPrimary() bool {
	return c.LinkPrecedence == PrecedencePrimary
}

// IsDeleted reports whether c carries a tombstone.
func (c Contact) IsDeleted() bool {
	return c.DeletedAt != nil
}

// EmailValue returns the email or "" when unset.
func (c Contact) EmailValue() string {
	if c.Email == nil {
		return ""
	}
	return *c.Email
}

// PhoneValue returns the phone number or "" when unset.
func (c Contact) PhoneValue() string {
	if c.PhoneNumber == nil {
		return ""
	}
	return *c.PhoneNumber
}

// NewContact is the input of a store insert. The store assigns the id and
// timestamps.
type NewContact struct {
	Email          *string
	PhoneNumber    *string
	LinkPrecedence LinkPrecedence
	LinkedID       *int64
}

// StringPtr returns nil for "" and a pointer to s otherwise.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}
