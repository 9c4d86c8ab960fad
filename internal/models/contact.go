package models

import "time"

// LinkPrecedence marks a contact as the canonical record of its cluster or as a member of it.
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

// IsPrimary reports whether the contact is marked primary.
func (c *Contact) IsPrimary() bool {
	return c.LinkPrecedence == PrecedencePrimary
}

// IsCanonicalPrimary reports whether the contact is a primary with no outgoing link.
func (c *Contact) IsCanonicalPrimary() bool {
	return c.IsPrimary() && c.LinkedID == nil
}

// Live reports whether the contact has not been soft-deleted.
func (c *Contact) Live() bool {
	return c.DeletedAt == nil
}

// Clone returns a deep copy so stores never hand out references to their own state.
func (c *Contact) Clone() *Contact {
	out := *c
	if c.PhoneNumber != nil {
		v := *c.PhoneNumber
		out.PhoneNumber = &v
	}
	if c.Email != nil {
		v := *c.Email
		out.Email = &v
	}
	if c.LinkedID != nil {
		v := *c.LinkedID
		out.LinkedID = &v
	}
	if c.DeletedAt != nil {
		v := *c.DeletedAt
		out.DeletedAt = &v
	}
	return &out
}

// NewContact carries the fields a caller supplies when creating a contact.
// The store assigns id and timestamps.
type NewContact struct {
	Email          *string
	PhoneNumber    *string
	LinkedID       *int64
	LinkPrecedence LinkPrecedence
}

// OlderThan orders contacts by creation time, breaking ties on the smaller id.
func OlderThan(a, b *Contact) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
