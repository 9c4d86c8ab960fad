package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// IdentifyRequest represents the incoming request body
type IdentifyRequest struct {
	Email       *string `json:"email"`
	PhoneNumber *string `json:"phoneNumber"`
}

// UnmarshalJSON accepts phoneNumber as a JSON string or number; clients send both.
func (r *IdentifyRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Email       *string         `json:"email"`
		PhoneNumber json.RawMessage `json:"phoneNumber"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Email = raw.Email
	r.PhoneNumber = nil

	phone := bytes.TrimSpace(raw.PhoneNumber)
	if len(phone) == 0 || bytes.Equal(phone, []byte("null")) {
		return nil
	}
	if phone[0] == '"' {
		var s string
		if err := json.Unmarshal(phone, &s); err != nil {
			return err
		}
		r.PhoneNumber = &s
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(phone, &n); err != nil {
		return fmt.Errorf("phoneNumber must be a string or number")
	}
	s := n.String()
	r.PhoneNumber = &s
	return nil
}

// ContactResponse represents the consolidated view of one cluster
type ContactResponse struct {
	PrimaryContactID    int64    `json:"primaryContactId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}

// IdentifyResponse represents the response body
type IdentifyResponse struct {
	Contact ContactResponse `json:"contact"`
}

// StringPtr is a small helper for optional request fields.
func StringPtr(s string) *string {
	return &s
}
