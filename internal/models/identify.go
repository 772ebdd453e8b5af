package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// IdentifyRequest represents the incoming request body
type IdentifyRequest struct {
	Email       *string      `json:"email"`
	PhoneNumber *PhoneNumber `json:"phoneNumber"`
}

// EmailValue returns the requested email, "" when absent.
func (r IdentifyRequest) EmailValue() string {
	if r.Email == nil {
		return ""
	}
	return *r.Email
}

// PhoneValue returns the requested phone number, "" when absent.
func (r IdentifyRequest) PhoneValue() string {
	if r.PhoneNumber == nil {
		return ""
	}
	return string(*r.PhoneNumber)
}

// PhoneNumber accepts either a JSON string or a JSON number. Numbers keep the
// literal digits they were sent with.
type PhoneNumber string

func (p *PhoneNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = PhoneNumber(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("phoneNumber must be a string or a number: %w", err)
	}
	*p = PhoneNumber(n.String())
	return nil
}

// ContactResponse represents the contact data in the response
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
