package domain

import (
	"fmt"
	"strings"
)

// PayeeType is the closed set of payment destinations.
type PayeeType string

const (
	PayeeMerchant PayeeType = "merchant"
	PayeePerson   PayeeType = "person"
)

// ParsePayeeType validates a type tag read from configuration.
func ParsePayeeType(s string) (PayeeType, error) {
	switch PayeeType(strings.ToLower(strings.TrimSpace(s))) {
	case PayeeMerchant:
		return PayeeMerchant, nil
	case PayeePerson:
		return PayeePerson, nil
	default:
		return "", fmt.Errorf("unknown payee type %q", s)
	}
}

// Payee is an allowed payment destination. Destination is only meaningful
// for persons: it is the connected account funds are routed to.
type Payee struct {
	Label       string    `json:"label"`
	Type        PayeeType `json:"type"`
	Destination string    `json:"-"`
}

// IsPerson reports whether payments to p are routed-destination charges.
func (p Payee) IsPerson() bool {
	return p.Type == PayeePerson
}
