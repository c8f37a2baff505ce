package config

import (
	"fmt"
	"os"

	"github.com/alma-care/alma-bfa-go/internal/domain"

	"gopkg.in/yaml.v3"
)

// PayeeEntry is one row of the payee catalogue as written in configuration.
type PayeeEntry struct {
	Label       string `yaml:"label"`
	Type        string `yaml:"type"`
	Destination string `yaml:"destination,omitempty"`
}

type payeeFile struct {
	Payees []PayeeEntry `yaml:"payees"`
}

// DefaultPayees is the built-in catalogue. Person destinations come from the
// connected-account settings and may be empty until onboarding is finished.
func DefaultPayees(cfg *Config) []PayeeEntry {
	return []PayeeEntry{
		{Label: "Tesco", Type: "merchant"},
		{Label: "Lidl", Type: "merchant"},
		{Label: "Dunnes Stores", Type: "merchant"},
		{Label: "Boots", Type: "merchant"},
		{Label: "Pharmacy", Type: "merchant"},
		{Label: "Electric Ireland", Type: "merchant"},
		{Label: "Irish Water", Type: "merchant"},
		{Label: "Mary", Type: "person", Destination: cfg.StripeConnectMary},
		{Label: "John", Type: "person", Destination: cfg.StripeConnectJohn},
	}
}

// LoadPayees returns the catalogue from cfg.PayeesFile, or the defaults when
// no file is configured. Destinations written as ${VAR} are expanded.
func LoadPayees(cfg *Config) ([]PayeeEntry, error) {
	if cfg.PayeesFile == "" {
		return DefaultPayees(cfg), nil
	}

	raw, err := os.ReadFile(cfg.PayeesFile)
	if err != nil {
		return nil, fmt.Errorf("read payees file: %w", err)
	}
	return ParsePayees(raw)
}

// ParsePayees decodes a YAML payee catalogue.
func ParsePayees(raw []byte) ([]PayeeEntry, error) {
	var doc payeeFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse payees file: %w", err)
	}
	if len(doc.Payees) == 0 {
		return nil, fmt.Errorf("parse payees file: no payees defined")
	}
	for i := range doc.Payees {
		doc.Payees[i].Destination = os.ExpandEnv(doc.Payees[i].Destination)
	}
	return doc.Payees, nil
}

// ToDomain validates entries and converts them to payees, keeping order.
func ToDomain(entries []PayeeEntry) ([]domain.Payee, error) {
	out := make([]domain.Payee, 0, len(entries))
	for i, e := range entries {
		if e.Label == "" {
			return nil, fmt.Errorf("payee %d: empty label", i)
		}
		t, err := domain.ParsePayeeType(e.Type)
		if err != nil {
			return nil, fmt.Errorf("payee %q: %w", e.Label, err)
		}
		out = append(out, domain.Payee{Label: e.Label, Type: t, Destination: e.Destination})
	}
	return out, nil
}
