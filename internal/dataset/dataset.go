// Package dataset holds the static sample rows served by the builtin tools.
package dataset

import (
	"bytes"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed sample.yaml
var sampleYAML []byte

type Sale struct {
	Date  string `yaml:"date" json:"date"`
	Total int    `yaml:"total" json:"total"`
}

type Customer struct {
	ID    int    `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Email string `yaml:"email" json:"email"`
}

// Dataset is read-only once loaded; accessors return copies.
type Dataset struct {
	sales     []Sale
	customers []Customer
}

type rawDataset struct {
	Sales     []Sale     `yaml:"sales"`
	Customers []Customer `yaml:"customers"`
}

// Sample decodes the embedded sample dataset.
func Sample() (*Dataset, error) {
	return Parse(sampleYAML)
}

// Parse decodes a dataset document, rejecting unknown keys.
func Parse(data []byte) (*Dataset, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var raw rawDataset
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	for i, s := range raw.Sales {
		if s.Date == "" {
			return nil, fmt.Errorf("sales[%d]: date is required", i)
		}
	}
	for i, c := range raw.Customers {
		if c.Name == "" {
			return nil, fmt.Errorf("customers[%d]: name is required", i)
		}
	}
	return &Dataset{sales: raw.Sales, customers: raw.Customers}, nil
}

func (d *Dataset) Sales() []Sale {
	return append([]Sale(nil), d.sales...)
}

func (d *Dataset) Customers() []Customer {
	return append([]Customer(nil), d.customers...)
}
