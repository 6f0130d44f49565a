package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"salesmcp/internal/dataset"
	"salesmcp/internal/domain"
)

const (
	ToolGetSales     = "getSales"
	ToolGetCustomers = "getCustomers"
)

// SalesInput is the argument shape of getSales.
type SalesInput struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// SalesReport is returned by getSales. The range is echoed back and does not
// filter the rows.
type SalesReport struct {
	StartDate string         `json:"startDate"`
	EndDate   string         `json:"endDate"`
	Sales     []dataset.Sale `json:"sales"`
}

func salesInputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"startDate": {Type: "string", Description: "Start of the range, for example 2025-09-01"},
			"endDate":   {Type: "string", Description: "End of the range, for example 2025-09-30"},
		},
		Required: []string{"startDate", "endDate"},
	}
}

// RegisterBuiltins adds getSales and getCustomers backed by data.
func RegisterBuiltins(reg *Registry, data *dataset.Dataset) error {
	if data == nil {
		return fmt.Errorf("register builtins: dataset is nil")
	}
	defs := []domain.ToolDefinition{
		{
			Name:        ToolGetSales,
			Title:       "Get Sales",
			Description: "Get sales for a given date range",
			InputSchema: salesInputSchema(),
			ReadOnly:    true,
			Handler:     getSalesHandler(data),
		},
		{
			Name:        ToolGetCustomers,
			Title:       "Get Customers",
			Description: "Return a list of customers",
			InputSchema: &jsonschema.Schema{Type: "object"},
			ReadOnly:    true,
			Handler:     getCustomersHandler(data),
		},
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func getSalesHandler(data *dataset.Dataset) domain.ToolHandler {
	return func(_ context.Context, input json.RawMessage) (domain.ToolResult, error) {
		var in SalesInput
		if err := json.Unmarshal(input, &in); err != nil {
			return domain.ToolResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidArguments, err)
		}
		return domain.JSONResult(SalesReport{
			StartDate: in.StartDate,
			EndDate:   in.EndDate,
			Sales:     data.Sales(),
		}), nil
	}
}

func getCustomersHandler(data *dataset.Dataset) domain.ToolHandler {
	return func(context.Context, json.RawMessage) (domain.ToolResult, error) {
		return domain.JSONResult(data.Customers()), nil
	}
}
