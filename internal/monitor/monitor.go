// Package monitor validates create-payment request bodies against a JSON
// schema before they reach binding, so a malformed body fails with the full
// list of violations instead of the first decode error.
package monitor

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const createPaymentSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["amount", "currency"],
	"properties": {
		"amount": {"type": "number", "exclusiveMinimum": 0},
		"currency": {"type": "string", "minLength": 1},
		"description": {"type": "string"}
	}
}`

// ContractMonitor validates incoming requests against the create-payment
// schema.
type ContractMonitor struct {
	schema *gojsonschema.Schema
}

// NewContractMonitor compiles the embedded schema.
func NewContractMonitor() (*ContractMonitor, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(createPaymentSchema))
	if err != nil {
		return nil, fmt.Errorf("error compiling create-payment schema: %w", err)
	}
	return &ContractMonitor{schema: schema}, nil
}

// Validate checks the given request body against the schema. It returns true
// if valid, or false and the list of violations if invalid.
func (cm *ContractMonitor) Validate(requestBody []byte) (bool, []string, error) {
	result, err := cm.schema.Validate(gojsonschema.NewBytesLoader(requestBody))
	if err != nil {
		return false, nil, fmt.Errorf("error during validation: %w", err)
	}

	if result.Valid() {
		return true, nil, nil
	}

	var violations []string
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return false, violations, nil
}

// FormatErrors formats a slice of validation error strings into a single string.
func FormatErrors(validationErrors []string) string {
	if len(validationErrors) == 0 {
		return ""
	}
	return "Validation errors: " + strings.Join(validationErrors, "; ")
}
