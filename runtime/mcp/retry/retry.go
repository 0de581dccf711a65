// Package retry defines a standardized retryable error and repair prompt
// for tool calls that fail parameter validation, so a calling LLM can be
// handed a deterministic instruction to redo the call with valid
// arguments instead of the turn failing outright.
package retry

import "fmt"

const promptTemplate = `
Operation: %s
%sError: %s
Redo the operation now with valid parameters.
Use only valid schema fields and ensure required fields and types/enums are valid.
Example params: %s`

// RetryableError is returned when a tool server reports invalid
// parameters and a structured repair prompt is available.
type RetryableError struct {
	Prompt string
	Cause  error
}

func (e *RetryableError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause == nil {
		return e.Prompt
	}
	return fmt.Sprintf("%s: %v", e.Prompt, e.Cause)
}

func (e *RetryableError) Unwrap() error { return e.Cause }

// BuildRepairPrompt constructs a deterministic, compact repair instruction.
// schema is an optional compact JSON schema excerpt; exampleJSON is a
// minimal valid example of the params payload.
func BuildRepairPrompt(op, errMsg, exampleJSON, schema string) string {
	schemaPart := ""
	if schema != "" {
		schemaPart = "Schema: " + schema + "\n"
	}
	return fmt.Sprintf(promptTemplate, op, schemaPart, errMsg, exampleJSON)
}
