// Package tools implements the assistant's tool runtime: typed tool
// definitions with generated JSON schemas, a name registry, and a parallel
// executor that feeds results back to the LLM in a stable format.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/edda-voice/edda/pkg/types"
)

// Status classifies a tool outcome for the LLM. The bracket-tagged form lets
// the model distinguish "the tool worked but found nothing" from "the tool
// broke" without parsing prose.
type Status string

const (
	StatusSuccess        Status = "Success"
	StatusPartialSuccess Status = "PartialSuccess"
	StatusNoResults      Status = "No Results"
	StatusError          Status = "Error"
	StatusDenied         Status = "Denied"
	StatusTimeout        Status = "Timeout"
	StatusRateLimited    Status = "RateLimited"
	StatusInvalidInput   Status = "InvalidInput"
)

// Result is the outcome of one tool invocation.
type Result struct {
	Status  Status
	Content string
}

// ForLLM renders the result as the tool-message content sent to the model,
// e.g. "[Success]: 21°C and sunny".
func (r Result) ForLLM() string {
	return fmt.Sprintf("[%s]: %s", r.Status, r.Content)
}

// Success builds a successful Result.
func Success(content string) Result {
	return Result{Status: StatusSuccess, Content: content}
}

// NoResults builds a Result for a tool that ran but found nothing.
func NoResults(content string) Result {
	return Result{Status: StatusNoResults, Content: content}
}

// Errorf builds an error Result.
func Errorf(format string, args ...any) Result {
	return Result{Status: StatusError, Content: fmt.Sprintf(format, args...)}
}

// PartialSuccess builds a Result for a tool that completed only part of its
// work, e.g. some of several lookups failed.
func PartialSuccess(content string) Result {
	return Result{Status: StatusPartialSuccess, Content: content}
}

// Denied builds a Result for a request the tool refused to carry out.
func Denied(content string) Result {
	return Result{Status: StatusDenied, Content: content}
}

// RateLimited builds a Result for an upstream rate-limit rejection.
func RateLimited(content string) Result {
	return Result{Status: StatusRateLimited, Content: content}
}

// InvalidInputf builds a Result for arguments the tool could not accept.
func InvalidInputf(format string, args ...any) Result {
	return Result{Status: StatusInvalidInput, Content: fmt.Sprintf(format, args...)}
}

// Tool couples an LLM-facing definition with its handler. Handlers receive
// the raw JSON argument string; use [NewTool] to get typed arguments and a
// generated schema.
type Tool struct {
	// Definition is the tool's schema: name, description, and JSON Schema
	// parameters.
	Definition types.ToolDefinition

	// Handler executes the tool. Implementations must be safe for concurrent
	// use and must respect context cancellation. A returned error is
	// converted to an error Result by the executor; returning an error
	// Result directly is equivalent.
	Handler func(ctx context.Context, args string) (Result, error)
}

// NewTool builds a Tool whose parameter schema is generated from the Args
// struct type via reflection. Field names, types, and jsonschema struct tags
// carry over, so the Go type is the single source of truth for the wire
// schema.
func NewTool[Args any](name, description string, handler func(ctx context.Context, args Args) (Result, error)) (Tool, error) {
	schema, err := jsonschema.For[Args](nil)
	if err != nil {
		return Tool{}, fmt.Errorf("tools: schema for %q: %w", name, err)
	}
	params, err := schemaToMap(schema)
	if err != nil {
		return Tool{}, fmt.Errorf("tools: schema for %q: %w", name, err)
	}

	return Tool{
		Definition: types.ToolDefinition{
			Name:        name,
			Description: description,
			Parameters:  params,
		},
		Handler: func(ctx context.Context, args string) (Result, error) {
			var v Args
			if args != "" {
				if err := json.Unmarshal([]byte(args), &v); err != nil {
					return InvalidInputf("invalid arguments: %v", err), nil
				}
			}
			return handler(ctx, v)
		},
	}, nil
}

// MustNewTool is NewTool that panics on schema generation failure. Intended
// for static tool declarations where a failure is a programming error.
func MustNewTool[Args any](name, description string, handler func(ctx context.Context, args Args) (Result, error)) Tool {
	t, err := NewTool(name, description, handler)
	if err != nil {
		panic(err)
	}
	return t
}

// schemaToMap converts a generated schema into the map form carried by
// types.ToolDefinition.
func schemaToMap(s *jsonschema.Schema) (map[string]any, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
