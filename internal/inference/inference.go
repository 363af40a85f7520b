// Package inference talks to the remote service that translates a chat
// message into structured CRUD instructions against the user's applications.
// The translation itself is a black box; this package owns the wire types
// and the HTTP round trip.
package inference

import (
	"context"

	"github.com/schemachat/schemachat/internal/filter"
	"github.com/schemachat/schemachat/internal/schema"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn of the conversation. Assistant messages produced
// by the executor may carry the rows an operation touched.
type ChatMessage struct {
	Role    Role             `json:"role"`
	Content string           `json:"content"`
	Rows    []map[string]any `json:"rows,omitempty"`
}

type HTTPMethod string

const (
	MethodGet    HTTPMethod = "GET"
	MethodPost   HTTPMethod = "POST"
	MethodPut    HTTPMethod = "PUT"
	MethodDelete HTTPMethod = "DELETE"
)

// Instruction is one normalized operation against one dynamic table. Exactly
// one of the payload fields is populated, selected by the method: POST uses
// InsertedRows, PUT uses FilterConditions plus UpdatedData, GET and DELETE
// use FilterConditions alone.
type Instruction struct {
	HTTPMethod       HTTPMethod                `json:"http_method"`
	Application      schema.ApplicationContent `json:"application"`
	TableName        string                    `json:"table_name"`
	InsertedRows     []map[string]any          `json:"inserted_rows,omitempty"`
	FilterConditions filter.Tree               `json:"filter_conditions,omitzero"`
	UpdatedData      map[string]any            `json:"updated_data,omitempty"`
}

type Request struct {
	Applications []schema.ApplicationContent `json:"applications"`
	Message      string                      `json:"message"`
	ChatHistory  []ChatMessage               `json:"chat_history"`
}

// Response carries either instructions to execute or a clarification to
// relay verbatim when the service could not resolve the request.
type Response struct {
	Response      []Instruction `json:"response"`
	Clarification string        `json:"clarification,omitempty"`
}

type Client interface {
	Infer(ctx context.Context, req Request) (Response, error)
}
