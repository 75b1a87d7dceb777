package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// JSON-RPC 2.0 Types
// https://www.jsonrpc.org/specification

// Request represents a JSON-RPC 2.0 request
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

// Response represents a JSON-RPC 2.0 response
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC 2.0 error
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	// Custom error codes (application-specific)
	Unauthorized        = -32001
	NotFound            = -32002
	Conflict            = -32003
	RegistryNotDeployed = -32004
	LedgerFailure       = -32005
	NotSupported        = -32006
)

// Error messages
var errorMessages = map[int]string{
	ParseError:          "Parse error",
	InvalidRequest:      "Invalid Request",
	MethodNotFound:      "Method not found",
	InvalidParams:       "Invalid params",
	InternalError:       "Internal error",
	Unauthorized:        "Unauthorized",
	NotFound:            "Not found",
	Conflict:            "Conflict",
	RegistryNotDeployed: "Registry not deployed",
	LedgerFailure:       "Ledger call failed",
	NotSupported:        "Not supported",
}

// NewError creates a new JSON-RPC error
func NewError(code int, data interface{}) *Error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = "Unknown error"
	}
	return &Error{
		Code:    code,
		Message: msg,
		Data:    data,
	}
}

// NewErrorWithMessage creates a new JSON-RPC error with a custom message
func NewErrorWithMessage(code int, message string, data interface{}) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Data)
	}
	return e.Message
}

// Validate validates the JSON-RPC request
func (r *Request) Validate() error {
	if r.JSONRPC != "2.0" {
		return fmt.Errorf("invalid jsonrpc version: expected 2.0")
	}
	if r.Method == "" {
		return fmt.Errorf("method is required")
	}
	return nil
}

// SuccessResponse creates a successful JSON-RPC response
func SuccessResponse(id interface{}, result interface{}) *Response {
	return &Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
}

// ErrorResponse creates an error JSON-RPC response
func ErrorResponse(id interface{}, err *Error) *Response {
	return &Response{
		JSONRPC: "2.0",
		Error:   err,
		ID:      id,
	}
}

// =============================================================================
// RPC Method Parameters
// =============================================================================

// AddPartyParams represents parameters for registry_addParty
type AddPartyParams struct {
	ID          string `json:"id"`
	ContactInfo string `json:"contactInfo"`
}

// LabelParams represents parameters for methods addressing a single product
type LabelParams struct {
	Label string `json:"label"`
}

// AddDataParams represents parameters for registry_addData
type AddDataParams struct {
	Label     string   `json:"label"`
	Data      string   `json:"data"`
	Timestamp Quantity `json:"timestamp"`
}

// AssociationParams represents parameters for registry_addPartyAssociationToProduct
type AssociationParams struct {
	PartyID   string `json:"partyId"`
	ProductID string `json:"productId"`
}

// ListJournalParams represents parameters for registry_listJournal
type ListJournalParams struct {
	Address string `json:"address,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// positional parameter names per method, used when params is a JSON array
var positionalNames = map[string][]string{
	MethodAddParty:              {"id", "contactInfo"},
	MethodAddProduct:            {"label"},
	MethodAddData:               {"label", "data", "timestamp"},
	MethodAddPartyAssociation:   {"partyId", "productId"},
	MethodGetData:               {"label"},
	MethodGetPublishedEventList: {"label"},
	MethodListJournal:           {"address", "limit"},
}

// decodeParams decodes named (object) or positional (array) params into dst
func decodeParams(method string, raw json.RawMessage, dst interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '[' {
		var values []json.RawMessage
		if err := json.Unmarshal(raw, &values); err != nil {
			return err
		}
		names := positionalNames[method]
		if len(values) > len(names) {
			return fmt.Errorf("too many params: expected at most %d, got %d", len(names), len(values))
		}
		named := make(map[string]json.RawMessage, len(values))
		for i, v := range values {
			named[names[i]] = v
		}
		var err error
		if raw, err = json.Marshal(named); err != nil {
			return err
		}
	}
	return json.Unmarshal(raw, dst)
}

// Quantity is an unsigned integer accepted as a JSON number, a decimal string or a 0x hex string
type Quantity struct {
	*big.Int
}

// UnmarshalJSON implements json.Unmarshaler
func (q *Quantity) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		q.Int = nil
		return nil
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return fmt.Errorf("invalid quantity %q", s)
	}
	if v.Sign() < 0 {
		return fmt.Errorf("quantity must not be negative: %s", s)
	}
	q.Int = v
	return nil
}

// =============================================================================
// RPC Method Results
// =============================================================================

// DeployResult represents the registry_deployContract result
type DeployResult struct {
	GasEstimate uint64 `json:"gasEstimate"`
}
