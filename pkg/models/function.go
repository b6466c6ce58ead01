package models

import "time"

// ParamType is the declared type of a function parameter.
type ParamType string

// The fixed set of parameter types a function definition may declare.
const (
	ParamString   ParamType = "string"
	ParamInteger  ParamType = "integer"
	ParamFloat    ParamType = "float"
	ParamBoolean  ParamType = "boolean"
	ParamDate     ParamType = "date"
	ParamDateTime ParamType = "datetime"
	ParamJSON     ParamType = "json"
	ParamUUID     ParamType = "uuid"
)

// Valid reports whether the type is in the fixed set.
func (t ParamType) Valid() bool {
	switch t {
	case ParamString, ParamInteger, ParamFloat, ParamBoolean,
		ParamDate, ParamDateTime, ParamJSON, ParamUUID:
		return true
	default:
		return false
	}
}

// ParameterSpec describes one input of a function.
type ParameterSpec struct {
	// Name is the client-facing parameter name.
	Name     string    `json:"name" db:"name"`
	Type     ParamType `json:"type" db:"param_type"`
	Required bool      `json:"required" db:"is_required"`

	// Default is applied when the caller omits an optional parameter.
	Default *string `json:"default,omitempty" db:"default_value"`

	// Validation is an optional regular expression the rendered value must
	// match.
	Validation string `json:"validation,omitempty" db:"validation_rule"`

	// Target is the downstream procedure parameter name.
	Target string `json:"target" db:"procedure_param_name"`

	Position int `json:"position" db:"position"`
}

// ResponseMapping projects one field of the downstream result.
type ResponseMapping struct {
	// Field is the name rendered to the caller.
	Field string `json:"field" db:"field_name"`

	// Source is the downstream column; empty means Field.
	Source string `json:"source,omitempty" db:"source_column"`

	Type ParamType `json:"type,omitempty" db:"field_type"`
}

// SourceColumn returns the downstream column name for the mapping.
func (m ResponseMapping) SourceColumn() string {
	if m.Source == "" {
		return m.Field
	}
	return m.Source
}

// ErrorMapping translates a downstream error code into a caller-facing
// status and message.
type ErrorMapping struct {
	Code       string `json:"code" db:"error_code"`
	HTTPStatus int    `json:"http_status" db:"http_status"`
	Message    string `json:"message" db:"error_message"`
}

// FunctionDefinition is the declarative description of one callable
// operation. The gateway only reads definitions; the admin backend owns
// them.
type FunctionDefinition struct {
	ID          int64  `json:"id" db:"id"`
	Identifier  string `json:"identifier" db:"identifier"`
	Name        string `json:"name" db:"name"`
	Procedure   string `json:"procedure" db:"procedure_name"`
	Description string `json:"description,omitempty" db:"description"`
	Active      bool   `json:"active" db:"is_active"`

	Parameters []ParameterSpec   `json:"parameters"`
	Responses  []ResponseMapping `json:"responses"`
	Errors     []ErrorMapping    `json:"errors"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ErrorMappingFor returns the mapping for a downstream code, if any.
func (f *FunctionDefinition) ErrorMappingFor(code string) (ErrorMapping, bool) {
	for _, m := range f.Errors {
		if m.Code == code {
			return m, true
		}
	}
	return ErrorMapping{}, false
}

// Target returns the lightweight projection used by authorization.
func (f *FunctionDefinition) Target() FunctionTarget {
	return FunctionTarget{ID: f.ID, Identifier: f.Identifier, Active: f.Active}
}

// FunctionTarget is the subset of a function definition the authorization
// stage needs.
type FunctionTarget struct {
	ID         int64  `json:"id"`
	Identifier string `json:"identifier"`
	Active     bool   `json:"active"`
}
