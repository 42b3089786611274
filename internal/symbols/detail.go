package symbols

import (
	"encoding/json"
	"fmt"
)

// Detail is the kind-specific part of a symbol. Each variant carries only the
// fields that make sense for the kinds it belongs to.
type Detail interface {
	detailTag() string
}

// TypeDetail belongs to classes and interfaces.
type TypeDetail struct {
	SuperClass string   `json:"super_class,omitempty"`
	Interfaces []string `json:"interfaces,omitempty"`
}

// EnumDetail belongs to enums.
type EnumDetail struct {
	Values []string `json:"values,omitempty"`
}

// MethodDetail belongs to methods and constructors.
type MethodDetail struct {
	ReturnType     string   `json:"return_type,omitempty"`
	ParameterTypes []string `json:"parameter_types,omitempty"`
	Constructor    bool     `json:"constructor,omitempty"`
}

// VariableDetail belongs to fields, properties, locals, parameters and enum
// values.
type VariableDetail struct {
	Type string `json:"type,omitempty"`
}

// TriggerDetail belongs to triggers.
type TriggerDetail struct {
	SObject string   `json:"sobject,omitempty"`
	Events  []string `json:"events,omitempty"`
}

func (*TypeDetail) detailTag() string     { return "type" }
func (*EnumDetail) detailTag() string     { return "enum" }
func (*MethodDetail) detailTag() string   { return "method" }
func (*VariableDetail) detailTag() string { return "variable" }
func (*TriggerDetail) detailTag() string  { return "trigger" }

// DetailMatches reports whether d is a legal variant for kind. A nil detail
// always matches.
func DetailMatches(kind Kind, d Detail) bool {
	if d == nil {
		return true
	}
	switch d.(type) {
	case *TypeDetail:
		return kind == KindClass || kind == KindInterface
	case *EnumDetail:
		return kind == KindEnum
	case *MethodDetail:
		return kind.IsCallable()
	case *VariableDetail:
		return kind.IsValue()
	case *TriggerDetail:
		return kind == KindTrigger
	}
	return false
}

// TypeInfo returns the type variant, or nil.
func (s *Symbol) TypeInfo() *TypeDetail {
	d, _ := s.Detail.(*TypeDetail)
	return d
}

// EnumInfo returns the enum variant, or nil.
func (s *Symbol) EnumInfo() *EnumDetail {
	d, _ := s.Detail.(*EnumDetail)
	return d
}

// MethodInfo returns the method variant, or nil.
func (s *Symbol) MethodInfo() *MethodDetail {
	d, _ := s.Detail.(*MethodDetail)
	return d
}

// VariableInfo returns the variable variant, or nil.
func (s *Symbol) VariableInfo() *VariableDetail {
	d, _ := s.Detail.(*VariableDetail)
	return d
}

// TriggerInfo returns the trigger variant, or nil.
func (s *Symbol) TriggerInfo() *TriggerDetail {
	d, _ := s.Detail.(*TriggerDetail)
	return d
}

type detailEnvelope struct {
	Tag  string          `json:"tag"`
	Data json.RawMessage `json:"data"`
}

// MarshalDetail encodes d with its variant tag. A nil detail encodes as "".
func MarshalDetail(d Detail) (string, error) {
	if d == nil {
		return "", nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal detail: %w", err)
	}
	b, err := json.Marshal(detailEnvelope{Tag: d.detailTag(), Data: data})
	if err != nil {
		return "", fmt.Errorf("marshal detail: %w", err)
	}
	return string(b), nil
}

// UnmarshalDetail decodes the output of MarshalDetail.
func UnmarshalDetail(s string) (Detail, error) {
	if s == "" || s == "null" {
		return nil, nil
	}
	var env detailEnvelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return nil, fmt.Errorf("unmarshal detail: %w", err)
	}
	var d Detail
	switch env.Tag {
	case "type":
		d = &TypeDetail{}
	case "enum":
		d = &EnumDetail{}
	case "method":
		d = &MethodDetail{}
	case "variable":
		d = &VariableDetail{}
	case "trigger":
		d = &TriggerDetail{}
	default:
		return nil, fmt.Errorf("unmarshal detail: unknown tag %q", env.Tag)
	}
	if err := json.Unmarshal(env.Data, d); err != nil {
		return nil, fmt.Errorf("unmarshal detail %s: %w", env.Tag, err)
	}
	return d, nil
}
