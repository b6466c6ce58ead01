package functions

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
)

// Date layouts accepted for date and datetime parameters.
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = time.RFC3339
)

// Arg is one bound argument for the downstream procedure.
type Arg struct {
	// Name is the client-facing parameter name.
	Name string

	// Target is the procedure parameter name.
	Target string

	Type models.ParamType

	// Value is the coerced value, or nil for SQL NULL.
	Value any
}

// Args are bound arguments in procedure position order.
type Args []Arg

// Map returns the arguments keyed by client-facing name.
func (a Args) Map() map[string]any {
	m := make(map[string]any, len(a))
	for _, arg := range a {
		m[arg.Name] = arg.Value
	}
	return m
}

// BindParams validates a caller's parameter bag against the definition and
// returns the arguments in position order. Missing required parameters,
// values that do not coerce to the declared type, and values failing the
// validation rule are all reported together as one VALIDATION_ERROR with a
// per-field "fields" detail. Parameters the definition does not declare are
// ignored.
//
// raw values may be the types encoding/json produces (with or without
// UseNumber) or strings from a query string.
func BindParams(fn *models.FunctionDefinition, raw map[string]any) (Args, error) {
	specs := make([]models.ParameterSpec, len(fn.Parameters))
	copy(specs, fn.Parameters)
	sort.SliceStable(specs, func(i, j int) bool { return specs[i].Position < specs[j].Position })

	args := make(Args, 0, len(specs))
	fields := make(map[string]string)

	for _, p := range specs {
		v, present := raw[p.Name]
		if !present || v == nil {
			switch {
			case p.Default != nil:
				v = *p.Default
			case p.Required:
				fields[p.Name] = "is required"
				continue
			default:
				args = append(args, Arg{Name: p.Name, Target: p.Target, Type: p.Type})
				continue
			}
		}

		if p.Validation != "" {
			re, err := regexp.Compile(p.Validation)
			if err != nil {
				return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration,
					"function %q: parameter %q has an invalid validation rule", fn.Identifier, p.Name)
			}
			if !re.MatchString(render(v)) {
				fields[p.Name] = "does not match the required format"
				continue
			}
		}

		coerced, err := coerce(p.Type, v)
		if err != nil {
			fields[p.Name] = err.Error()
			continue
		}
		args = append(args, Arg{Name: p.Name, Target: p.Target, Type: p.Type, Value: coerced})
	}

	if len(fields) > 0 {
		return nil, sserr.New(sserr.CodeValidation, "invalid function parameters").
			WithDetail("fields", fields)
	}
	return args, nil
}

// render returns the text a validation rule is matched against.
func render(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

var errNotInteger = errors.New("must be an integer")

// coerce converts v to the Go value passed downstream for typ.
func coerce(typ models.ParamType, v any) (any, error) {
	switch typ {
	case models.ParamString:
		switch t := v.(type) {
		case string:
			return t, nil
		case json.Number, float64, bool:
			return render(t), nil
		}
		return nil, errors.New("must be a string")

	case models.ParamInteger:
		switch t := v.(type) {
		case json.Number:
			n, err := t.Int64()
			if err != nil {
				return nil, errNotInteger
			}
			return n, nil
		case float64:
			if t != math.Trunc(t) || math.IsInf(t, 0) || t >= math.MaxInt64 || t < math.MinInt64 {
				return nil, errNotInteger
			}
			return int64(t), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
			if err != nil {
				return nil, errNotInteger
			}
			return n, nil
		}
		return nil, errNotInteger

	case models.ParamFloat:
		var f float64
		var err error
		switch t := v.(type) {
		case json.Number:
			f, err = t.Float64()
		case float64:
			f = t
		case string:
			f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
		default:
			err = errors.New("not a number")
		}
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, errors.New("must be a number")
		}
		return f, nil

	case models.ParamBoolean:
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(t))
			if err == nil {
				return b, nil
			}
		}
		return nil, errors.New("must be a boolean")

	case models.ParamDate:
		if s, ok := v.(string); ok {
			if d, err := time.Parse(DateLayout, s); err == nil {
				return d, nil
			}
		}
		return nil, fmt.Errorf("must be a date (%s)", DateLayout)

	case models.ParamDateTime:
		if s, ok := v.(string); ok {
			if d, err := time.Parse(DateTimeLayout, s); err == nil {
				return d, nil
			}
		}
		return nil, errors.New("must be an RFC 3339 timestamp")

	case models.ParamUUID:
		if s, ok := v.(string); ok {
			if u, err := uuid.Parse(s); err == nil {
				return u.String(), nil
			}
		}
		return nil, errors.New("must be a UUID")

	case models.ParamJSON:
		if s, ok := v.(string); ok {
			if !json.Valid([]byte(s)) {
				return nil, errors.New("must be valid JSON")
			}
			return json.RawMessage(s), nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, errors.New("must be valid JSON")
		}
		return json.RawMessage(b), nil
	}
	return nil, fmt.Errorf("has unsupported type %q", typ)
}
