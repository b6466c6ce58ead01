package functions

import (
	"fmt"
	"regexp"

	"go.uber.org/multierr"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
)

// Validate checks a definition and reports every violation at once. The
// returned error carries [sserr.CodeInternalConfiguration] and lists each
// issue under the "issues" detail. A definition without parameters,
// responses or error mappings is valid.
//
// Validate does not modify fn and gives the same answer every time it is
// called on the same definition.
func Validate(fn *models.FunctionDefinition) error {
	if fn == nil {
		return sserr.New(sserr.CodeInternalConfiguration, "function definition is nil")
	}

	var errs error
	if fn.Name == "" {
		errs = multierr.Append(errs, fmt.Errorf("name must not be empty"))
	}
	if fn.Identifier == "" {
		errs = multierr.Append(errs, fmt.Errorf("identifier must not be empty"))
	}
	if fn.Procedure == "" {
		errs = multierr.Append(errs, fmt.Errorf("procedure must not be empty"))
	}

	errs = multierr.Append(errs, validateParameters(fn.Parameters))
	errs = multierr.Append(errs, validateResponses(fn.Responses))
	errs = multierr.Append(errs, validateErrors(fn.Errors))

	if errs == nil {
		return nil
	}
	issues := multierr.Errors(errs)
	msgs := make([]string, len(issues))
	for i, e := range issues {
		msgs[i] = e.Error()
	}
	return sserr.Wrapf(errs, sserr.CodeInternalConfiguration,
		"function %q has %d configuration issue(s)", fn.Identifier, len(issues)).
		WithDetail("issues", msgs)
}

func validateParameters(params []models.ParameterSpec) error {
	var errs error
	names := make(map[string]int, len(params))
	targets := make(map[string]int, len(params))

	for i, p := range params {
		if p.Name == "" {
			errs = multierr.Append(errs, fmt.Errorf("parameters[%d]: name must not be empty", i))
		} else if j, dup := names[p.Name]; dup {
			errs = multierr.Append(errs, fmt.Errorf(
				"parameters[%d] and parameters[%d]: duplicate name %q", j, i, p.Name))
		} else {
			names[p.Name] = i
		}

		if !p.Type.Valid() {
			errs = multierr.Append(errs, fmt.Errorf("parameters[%d]: type %q is not supported", i, p.Type))
		}

		if p.Target == "" {
			errs = multierr.Append(errs, fmt.Errorf("parameters[%d]: procedure parameter name must not be empty", i))
		} else if j, dup := targets[p.Target]; dup {
			errs = multierr.Append(errs, fmt.Errorf(
				"parameters[%d] and parameters[%d]: duplicate procedure parameter name %q", j, i, p.Target))
		} else {
			targets[p.Target] = i
		}

		if p.Validation != "" {
			if _, err := regexp.Compile(p.Validation); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("parameters[%d]: validation rule does not compile: %v", i, err))
			}
		}
		if p.Default != nil && p.Type.Valid() {
			if _, err := coerce(p.Type, *p.Default); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("parameters[%d]: default %q is not a valid %s", i, *p.Default, p.Type))
			}
		}
	}
	return errs
}

func validateResponses(responses []models.ResponseMapping) error {
	var errs error
	fields := make(map[string]int, len(responses))
	for i, r := range responses {
		if r.Field == "" {
			errs = multierr.Append(errs, fmt.Errorf("responses[%d]: field name must not be empty", i))
		} else if j, dup := fields[r.Field]; dup {
			errs = multierr.Append(errs, fmt.Errorf(
				"responses[%d] and responses[%d]: duplicate field name %q", j, i, r.Field))
		} else {
			fields[r.Field] = i
		}
		if r.Type != "" && !r.Type.Valid() {
			errs = multierr.Append(errs, fmt.Errorf("responses[%d]: type %q is not supported", i, r.Type))
		}
	}
	return errs
}

func validateErrors(mappings []models.ErrorMapping) error {
	var errs error
	codes := make(map[string]int, len(mappings))
	for i, m := range mappings {
		if m.Code == "" {
			errs = multierr.Append(errs, fmt.Errorf("errors[%d]: code must not be empty", i))
		} else if j, dup := codes[m.Code]; dup {
			errs = multierr.Append(errs, fmt.Errorf(
				"errors[%d] and errors[%d]: duplicate code %q", j, i, m.Code))
		} else {
			codes[m.Code] = i
		}
		if m.HTTPStatus < 100 || m.HTTPStatus > 599 {
			errs = multierr.Append(errs, fmt.Errorf("errors[%d]: HTTP status %d is outside [100, 599]", i, m.HTTPStatus))
		}
		if m.Message == "" {
			errs = multierr.Append(errs, fmt.Errorf("errors[%d]: message must not be empty", i))
		}
	}
	return errs
}
