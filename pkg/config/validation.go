package config

import (
	"fmt"
	"reflect"
	"strings"

	"go.uber.org/multierr"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

// Validator is implemented by configuration structs with custom rules. It is
// called after every required field is present.
type Validator interface {
	Validate() error
}

// validate reports every missing required field at once, then runs the
// struct's own Validator.
func validate(cfg any, rv reflect.Value) error {
	var missing []string
	if err := multierr.Combine(validateRequired(rv, "", &missing)...); err != nil {
		return sserr.Wrapf(err, sserr.CodeValidationRequired,
			"config: required fields are empty: %s", strings.Join(missing, ", ")).
			WithDetail("fields", missing)
	}

	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			if _, isSSErr := sserr.AsError(err); isSSErr {
				return err
			}
			return sserr.Wrap(err, sserr.CodeValidation,
				"config: custom validation failed")
		}
	}
	return nil
}

func validateRequired(rv reflect.Value, path string, missing *[]string) []error {
	var errs []error
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field, sf := rv.Field(i), rt.Field(i)
		if !field.CanSet() {
			continue
		}
		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}
		if isNested(sf) {
			errs = append(errs, validateRequired(field, fieldPath, missing)...)
			continue
		}
		if sf.Tag.Get("required") == "true" && field.IsZero() {
			*missing = append(*missing, fieldPath)
			errs = append(errs, fmt.Errorf("%s is required", fieldPath))
		}
	}
	return errs
}
