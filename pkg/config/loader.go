// Package config loads gateway configuration from struct tag defaults, an
// optional YAML or JSON file, and environment variables, in that order of
// increasing priority:
//
//	envDefault struct tags  (lowest priority)
//	YAML/JSON config file
//	environment variables   (highest priority)
//
// # Struct Tags
//
//   - `env:"NAME"` maps the field to an environment variable. On a nested
//     struct the tag becomes a prefix for the child fields.
//   - `envDefault:"value"` sets a default when the field is zero-valued.
//   - `required:"true"` fails validation if the field remains zero.
//
// File values go through the `yaml` or `json` tags. ${VAR} references in a
// file are expanded from the environment before parsing so secrets can stay
// out of checked-in files.
//
// # Usage
//
//	cfg := config.MustLoad[gateway.Config](
//	    config.New().WithEnvPrefix("GATEWAY").WithFile("gateway.yaml"),
//	)
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Loader resolves configuration in layers. It is not safe for concurrent
// use; build one per Load call.
type Loader struct {
	envPrefix string
	filePath  string
	lookupEnv func(string) (string, bool)
}

// New creates a Loader that reads environment variables only.
func New() *Loader {
	return &Loader{lookupEnv: os.LookupEnv}
}

// WithEnvPrefix prepends PREFIX_ to every environment variable name. The
// prefix is uppercased.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile sets a .yaml, .yml or .json file to read. A missing file is not
// an error.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// WithLookup replaces the environment lookup. Tests use it to avoid
// mutating the process environment.
func (l *Loader) WithLookup(fn func(string) (string, bool)) *Loader {
	l.lookupEnv = fn
	return l
}

// Load populates cfg, which must be a non-nil pointer to a struct, and then
// validates it. Loading failures carry [sserr.CodeInternalConfiguration];
// validation failures carry [sserr.CodeValidationRequired] or
// [sserr.CodeValidation].
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: Load requires a non-nil pointer to a struct")
	}
	rv = rv.Elem()

	if err := applyDefaults(rv); err != nil {
		return err
	}
	if l.filePath != "" {
		if err := l.loadFile(cfg); err != nil {
			return err
		}
	}
	if err := l.applyEnv(rv, l.envPrefix); err != nil {
		return err
	}
	return validate(cfg, rv)
}

// MustLoad loads a T or panics. Use it in main where a bad configuration
// must prevent startup.
func MustLoad[T any](loader *Loader) T {
	var cfg T
	if err := loader.Load(&cfg); err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

func (l *Loader) loadFile(cfg any) error {
	if strings.Contains(l.filePath, "..") {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: file path must not contain directory traversal (..) sequences")
	}

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to read file %q", l.filePath)
	}

	expanded := os.Expand(string(data), func(name string) string {
		v, _ := l.lookupEnv(name)
		return v
	})

	switch ext := strings.ToLower(filepath.Ext(l.filePath)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal([]byte(expanded), cfg)
	case ".json":
		err = json.Unmarshal([]byte(expanded), cfg)
	default:
		return sserr.Newf(sserr.CodeInternalConfiguration,
			"config: unsupported file extension %q (use .yaml, .yml, or .json)", ext)
	}
	if err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to parse file %q", l.filePath)
	}
	return nil
}

// isNested reports whether a field is a struct the loader descends into.
// time.Time and time.Duration are leaves.
func isNested(sf reflect.StructField) bool {
	return sf.Type.Kind() == reflect.Struct &&
		sf.Type != durationType &&
		sf.Type != reflect.TypeOf(time.Time{})
}

func applyDefaults(rv reflect.Value) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field, sf := rv.Field(i), rt.Field(i)
		if !field.CanSet() {
			continue
		}
		if isNested(sf) {
			if err := applyDefaults(field); err != nil {
				return err
			}
			continue
		}
		tag, ok := sf.Tag.Lookup("envDefault")
		if !ok || !field.IsZero() {
			continue
		}
		if err := setField(field, tag); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to apply default for field %q", sf.Name)
		}
	}
	return nil
}

func joinEnv(prefix, name string) string {
	if prefix == "" {
		return name
	}
	if name == "" {
		return prefix
	}
	return prefix + "_" + name
}

func (l *Loader) applyEnv(rv reflect.Value, prefix string) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field, sf := rv.Field(i), rt.Field(i)
		if !field.CanSet() {
			continue
		}
		envTag := sf.Tag.Get("env")
		if isNested(sf) {
			if err := l.applyEnv(field, joinEnv(prefix, envTag)); err != nil {
				return err
			}
			continue
		}
		if envTag == "" {
			continue
		}
		key := joinEnv(prefix, envTag)
		val, ok := l.lookupEnv(key)
		if !ok {
			continue
		}
		if err := setField(field, val); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to set field %q from env var %q", sf.Name, key)
		}
	}
	return nil
}

// setField parses value into field. Supported kinds: string (and named
// string types such as Secret), bool, signed and unsigned integers,
// float64, time.Duration, and slices of string or int64 (comma-separated).
func setField(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("cannot parse duration %q: %w", value, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("cannot parse bool %q: %w", value, err)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse integer %q: %w", value, err)
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse unsigned integer %q: %w", value, err)
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse float %q: %w", value, err)
		}
		field.SetFloat(f)
	case reflect.Slice:
		return setSlice(field, value)
	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}

func setSlice(field reflect.Value, value string) error {
	var parts []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
	for i, p := range parts {
		elem := slice.Index(i)
		switch elem.Kind() {
		case reflect.String:
			elem.SetString(p)
		case reflect.Int64:
			n, err := strconv.ParseInt(p, 10, 64)
			if err != nil {
				return fmt.Errorf("cannot parse list element %q: %w", p, err)
			}
			elem.SetInt(n)
		default:
			return fmt.Errorf("unsupported slice element type %s", elem.Kind())
		}
	}
	field.Set(slice)
	return nil
}
