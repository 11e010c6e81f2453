package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// EnvLoader loads configuration from environment variables. Variable names are
// the prefix followed by the upper-cased yaml tags of the path to a field,
// joined by underscores: ORE_SERVICE_LISTEN_ADDR.
type EnvLoader struct {
	prefix string
}

// NewEnvLoader creates a new environment loader
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		prefix: prefix,
	}
}

// Load loads configuration from environment variables
func (el *EnvLoader) Load(config *Config) error {
	return el.loadStruct(reflect.ValueOf(config).Elem(), el.prefix)
}

func (el *EnvLoader) loadStruct(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		fieldName := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if fieldName == "-" {
			continue
		}
		if fieldName == "" {
			fieldName = fieldType.Name
		}
		envName := el.buildEnvName(prefix, fieldName)

		var err error
		switch field.Kind() {
		case reflect.Struct:
			err = el.loadStruct(field, envName)
		case reflect.Slice:
			err = el.loadSlice(field, envName)
		default:
			err = el.loadField(field, envName)
		}
		if err != nil {
			return err
		}
	}

	return nil
}

func (el *EnvLoader) loadField(field reflect.Value, envName string) error {
	value, ok := os.LookupEnv(envName)
	if !ok {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration for %s: %w", envName, err)
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer for %s: %w", envName, err)
			}
			field.SetInt(intVal)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		uintVal, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return fmt.Errorf("invalid unsigned integer for %s: %w", envName, err)
		}
		field.SetUint(uintVal)

	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float for %s: %w", envName, err)
		}
		field.SetFloat(floatVal)

	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for %s: %w", envName, err)
		}
		field.SetBool(boolVal)

	default:
		return fmt.Errorf("unsupported field type %s for %s", field.Kind(), envName)
	}

	return nil
}

// loadSlice reads a comma separated list of strings.
func (el *EnvLoader) loadSlice(field reflect.Value, envName string) error {
	value, ok := os.LookupEnv(envName)
	if !ok {
		return nil
	}
	if field.Type().Elem().Kind() != reflect.String {
		return fmt.Errorf("unsupported slice element type %s for %s", field.Type().Elem().Kind(), envName)
	}

	var parts []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}

	slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
	for i, part := range parts {
		slice.Index(i).SetString(part)
	}
	field.Set(slice)
	return nil
}

func (el *EnvLoader) buildEnvName(prefix, fieldName string) string {
	envName := strings.ToUpper(fieldName)
	envName = strings.ReplaceAll(envName, "-", "_")
	envName = strings.ReplaceAll(envName, ".", "_")

	if prefix != "" {
		return prefix + "_" + envName
	}
	return envName
}
