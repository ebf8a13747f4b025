// Package config provides a unified configuration management system.
//
// It supports loading and validating configuration from multiple
// sources (files, environment variables), with type checking against
// struct tags.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader is a configuration source.
type Loader interface {
	Load(target interface{}) error
	Validate(config interface{}) error
}

// Manager applies an ordered list of Loaders onto one target struct.
type Manager struct {
	mu      sync.RWMutex
	loaders []Loader
	config  interface{}
}

// NewManager creates an empty configuration manager.
func NewManager() *Manager {
	return &Manager{
		loaders: make([]Loader, 0),
	}
}

// AddLoader appends a Loader to the manager's pipeline.
func (m *Manager) AddLoader(loader Loader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaders = append(m.loaders, loader)
}

// Load runs every registered loader's Load, then every loader's Validate,
// against target.
func (m *Manager) Load(target interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, loader := range m.loaders {
		if err := loader.Load(target); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	for _, loader := range m.loaders {
		if err := loader.Validate(target); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}

	m.config = target
	return nil
}

// GetConfig returns the most recently loaded config value.
func (m *Manager) GetConfig() interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// FileLoader loads configuration from a JSON or YAML file.
type FileLoader struct {
	FilePath string
	Format   string // json, yaml, yml
}

// NewFileLoader builds a FileLoader, inferring Format from the file extension.
func NewFileLoader(filePath string) *FileLoader {
	format := strings.ToLower(filepath.Ext(filePath))
	if format != "" {
		format = format[1:] // strip the leading dot
	}

	return &FileLoader{
		FilePath: filePath,
		Format:   format,
	}
}

// Load decodes the file into target. A missing file is not an error — it
// leaves target untouched so defaults can apply.
func (fl *FileLoader) Load(target interface{}) error {
	if _, err := os.Stat(fl.FilePath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(fl.FilePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", fl.FilePath, err)
	}

	switch fl.Format {
	case "json":
		return json.Unmarshal(data, target)
	case "yaml", "yml":
		return yaml.Unmarshal(data, target)
	default:
		return fmt.Errorf("unsupported config format: %s", fl.Format)
	}
}

// Validate runs the generic required/validate-tag checks.
func (fl *FileLoader) Validate(config interface{}) error {
	return validateStruct(config)
}

// EnvLoader loads configuration from environment variables under Prefix.
type EnvLoader struct {
	Prefix string
}

// NewEnvLoader builds an EnvLoader with the given environment variable prefix.
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		Prefix: prefix,
	}
}

// Load sets fields from environment variables named by Prefix.
func (el *EnvLoader) Load(target interface{}) error {
	return loadFromEnv(target, el.Prefix)
}

// Validate runs the generic required/validate-tag checks.
func (el *EnvLoader) Validate(config interface{}) error {
	return validateStruct(config)
}

// loadFromEnv walks target's fields and applies any matching environment
// variable, deriving each field's key from its env/json tag or its name.
func loadFromEnv(target interface{}, prefix string) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("target must be a pointer to struct")
	}

	v = v.Elem()
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		envKey := getEnvKey(fieldType, prefix)
		if envKey == "" {
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from env %s: %w", fieldType.Name, envKey, err)
		}
	}

	return nil
}

// getEnvKey derives the environment variable name for field, preferring an
// explicit `env` tag, falling back to the `json` tag, then the field name.
func getEnvKey(field reflect.StructField, prefix string) string {
	if envTag := field.Tag.Get("env"); envTag != "" {
		if prefix != "" {
			return prefix + "_" + envTag
		}
		return envTag
	}

	if jsonTag := field.Tag.Get("json"); jsonTag != "" {
		parts := strings.Split(jsonTag, ",")
		if parts[0] != "" && parts[0] != "-" {
			key := strings.ToUpper(strings.ReplaceAll(parts[0], "_", "_"))
			if prefix != "" {
				return prefix + "_" + key
			}
			return key
		}
	}

	key := strings.ToUpper(field.Name)
	if prefix != "" {
		return prefix + "_" + key
	}
	return key
}

// setFieldValue parses value according to field's Kind and assigns it.
func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		uintVal, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(uintVal)
	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatVal)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// isZeroValue reports whether v holds its type's zero value.
func isZeroValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Ptr:
		return v.IsNil()
	}
	return false
}

// validateStruct checks config's `required` and `validate` struct tags.
func validateStruct(config interface{}) error {
	v := reflect.ValueOf(config)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		return nil
	}

	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if required := fieldType.Tag.Get("required"); required == "true" {
			if isZeroValue(field) {
				return fmt.Errorf("required field %s is missing", fieldType.Name)
			}
		}

		if validate := fieldType.Tag.Get("validate"); validate != "" {
			if err := validateField(field, validate, fieldType.Name); err != nil {
				return err
			}
		}
	}

	return nil
}

// validateField applies a comma-separated list of validate-tag rules
// (currently min=N and max=N) to field.
func validateField(field reflect.Value, rule, fieldName string) error {
	rules := strings.Split(rule, ",")

	for _, r := range rules {
		r = strings.TrimSpace(r)

		if strings.HasPrefix(r, "min=") {
			minStr := strings.TrimPrefix(r, "min=")
			min, err := strconv.Atoi(minStr)
			if err != nil {
				return fmt.Errorf("invalid min rule for field %s: %s", fieldName, minStr)
			}

			switch field.Kind() {
			case reflect.String:
				if field.Len() < min {
					return fmt.Errorf("field %s must be at least %d characters", fieldName, min)
				}
			case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
				if field.Int() < int64(min) {
					return fmt.Errorf("field %s must be at least %d", fieldName, min)
				}
			}
		}

		if strings.HasPrefix(r, "max=") {
			maxStr := strings.TrimPrefix(r, "max=")
			max, err := strconv.Atoi(maxStr)
			if err != nil {
				return fmt.Errorf("invalid max rule for field %s: %s", fieldName, maxStr)
			}

			switch field.Kind() {
			case reflect.String:
				if field.Len() > max {
					return fmt.Errorf("field %s must be at most %d characters", fieldName, max)
				}
			case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
				if field.Int() > int64(max) {
					return fmt.Errorf("field %s must be at most %d", fieldName, max)
				}
			}
		}
	}

	return nil
}
