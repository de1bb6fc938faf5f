package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/camnode/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// EnvPrefix is prepended to every `env` tag when reading the environment.
const EnvPrefix = "CAMNODE_"

var durationType = reflect.TypeOf(time.Duration(0))

// LoadConfig fills opts from the config file and the environment with the
// precedence CLI flags > CAMNODE_* environment > TOML file > defaults.
//
// opts must point to a struct. A field named Config holds the file path;
// `toml:"section.key"` and `env:"KEY"` tags name the sources of the other
// fields. Flags changed on cmd are left alone. Values of the wrong type are
// skipped and reported together in the returned error, so one bad key does
// not discard the rest of the file.
func LoadConfig(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts).Elem()
	fields := optionFields(v.Type())
	changed := changedFlags(cmd)

	var configPath string
	if f := v.FieldByName("Config"); f.IsValid() && f.Kind() == reflect.String {
		configPath = f.String()
	}

	file, err := readTOML(configPath)
	if err != nil {
		return err
	}

	var problems []error
	for _, f := range fields {
		if changed[f.flag] {
			continue
		}
		field := v.Field(f.index)

		if f.tomlPath != "" && file != nil {
			if value := getNestedValue(file, f.tomlPath); value != nil {
				if setErr := setFieldValue(field, value); setErr != nil {
					problems = append(problems, fmt.Errorf("%s: %w", f.tomlPath, setErr))
				}
			}
		}

		if f.envKey != "" {
			if envValue := os.Getenv(EnvPrefix + f.envKey); envValue != "" {
				if setErr := setFieldValueFromString(field, envValue); setErr != nil {
					problems = append(problems, fmt.Errorf("%s%s: %w", EnvPrefix, f.envKey, setErr))
				}
			}
		}
	}
	return errors.Join(problems...)
}

// optionField describes where one struct field can be loaded from.
type optionField struct {
	index    int
	flag     string
	tomlPath string
	envKey   string
}

func optionFields(t reflect.Type) []optionField {
	fields := make([]optionField, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		fields = append(fields, optionField{
			index:    i,
			flag:     fieldNameToFlag(sf.Name),
			tomlPath: sf.Tag.Get("toml"),
			envKey:   sf.Tag.Get("env"),
		})
	}
	return fields
}

func changedFlags(cmd *cobra.Command) map[string]bool {
	changed := make(map[string]bool)
	if cmd == nil {
		return changed
	}
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			changed[f.Name] = true
		}
	})
	return changed
}

// readTOML parses path into a generic map. A missing or empty path is not
// an error and yields nil.
func readTOML(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var out map[string]any
	if err := toml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config: %w", err)
	}
	return out, nil
}

// fieldNameToFlag converts a struct field name to a CLI flag name.
// Example: "LoggingLevel" -> "logging-level", "Port" -> "port".
func fieldNameToFlag(fieldName string) string {
	var result []rune
	for i, r := range fieldName {
		if i > 0 && unicode.IsUpper(r) {
			result = append(result, '-')
		}
		result = append(result, unicode.ToLower(r))
	}
	return string(result)
}

// getNestedValue retrieves a value from nested map using dot notation.
func getNestedValue(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	current := data

	for i, part := range parts {
		if i == len(parts)-1 {
			return current[part]
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return nil
}

// errType is returned when a TOML value does not fit the field.
func errType(field reflect.Value, value any) error {
	return fmt.Errorf("cannot use %T value %v as %s", value, value, field.Type())
}

// setFieldValue assigns a decoded TOML value. Integers assigned to a
// time.Duration are milliseconds; strings are parsed with time.ParseDuration.
func setFieldValue(field reflect.Value, value any) error {
	if !field.CanSet() {
		return nil
	}

	if field.Type() == durationType {
		switch v := value.(type) {
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		case int64:
			field.SetInt(v * int64(time.Millisecond))
		default:
			return errType(field, value)
		}
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		s, ok := value.(string)
		if !ok {
			return errType(field, value)
		}
		field.SetString(s)
	case reflect.Float64:
		switch v := value.(type) {
		case float64:
			field.SetFloat(v)
		case int64:
			field.SetFloat(float64(v))
		default:
			return errType(field, value)
		}
	case reflect.Bool:
		b, ok := value.(bool)
		if !ok {
			return errType(field, value)
		}
		field.SetBool(b)
	case reflect.Int:
		switch v := value.(type) {
		case int64:
			field.SetInt(v)
		case float64:
			// fps = 30.0 in a file read into an int option
			if v != math.Trunc(v) {
				return errType(field, value)
			}
			field.SetInt(int64(v))
		default:
			return errType(field, value)
		}
	case reflect.Slice:
		arr, ok := value.([]any)
		if !ok || field.Type().Elem().Kind() != reflect.String {
			return errType(field, value)
		}
		slice := make([]string, len(arr))
		for i, item := range arr {
			s, strOk := item.(string)
			if !strOk {
				return errType(field, value)
			}
			slice[i] = s
		}
		field.Set(reflect.ValueOf(slice))
	}
	return nil
}

// setFieldValueFromString assigns an environment value. Slices are
// comma-separated.
func setFieldValueFromString(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int:
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			slice := make([]string, len(parts))
			for i, part := range parts {
				slice[i] = strings.TrimSpace(part)
			}
			field.Set(reflect.ValueOf(slice))
		}
	}
	return nil
}

// LoadLoggingConfig loads logging configuration from a TOML config file.
// Returns default config if file doesn't exist or can't be parsed.
func LoadLoggingConfig(configPath string) logging.Config {
	cfg, err := ReadLoggingConfig(configPath)
	if err != nil {
		return defaultLoggingConfig()
	}
	return cfg
}

// ReadLoggingConfig reads the [logging] table of a TOML config file.
// A missing path yields the defaults; unreadable or malformed files are errors.
func ReadLoggingConfig(configPath string) (logging.Config, error) {
	cfg := defaultLoggingConfig()
	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", configPath, err)
	}

	var rawConfig struct {
		Logging map[string]any `toml:"logging"`
	}
	if err := toml.Unmarshal(data, &rawConfig); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", configPath, err)
	}

	// level, format and buffer_size are global; other keys are module levels.
	var errs []error
	for key, value := range rawConfig.Logging {
		if key == "buffer_size" {
			n, ok := value.(int64)
			if !ok || n < 0 {
				errs = append(errs, fmt.Errorf("logging.buffer_size: want a non-negative integer, got %v", value))
				continue
			}
			cfg.BufferSize = int(n)
			continue
		}
		str, ok := value.(string)
		if !ok {
			errs = append(errs, fmt.Errorf("logging.%s: want a string, got %T", key, value))
			continue
		}
		switch key {
		case "level":
			cfg.Level = str
		case "format":
			cfg.Format = str
		default:
			cfg.Modules[key] = str
		}
	}
	if len(errs) > 0 {
		return cfg, errors.Join(errs...)
	}

	return cfg, nil
}

func defaultLoggingConfig() logging.Config {
	return logging.Config{
		Level:   "info",
		Format:  "text",
		Modules: make(map[string]string),
	}
}
