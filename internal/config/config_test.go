package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

// TestConfig represents a test configuration structure.
type TestConfig struct {
	Config string `help:"Config file path"`

	// Basic types
	StringField string   `toml:"test.string_field" env:"STRING_FIELD"`
	BoolField   bool     `toml:"test.bool_field" env:"BOOL_FIELD"`
	IntField    int      `toml:"test.int_field" env:"INT_FIELD"`
	SliceField  []string `toml:"test.slice_field" env:"SLICE_FIELD"`

	// Nested config
	NestedString string `toml:"nested.value" env:"NESTED_VALUE"`
}

// CameraConfig mirrors the camera tuning fields of the CLI options.
type CameraConfig struct {
	Config       string        `help:"Config file path"`
	FrameTimeout time.Duration `toml:"camera.frame_timeout" env:"CAMERA_FRAME_TIMEOUT"`
	QueueSize    int           `toml:"camera.queue_size" env:"CAMERA_QUEUE_SIZE"`
	SimFPS       float64       `toml:"sim.fps" env:"SIM_FPS"`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigFromTOML(t *testing.T) {
	path := writeConfig(t, `
[test]
string_field = "hello world"
bool_field = true
int_field = 42
slice_field = ["item1", "item2", "item3"]

[nested]
value = "nested value"
`)

	config := &TestConfig{Config: path}
	if err := LoadConfig(config, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.StringField != "hello world" {
		t.Errorf("Expected StringField to be 'hello world', got '%s'", config.StringField)
	}
	if !config.BoolField {
		t.Errorf("Expected BoolField to be true, got %v", config.BoolField)
	}
	if config.IntField != 42 {
		t.Errorf("Expected IntField to be 42, got %d", config.IntField)
	}
	expectedSlice := []string{"item1", "item2", "item3"}
	if !reflect.DeepEqual(config.SliceField, expectedSlice) {
		t.Errorf("Expected SliceField to be %v, got %v", expectedSlice, config.SliceField)
	}
	if config.NestedString != "nested value" {
		t.Errorf("Expected NestedString to be 'nested value', got '%s'", config.NestedString)
	}
}

func TestLoadConfigFromEnvVars(t *testing.T) {
	t.Setenv("CAMNODE_STRING_FIELD", "env string")
	t.Setenv("CAMNODE_BOOL_FIELD", "false")
	t.Setenv("CAMNODE_INT_FIELD", "123")
	t.Setenv("CAMNODE_SLICE_FIELD", "a,b,c")
	t.Setenv("CAMNODE_NESTED_VALUE", "env nested")

	config := &TestConfig{BoolField: true}
	if err := LoadConfig(config, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.StringField != "env string" {
		t.Errorf("Expected StringField to be 'env string', got '%s'", config.StringField)
	}
	if config.BoolField {
		t.Errorf("Expected BoolField to be false, got %v", config.BoolField)
	}
	if config.IntField != 123 {
		t.Errorf("Expected IntField to be 123, got %d", config.IntField)
	}
	if !reflect.DeepEqual(config.SliceField, []string{"a", "b", "c"}) {
		t.Errorf("Expected SliceField to be [a b c], got %v", config.SliceField)
	}
	if config.NestedString != "env nested" {
		t.Errorf("Expected NestedString to be 'env nested', got '%s'", config.NestedString)
	}
}

func TestLoadConfigIgnoresForeignPrefix(t *testing.T) {
	t.Setenv("OTHERAPP_STRING_FIELD", "wrong prefix")

	config := &TestConfig{StringField: "default"}
	if err := LoadConfig(config, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if config.StringField != "default" {
		t.Errorf("StringField = %q, want default", config.StringField)
	}
}

func TestLoadConfigEnvOverridesToml(t *testing.T) {
	path := writeConfig(t, `
[test]
string_field = "toml value"
bool_field = true
int_field = 100
slice_field = ["toml1", "toml2"]
`)
	t.Setenv("CAMNODE_STRING_FIELD", "env override")
	t.Setenv("CAMNODE_BOOL_FIELD", "false")

	config := &TestConfig{Config: path}
	if err := LoadConfig(config, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.StringField != "env override" {
		t.Errorf("Expected StringField to be 'env override', got '%s'", config.StringField)
	}
	if config.BoolField {
		t.Errorf("Expected BoolField to be false (env override), got %v", config.BoolField)
	}
	if config.IntField != 100 {
		t.Errorf("Expected IntField to be 100 (from TOML), got %d", config.IntField)
	}
	if !reflect.DeepEqual(config.SliceField, []string{"toml1", "toml2"}) {
		t.Errorf("Expected SliceField to be [toml1 toml2] (from TOML), got %v", config.SliceField)
	}
}

func TestLoadConfigCLIWins(t *testing.T) {
	path := writeConfig(t, `
[test]
string_field = "toml value"
int_field = 100
`)
	t.Setenv("CAMNODE_STRING_FIELD", "env value")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("string-field", "", "")
	if err := cmd.Flags().Set("string-field", "cli value"); err != nil {
		t.Fatal(err)
	}

	config := &TestConfig{Config: path, StringField: "cli value"}
	if err := LoadConfig(config, cmd); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if config.StringField != "cli value" {
		t.Errorf("StringField = %q, want cli value", config.StringField)
	}
	if config.IntField != 100 {
		t.Errorf("IntField = %d, want 100 from TOML", config.IntField)
	}
}

func TestLoadConfigDurationsAndFloats(t *testing.T) {
	tests := []struct {
		name        string
		toml        string
		env         map[string]string
		wantTimeout time.Duration
		wantFPS     float64
		wantErr     bool
	}{
		{
			name:        "duration string",
			toml:        "[camera]\nframe_timeout = \"750ms\"\n[sim]\nfps = 12.5\n",
			wantTimeout: 750 * time.Millisecond,
			wantFPS:     12.5,
		},
		{
			name:        "integer milliseconds",
			toml:        "[camera]\nframe_timeout = 250\n[sim]\nfps = 30\n",
			wantTimeout: 250 * time.Millisecond,
			wantFPS:     30,
		},
		{
			name:        "env override",
			toml:        "[camera]\nframe_timeout = \"1s\"\n",
			env:         map[string]string{"CAMNODE_CAMERA_FRAME_TIMEOUT": "2s", "CAMNODE_SIM_FPS": "7.5"},
			wantTimeout: 2 * time.Second,
			wantFPS:     7.5,
		},
		{
			name:        "malformed values keep defaults",
			toml:        "[camera]\nframe_timeout = \"soon\"\n",
			env:         map[string]string{"CAMNODE_SIM_FPS": "fast"},
			wantTimeout: 500 * time.Millisecond,
			wantFPS:     25,
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			config := &CameraConfig{
				Config:       writeConfig(t, tt.toml),
				FrameTimeout: 500 * time.Millisecond,
				SimFPS:       25,
			}
			if err := LoadConfig(config, nil); (err != nil) != tt.wantErr {
				t.Fatalf("LoadConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if config.FrameTimeout != tt.wantTimeout {
				t.Errorf("FrameTimeout = %v, want %v", config.FrameTimeout, tt.wantTimeout)
			}
			if config.SimFPS != tt.wantFPS {
				t.Errorf("SimFPS = %v, want %v", config.SimFPS, tt.wantFPS)
			}
		})
	}
}

func TestGetNestedValue(t *testing.T) {
	data := map[string]any{
		"level1": map[string]any{
			"level2": map[string]any{
				"value": "nested_value",
			},
			"simple": "simple_value",
		},
		"root": "root_value",
	}

	tests := []struct {
		path     string
		expected any
	}{
		{"root", "root_value"},
		{"level1.simple", "simple_value"},
		{"level1.level2.value", "nested_value"},
		{"nonexistent", nil},
		{"level1.nonexistent", nil},
	}

	for _, test := range tests {
		result := getNestedValue(data, test.path)
		if result != test.expected {
			t.Errorf("getNestedValue(%q) = %v, expected %v", test.path, result, test.expected)
		}
	}
}

func TestSetFieldValue(t *testing.T) {
	type TestStruct struct {
		StringField string
		BoolField   bool
		IntField    int
		FloatField  float64
		SliceField  []string
	}

	s := &TestStruct{}
	v := reflect.ValueOf(s).Elem()

	if err := setFieldValue(v.FieldByName("StringField"), "test string"); err != nil {
		t.Fatal(err)
	}
	if s.StringField != "test string" {
		t.Errorf("Expected StringField to be 'test string', got '%s'", s.StringField)
	}

	setFieldValue(v.FieldByName("BoolField"), true)
	if !s.BoolField {
		t.Errorf("Expected BoolField to be true, got %v", s.BoolField)
	}

	setFieldValue(v.FieldByName("IntField"), int64(42))
	if s.IntField != 42 {
		t.Errorf("Expected IntField to be 42, got %d", s.IntField)
	}

	setFieldValue(v.FieldByName("FloatField"), int64(3))
	if s.FloatField != 3 {
		t.Errorf("Expected FloatField to be 3, got %v", s.FloatField)
	}

	setFieldValue(v.FieldByName("SliceField"), []any{"a", "b", "c"})
	if !reflect.DeepEqual(s.SliceField, []string{"a", "b", "c"}) {
		t.Errorf("Expected SliceField to be [a b c], got %v", s.SliceField)
	}

	setFieldValue(v.FieldByName("IntField"), 30.0)
	if s.IntField != 30 {
		t.Errorf("Expected IntField to be 30 from an integral float, got %d", s.IntField)
	}

	// Mismatched types leave the field alone and report an error.
	if err := setFieldValue(v.FieldByName("IntField"), "not a number"); err == nil {
		t.Error("expected an error for a string assigned to an int")
	}
	if err := setFieldValue(v.FieldByName("IntField"), 2.5); err == nil {
		t.Error("expected an error for a fractional float assigned to an int")
	}
	if s.IntField != 30 {
		t.Errorf("IntField changed on mismatched type: %d", s.IntField)
	}
}

func TestSetFieldValueFromString(t *testing.T) {
	type TestStruct struct {
		StringField string
		BoolField   bool
		IntField    int
		SliceField  []string
	}

	s := &TestStruct{}
	v := reflect.ValueOf(s).Elem()

	setFieldValueFromString(v.FieldByName("StringField"), "test string")
	if s.StringField != "test string" {
		t.Errorf("Expected StringField to be 'test string', got '%s'", s.StringField)
	}

	setFieldValueFromString(v.FieldByName("BoolField"), "true")
	if !s.BoolField {
		t.Errorf("Expected BoolField to be true, got %v", s.BoolField)
	}

	setFieldValueFromString(v.FieldByName("IntField"), "123")
	if s.IntField != 123 {
		t.Errorf("Expected IntField to be 123, got %d", s.IntField)
	}

	setFieldValueFromString(v.FieldByName("SliceField"), " a , b , c ")
	if !reflect.DeepEqual(s.SliceField, []string{"a", "b", "c"}) {
		t.Errorf("Expected SliceField to be [a b c], got %v", s.SliceField)
	}

	if err := setFieldValueFromString(v.FieldByName("IntField"), "many"); err == nil {
		t.Error("expected an error for a non-numeric int")
	}
	if s.IntField != 123 {
		t.Errorf("IntField changed on a parse error: %d", s.IntField)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	config := &TestConfig{Config: filepath.Join(t.TempDir(), "nonexistent.toml")}
	if err := LoadConfig(config, nil); err != nil {
		t.Fatalf("LoadConfig should not fail for missing file: %v", err)
	}
}

// LoggingConfig matches the logging fields in main.go Options struct.
type LoggingConfig struct {
	Config         string `help:"Config file path"`
	LoggingLevel   string `toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingSession string `toml:"logging.session" env:"LOGGING_SESSION"`
	LoggingFrames  string `toml:"logging.frames" env:"LOGGING_FRAMES"`
	LoggingBroker  string `toml:"logging.broker" env:"LOGGING_BROKER"`
	LoggingAPI     string `toml:"logging.api" env:"LOGGING_API"`
}

func TestLoadLoggingModuleLevels(t *testing.T) {
	path := writeConfig(t, `
[logging]
level = "info"
format = "text"
session = "debug"
frames = "debug"
broker = "warn"
api = "error"
`)

	config := &LoggingConfig{
		Config:         path,
		LoggingLevel:   "info",
		LoggingFormat:  "text",
		LoggingSession: "info",
		LoggingFrames:  "info",
		LoggingBroker:  "info",
		LoggingAPI:     "info",
	}
	if err := LoadConfig(config, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	tests := []struct {
		field string
		got   string
		want  string
	}{
		{"LoggingLevel", config.LoggingLevel, "info"},
		{"LoggingFormat", config.LoggingFormat, "text"},
		{"LoggingSession", config.LoggingSession, "debug"},
		{"LoggingFrames", config.LoggingFrames, "debug"},
		{"LoggingBroker", config.LoggingBroker, "warn"},
		{"LoggingAPI", config.LoggingAPI, "error"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.field, tt.got, tt.want)
		}
	}
}

func TestReadLoggingConfig(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		missing     bool
		wantErr     bool
		wantLevel   string
		wantModules map[string]string
	}{
		{
			name:        "levels and modules",
			content:     "[logging]\nlevel = \"warn\"\nformat = \"json\"\nsession = \"debug\"\n",
			wantLevel:   "warn",
			wantModules: map[string]string{"session": "debug"},
		},
		{
			name:        "no logging table",
			content:     "[server]\nport = \":8090\"\n",
			wantLevel:   "info",
			wantModules: map[string]string{},
		},
		{
			name:        "buffer size",
			content:     "[logging]\nbuffer_size = 50\napi = \"warn\"\n",
			wantLevel:   "info",
			wantModules: map[string]string{"api": "warn"},
		},
		{name: "malformed", content: "[logging\n", wantErr: true},
		{name: "module level not a string", content: "[logging]\nsession = 3\n", wantErr: true},
		{name: "missing file", missing: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "absent.toml")
			if !tt.missing {
				path = writeConfig(t, tt.content)
			}

			cfg, err := ReadLoggingConfig(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ReadLoggingConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				// The lenient variant falls back to defaults.
				if got := LoadLoggingConfig(path); got.Level != "info" || got.Format != "text" {
					t.Errorf("LoadLoggingConfig() = %+v, want defaults", got)
				}
				return
			}
			if cfg.Level != tt.wantLevel {
				t.Errorf("Level = %q, want %q", cfg.Level, tt.wantLevel)
			}
			if !reflect.DeepEqual(cfg.Modules, tt.wantModules) {
				t.Errorf("Modules = %v, want %v", cfg.Modules, tt.wantModules)
			}
		})
	}
}

func TestReadLoggingConfigEmptyPath(t *testing.T) {
	cfg, err := ReadLoggingConfig("")
	if err != nil {
		t.Fatalf("ReadLoggingConfig(\"\") error = %v", err)
	}
	if cfg.Level != "info" || cfg.Format != "text" || cfg.Modules == nil {
		t.Errorf("ReadLoggingConfig(\"\") = %+v, want defaults", cfg)
	}
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	path := writeConfig(t, `
[test
invalid toml syntax
`)

	config := &TestConfig{Config: path}
	if err := LoadConfig(config, nil); err == nil {
		t.Error("Expected LoadConfig to fail with invalid TOML, but it succeeded")
	}
}
