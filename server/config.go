package server

import (
	"bytes"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cespare/xxhash"
	"github.com/epochflow/epochflow"
	"github.com/epochflow/epochflow/services/diagnostic"
	"github.com/epochflow/epochflow/services/epoch_store"
	"github.com/epochflow/epochflow/services/stats"
	"github.com/epochflow/epochflow/services/storage"
	ktoml "github.com/epochflow/epochflow/toml"
	"github.com/pkg/errors"
)

const envPrefix = "EPOCHFLOW"

// Config represents the configuration format for the epochflowd binary.
type Config struct {
	Pipeline   PipelineConfig     `toml:"pipeline"`
	Checkpoint epoch_store.Config `toml:"checkpoint"`
	Fault      FaultConfig        `toml:"fault"`
	Sink       SinkConfig         `toml:"sink"`
	Storage    storage.Config     `toml:"storage"`
	Logging    diagnostic.Config  `toml:"logging"`
	Stats      stats.Config       `toml:"stats"`
	Supervisor SupervisorConfig   `toml:"supervisor"`

	Hostname string `toml:"hostname"`
}

type PipelineConfig struct {
	// Path of the input text file, one record per line.
	Input string `toml:"input"`
	// Number of absorbed inputs between two output records.
	EmitInterval int64 `toml:"emit-interval"`
	// Records per second read from the input, zero is unlimited.
	RateLimit      float64 `toml:"rate-limit"`
	EdgeBufferSize int     `toml:"edge-buffer-size"`
}

type FaultConfig struct {
	Enabled bool `toml:"enabled"`
	// One fault node is chained per threshold. A zero threshold never crashes.
	Thresholds []int64 `toml:"thresholds"`
	// abort or exit.
	Mode string `toml:"mode"`
}

type SinkConfig struct {
	Path string `toml:"path"`
	// Flush buffered output every n records, checkpoints always flush.
	FlushEvery int `toml:"flush-every"`
}

type SupervisorConfig struct {
	// Maximum number of relaunches after injected crashes, zero is unlimited.
	MaxRelaunches   int            `toml:"max-relaunches"`
	InitialInterval ktoml.Duration `toml:"initial-interval"`
	MaxInterval     ktoml.Duration `toml:"max-interval"`
}

// NewConfig returns an instance of Config with reasonable defaults.
func NewConfig() *Config {
	c := &Config{
		Hostname: "localhost",
	}
	c.Pipeline = PipelineConfig{
		Input:          "./input.txt",
		EmitInterval:   25,
		EdgeBufferSize: 1000,
	}
	c.Checkpoint = epoch_store.NewConfig()
	c.Fault = FaultConfig{
		Mode: epochflow.CrashAbort.String(),
	}
	c.Sink = SinkConfig{
		Path:       "./output.jsonl",
		FlushEvery: 100,
	}
	c.Storage = storage.NewConfig()
	c.Logging = diagnostic.NewConfig()
	c.Stats = stats.NewConfig()
	c.Supervisor = SupervisorConfig{
		MaxRelaunches:   10,
		InitialInterval: ktoml.Duration(100 * time.Millisecond),
		MaxInterval:     ktoml.Duration(5 * time.Second),
	}
	return c
}

// Validate returns an error if the config is invalid.
func (c *Config) Validate() error {
	if c.Hostname == "" {
		return fmt.Errorf("must configure valid hostname")
	}
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	if err := c.Checkpoint.Validate(); err != nil {
		return err
	}
	if err := c.Fault.Validate(); err != nil {
		return err
	}
	if err := c.Sink.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if err := c.Stats.Validate(); err != nil {
		return err
	}
	return c.Supervisor.Validate()
}

func (c PipelineConfig) Validate() error {
	if c.Input == "" {
		return fmt.Errorf("must specify pipeline 'input'")
	}
	if c.EmitInterval <= 0 {
		return fmt.Errorf("pipeline 'emit-interval' must be positive, got %d", c.EmitInterval)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("pipeline 'rate-limit' cannot be negative")
	}
	if c.EdgeBufferSize < 0 {
		return fmt.Errorf("pipeline 'edge-buffer-size' cannot be negative")
	}
	return nil
}

func (c FaultConfig) Validate() error {
	if _, err := epochflow.ParseCrashMode(c.Mode); err != nil {
		return errors.Wrap(err, "fault 'mode'")
	}
	for i, t := range c.Thresholds {
		if t < 0 {
			return fmt.Errorf("fault threshold %d cannot be negative, got %d", i, t)
		}
	}
	return nil
}

// CrashThresholds returns the thresholds of the fault nodes to chain, none when disabled.
func (c FaultConfig) CrashThresholds() []int64 {
	if !c.Enabled {
		return nil
	}
	return c.Thresholds
}

func (c FaultConfig) CrashMode() epochflow.CrashMode {
	m, _ := epochflow.ParseCrashMode(c.Mode)
	return m
}

func (c SinkConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("must specify sink 'path'")
	}
	if c.FlushEvery < 0 {
		return fmt.Errorf("sink 'flush-every' cannot be negative")
	}
	return nil
}

func (c SupervisorConfig) Validate() error {
	if c.MaxRelaunches < 0 {
		return fmt.Errorf("supervisor 'max-relaunches' cannot be negative")
	}
	if c.InitialInterval <= 0 {
		return fmt.Errorf("supervisor 'initial-interval' must be positive")
	}
	if c.MaxInterval < c.InitialInterval {
		return fmt.Errorf("supervisor 'max-interval' must not be less than 'initial-interval'")
	}
	return nil
}

// runIdentity is the part of the config that shapes the output of a run.
type runIdentity struct {
	Input        string  `toml:"input"`
	EmitInterval int64   `toml:"emit-interval"`
	Thresholds   []int64 `toml:"thresholds"`
	Mode         string  `toml:"mode"`
	Sink         string  `toml:"sink"`
}

// Hash identifies the run a launch belongs to.
// Settings that do not change the output, such as pacing or logging, are not part of it.
func (c *Config) Hash() (uint64, error) {
	id := runIdentity{
		Input:        c.Pipeline.Input,
		EmitInterval: c.Pipeline.EmitInterval,
		Thresholds:   c.Fault.CrashThresholds(),
		Mode:         c.Fault.Mode,
		Sink:         c.Sink.Path,
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(id); err != nil {
		return 0, errors.Wrap(err, "encode config")
	}
	return xxhash.Sum64(buf.Bytes()), nil
}

func (c *Config) ApplyEnvOverrides() error {
	return c.applyEnvOverrides(envPrefix, "", reflect.ValueOf(c))
}

func (c *Config) applyEnvOverrides(prefix string, fieldDesc string, spec reflect.Value) error {
	// If we have a pointer, dereference it
	s := spec
	if spec.Kind() == reflect.Ptr {
		s = spec.Elem()
	}

	var value string

	if s.Kind() != reflect.Struct {
		value = os.Getenv(prefix)
		// Skip any fields we don't have a value to set
		if value == "" {
			return nil
		}

		if fieldDesc != "" {
			fieldDesc = " to " + fieldDesc
		}
	}

	switch s.Kind() {
	case reflect.String:
		s.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:

		var intValue int64

		// Handle toml.Duration
		if s.Type().Name() == "Duration" {
			dur, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("failed to apply %v%v using type %v and value '%v'", prefix, fieldDesc, s.Type().String(), value)
			}
			intValue = dur.Nanoseconds()
		} else {
			var err error
			intValue, err = strconv.ParseInt(value, 0, s.Type().Bits())
			if err != nil {
				return fmt.Errorf("failed to apply %v%v using type %v and value '%v'", prefix, fieldDesc, s.Type().String(), value)
			}
		}

		s.SetInt(intValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("failed to apply %v%v using type %v and value '%v'", prefix, fieldDesc, s.Type().String(), value)
		}
		s.SetBool(boolValue)
	case reflect.Float32, reflect.Float64:
		floatValue, err := strconv.ParseFloat(value, s.Type().Bits())
		if err != nil {
			return fmt.Errorf("failed to apply %v%v using type %v and value '%v'", prefix, fieldDesc, s.Type().String(), value)
		}
		s.SetFloat(floatValue)
	case reflect.Struct:
		if err := c.applyEnvOverridesToStruct(prefix, s); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) applyEnvOverridesToStruct(prefix string, s reflect.Value) error {
	typeOfSpec := s.Type()
	for i := 0; i < s.NumField(); i++ {
		f := s.Field(i)
		// Get the toml tag to determine what env var name to use
		configName := typeOfSpec.Field(i).Tag.Get("toml")
		if configName == "" || configName == "-" {
			continue
		}
		// Replace hyphens with underscores to avoid issues with shells
		configName = strings.Replace(configName, "-", "_", -1)
		fieldName := typeOfSpec.Field(i).Name

		// Skip any fields that we cannot set
		if !f.CanSet() {
			continue
		}

		// Use the upper-case prefix and toml name for the env var
		key := strings.ToUpper(configName)
		if prefix != "" {
			key = strings.ToUpper(fmt.Sprintf("%s_%s", prefix, configName))
		}

		// A comma separated list replaces a slice of ints,
		// e.g. EPOCHFLOW_FAULT_THRESHOLDS=200,370
		if f.Kind() == reflect.Slice {
			if err := applyEnvSlice(key, fieldName, f); err != nil {
				return err
			}
			// Individual elements can still be set using the index as a suffix,
			// e.g. EPOCHFLOW_FAULT_THRESHOLDS_0
			for i := 0; i < f.Len(); i++ {
				if err := c.applyEnvOverrides(fmt.Sprintf("%s_%d", key, i), fieldName, f.Index(i)); err != nil {
					return err
				}
			}
		} else if err := c.applyEnvOverrides(key, fieldName, f); err != nil {
			return err
		}
	}
	return nil
}

func applyEnvSlice(key, fieldName string, f reflect.Value) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	switch f.Type().Elem().Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
	default:
		return fmt.Errorf("cannot apply %v to %v of type %v", key, fieldName, f.Type())
	}
	parts := strings.Split(value, ",")
	slice := reflect.MakeSlice(f.Type(), len(parts), len(parts))
	for i, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 0, f.Type().Elem().Bits())
		if err != nil {
			return fmt.Errorf("failed to apply %v to %v using value '%v'", key, fieldName, value)
		}
		slice.Index(i).SetInt(v)
	}
	f.Set(slice)
	return nil
}
