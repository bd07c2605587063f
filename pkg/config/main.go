// Package config declares CLI/environment configuration options and binds
// them through viper: every flag can also be set through the equivalent
// UPPER_SNAKE environment variable.
package config

import (
	"fmt"
	"go/types"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bodasure/bodasure-backend/pkg/log"
)

// ConfigOption is a complete description of one configuration option: its
// flag name, type, destination pointer, and optionally a custom parser.
type ConfigOption struct {
	Name           string
	Usage          string
	OptType        types.BasicKind
	FlagDefault    interface{}
	ConfigKey      interface{}
	CustomSetValue func(*ConfigOption) error
	Required       bool
}

// ConfigOptions is a group of ConfigOption entries handled together.
type ConfigOptions []*ConfigOption

// Init registers every option as a persistent flag on cmd and binds it to
// viper, including the environment variable fallback.
func (cos ConfigOptions) Init(cmd *cobra.Command) error {
	for _, co := range cos {
		if err := co.init(cmd); err != nil {
			return fmt.Errorf("initializing config option %q: %w", co.Name, err)
		}
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	return nil
}

func (co *ConfigOption) init(cmd *cobra.Command) error {
	flags := cmd.PersistentFlags()

	switch co.OptType {
	case types.String:
		def, _ := co.FlagDefault.(string)
		flags.String(co.Name, def, co.Usage)
	case types.Int:
		def, _ := co.FlagDefault.(int)
		flags.Int(co.Name, def, co.Usage)
	case types.Bool:
		def, _ := co.FlagDefault.(bool)
		flags.Bool(co.Name, def, co.Usage)
	case types.Float64:
		def, _ := co.FlagDefault.(float64)
		flags.Float64(co.Name, def, co.Usage)
	default:
		return fmt.Errorf("unsupported option type %v", co.OptType)
	}

	if err := viper.BindPFlag(co.Name, flags.Lookup(co.Name)); err != nil {
		return fmt.Errorf("binding flag: %w", err)
	}

	envVarName := strings.ToUpper(strings.ReplaceAll(co.Name, "-", "_"))
	if err := viper.BindEnv(co.Name, envVarName); err != nil {
		return fmt.Errorf("binding env var %s: %w", envVarName, err)
	}

	return nil
}

// RequireE verifies that every required option carries a value.
func (cos ConfigOptions) RequireE() error {
	for _, co := range cos {
		if !co.Required {
			continue
		}
		if strings.TrimSpace(viper.GetString(co.Name)) == "" {
			return fmt.Errorf("required configuration option %q is missing", co.Name)
		}
	}
	return nil
}

// Require is RequireE with a fatal exit, for use in cobra PersistentPreRun
// hooks.
func (cos ConfigOptions) Require() {
	if err := cos.RequireE(); err != nil {
		log.Fatal(err.Error())
	}
}

// SetValues copies every option's resolved value into its ConfigKey
// destination, running CustomSetValue where one is declared.
func (cos ConfigOptions) SetValues() error {
	for _, co := range cos {
		if err := co.setValue(); err != nil {
			return fmt.Errorf("setting config option %q: %w", co.Name, err)
		}
	}
	return nil
}

func (co *ConfigOption) setValue() error {
	if co.CustomSetValue != nil {
		return co.CustomSetValue(co)
	}

	if co.ConfigKey == nil {
		return nil
	}

	switch key := co.ConfigKey.(type) {
	case *string:
		*key = viper.GetString(co.Name)
	case *int:
		*key = viper.GetInt(co.Name)
	case *bool:
		*key = viper.GetBool(co.Name)
	case *float64:
		*key = viper.GetFloat64(co.Name)
	default:
		return fmt.Errorf("the config key has an unsupported type %T", co.ConfigKey)
	}

	return nil
}

// IsExplicitlySet reports whether the option was set by the caller, as
// opposed to falling back to its flag default.
func IsExplicitlySet(co *ConfigOption) bool {
	return viper.IsSet(co.Name)
}
