package config

import (
	"go/types"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ConfigOptions_Init_and_SetValues(t *testing.T) {
	defer viper.Reset()

	var (
		strValue   string
		intValue   int
		boolValue  bool
		floatValue float64
	)

	configOpts := ConfigOptions{
		{Name: "some-string", OptType: types.String, FlagDefault: "default", ConfigKey: &strValue},
		{Name: "some-int", OptType: types.Int, FlagDefault: 7, ConfigKey: &intValue},
		{Name: "some-bool", OptType: types.Bool, FlagDefault: false, ConfigKey: &boolValue},
		{Name: "some-float", OptType: types.Float64, FlagDefault: 1.5, ConfigKey: &floatValue},
	}

	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, configOpts.Init(cmd))

	t.Run("flag defaults are used when nothing is set", func(t *testing.T) {
		require.NoError(t, configOpts.SetValues())
		assert.Equal(t, "default", strValue)
		assert.Equal(t, 7, intValue)
		assert.False(t, boolValue)
		assert.Equal(t, 1.5, floatValue)
	})

	t.Run("environment variables override the defaults", func(t *testing.T) {
		t.Setenv("SOME_STRING", "from env")
		t.Setenv("SOME_INT", "42")
		t.Setenv("SOME_BOOL", "true")

		require.NoError(t, configOpts.SetValues())
		assert.Equal(t, "from env", strValue)
		assert.Equal(t, 42, intValue)
		assert.True(t, boolValue)
	})

	t.Run("flags override environment variables", func(t *testing.T) {
		t.Setenv("SOME_STRING", "from env")
		require.NoError(t, cmd.PersistentFlags().Set("some-string", "from flag"))

		require.NoError(t, configOpts.SetValues())
		assert.Equal(t, "from flag", strValue)
	})
}

func Test_ConfigOptions_RequireE(t *testing.T) {
	defer viper.Reset()

	var value string
	configOpts := ConfigOptions{
		{Name: "must-have", OptType: types.String, ConfigKey: &value, Required: true},
	}

	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, configOpts.Init(cmd))

	err := configOpts.RequireE()
	require.EqualError(t, err, `required configuration option "must-have" is missing`)

	t.Setenv("MUST_HAVE", "present")
	require.NoError(t, configOpts.RequireE())
}

func Test_ConfigOption_CustomSetValue(t *testing.T) {
	defer viper.Reset()

	var upper string
	configOpts := ConfigOptions{
		{
			Name:        "shouty",
			OptType:     types.String,
			FlagDefault: "quiet",
			ConfigKey:   &upper,
			CustomSetValue: func(co *ConfigOption) error {
				*(co.ConfigKey.(*string)) = "LOUD " + viper.GetString(co.Name)
				return nil
			},
		},
	}

	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, configOpts.Init(cmd))
	require.NoError(t, configOpts.SetValues())

	assert.Equal(t, "LOUD quiet", upper)
}

func Test_IsExplicitlySet(t *testing.T) {
	defer viper.Reset()

	var value string
	co := &ConfigOption{Name: "maybe-set", OptType: types.String, FlagDefault: "default", ConfigKey: &value}
	configOpts := ConfigOptions{co}

	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, configOpts.Init(cmd))

	assert.False(t, IsExplicitlySet(co))

	t.Setenv("MAYBE_SET", "explicit")
	assert.True(t, IsExplicitlySet(co))
}
