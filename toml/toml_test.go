package toml_test

import (
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	itoml "github.com/epochflow/epochflow/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration_Decode(t *testing.T) {
	var c struct {
		Period itoml.Duration `toml:"period"`
		Empty  itoml.Duration `toml:"empty"`
	}
	_, err := toml.Decode("period = \"1m30s\"\nempty = \"\"\n", &c)
	require.NoError(t, err)
	assert.Equal(t, itoml.Duration(90*time.Second), c.Period)
	assert.Equal(t, itoml.Duration(0), c.Empty)
}

func TestDuration_Invalid(t *testing.T) {
	var d itoml.Duration
	assert.Error(t, d.UnmarshalText([]byte("ten seconds")))
}

func TestDuration_MarshalText(t *testing.T) {
	b, err := itoml.Duration(250 * time.Millisecond).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "250ms", string(b))
}
