package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeInputsHash_Stable(t *testing.T) {
	payload := map[string]interface{}{
		"bot_id":   "b-1",
		"strategy": "blue_sky",
		"candles":  []string{"1717200000:100:102:98:101:1000"},
	}

	first, err := MakeInputsHash(payload)
	require.NoError(t, err)
	second, err := MakeInputsHash(payload)
	require.NoError(t, err)

	// Map key order must not affect the hash
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestMakeInputsHash_DiffersOnInput(t *testing.T) {
	a, err := MakeInputsHash(map[string]interface{}{"bot_id": "b-1"})
	require.NoError(t, err)
	b, err := MakeInputsHash(map[string]interface{}{"bot_id": "b-2"})
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestMakeInputsHash_Unmarshalable(t *testing.T) {
	_, err := MakeInputsHash(map[string]interface{}{"fn": func() {}})
	assert.Error(t, err)
}
