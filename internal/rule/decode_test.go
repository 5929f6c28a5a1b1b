package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeWire(t *testing.T) {
	fromJSON, err := DecodeWire([]byte(`{"type":"INTERVAL","interval":{"every":8,"unit":"HOURS"}}`))
	require.NoError(t, err)
	fromYAML, err := DecodeWire([]byte("type: INTERVAL\ninterval:\n  every: 8\n  unit: HOURS\n"))
	require.NoError(t, err)
	assert.Equal(t, fromJSON, fromYAML)

	w, err := DecodeWire([]byte(`{type: ONE_TIME, oneTime: {fireAt: 2025-10-22T09:00:00}}`))
	require.NoError(t, err)
	require.NotNil(t, w.OneTime)
	assert.Equal(t, "2025-10-22T09:00:00", w.OneTime.FireAt)

	w, err = DecodeWire([]byte(`{type: COMPLEX, complex: {date: {mode: DAILY}, time: {mode: EXACT_TIME, at: "09:00"}}}`))
	require.NoError(t, err)
	r, errs := ParseWire(w)
	require.Empty(t, errs)
	assert.Equal(t, TypeComplex, r.Type())

	_, err = DecodeWire([]byte(""))
	assert.Error(t, err)
	_, err = DecodeWire([]byte("{"))
	assert.Error(t, err)
	_, err = DecodeWire([]byte(`{"interval":{"every":"eight"}}`))
	assert.Error(t, err)
}
