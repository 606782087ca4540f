package redisstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/vserve/internal/models"
)

func TestDecode(t *testing.T) {
	data, err := decode("tickets", "t1", []byte(`{"status":"Open"}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "Open"}, data)

	data, err = decode("tickets", "t1", []byte(`null`))
	require.NoError(t, err)
	assert.Empty(t, data)

	for _, body := range []string{`{"status":`, `["Open"]`, `"Open"`} {
		_, err := decode("tickets", "t1", []byte(body))
		require.Error(t, err, body)
		assert.ErrorIs(t, err, models.ErrSchemaViolation, body)

		var se *models.SchemaError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, "tickets", se.Collection)
		assert.Equal(t, "t1", se.ID)
	}
}
