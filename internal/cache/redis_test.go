package cache

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsInvalidURL(t *testing.T) {
	_, err := New("not a valid redis url", zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid REDIS_URL")
}

func TestNew_AcceptsWellFormedURL(t *testing.T) {
	c, err := New("redis://localhost:6379/0", zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, c)
}
