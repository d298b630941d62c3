package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoalesce(t *testing.T) {
	assert.Equal(t, "fallback", Coalesce("", "fallback", "ignored"))
	assert.Equal(t, "first", Coalesce("first", "second"))
	assert.Equal(t, "", Coalesce("", ""))
	assert.Equal(t, 7, Coalesce(0, 7))
	assert.Equal(t, 0, Coalesce[int]())
}
