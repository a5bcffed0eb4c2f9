package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptionalString(t *testing.T) {
	assert.Nil(t, OptionalString(""))
	got := OptionalString("curl/8")
	if assert.NotNil(t, got) {
		assert.Equal(t, "curl/8", *got)
	}
	assert.Equal(t, "", StringPtrValue(nil))
	assert.Equal(t, "x", StringPtrValue(StringPtr("x")))
}
