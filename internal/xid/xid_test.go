package xid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	a := New("tok")
	b := New("tok")
	assert.True(t, strings.HasPrefix(a, "tok-"))
	assert.NotEqual(t, a, b)
	assert.True(t, ValidKey(strings.TrimPrefix(a, "tok-")))
}

func TestValidKey(t *testing.T) {
	assert.True(t, ValidKey("6f1c2a7e-8d0b-4c39-9a57-1c2d3e4f5a6b"))
	assert.False(t, ValidKey(""))
	assert.False(t, ValidKey("order-42"))
}
