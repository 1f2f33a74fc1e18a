package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateID(t *testing.T) {
	id := GenerateID("test")
	assert.True(t, strings.HasPrefix(id, "test_"))

	other := GenerateID("test")
	assert.NotEqual(t, id, other)
}

func TestGenerateRoomID(t *testing.T) {
	id := GenerateRoomID()
	assert.True(t, strings.HasPrefix(id, "room_"))
}
