package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampInt(t *testing.T) {
	assert.Equal(t, 0, ClampInt(-4, 0, 99))
	assert.Equal(t, 99, ClampInt(120, 0, 99))
	assert.Equal(t, 42, ClampInt(42, 0, 99))
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-0.5))
	assert.Equal(t, 1.0, Clamp01(1.5))
	assert.Equal(t, 0.25, Clamp01(0.25))
}

func TestPtr(t *testing.T) {
	p := Ptr("gs://processed/processed_a.mp4")
	assert.Equal(t, "gs://processed/processed_a.mp4", *p)
}
