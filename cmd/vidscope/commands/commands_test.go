package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teranos/vidscope/catalog"
)

func TestParseValue(t *testing.T) {
	assert.Equal(t, int64(40), parseValue("40"))
	assert.Equal(t, 0.45, parseValue("0.45"))
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, "gruvbox", parseValue("gruvbox"))
}

func TestFrameList(t *testing.T) {
	frames := make([]catalog.FrameMatch, 10)
	for i := range frames {
		frames[i].Frame = i * 2
	}
	assert.Equal(t, "0,2,4", frameList(frames[:3]))
	assert.Equal(t, "0,2,4,6,8,10,12,14,+2", frameList(frames))
	assert.Equal(t, "", frameList(nil))
}

func TestDeref(t *testing.T) {
	s := "file:///tmp/x.mp4"
	assert.Equal(t, "-", deref(nil))
	assert.Equal(t, s, deref(&s))
}
