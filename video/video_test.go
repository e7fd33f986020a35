package video

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/vidscope/errors"
)

func TestBBoxClamp(t *testing.T) {
	b := BBox{X1: -10, Y1: -5, X2: 120, Y2: 80}.Clamp(100, 60)
	assert.Equal(t, BBox{X1: 0, Y1: 0, X2: 99, Y2: 59}, b)
	assert.False(t, b.Degenerate())

	// Entirely outside on the right collapses to a line
	off := BBox{X1: 150, Y1: 10, X2: 200, Y2: 20}.Clamp(100, 60)
	assert.True(t, off.Degenerate())
}

func TestDetectionJSON(t *testing.T) {
	frames := []FrameDetections{{
		Frame: 12,
		Objects: []Detection{
			{Label: "car", Confidence: 0.87, BBox: BBox{X1: 10, Y1: 20, X2: 50, Y2: 60}},
		},
	}}

	data, err := json.Marshal(frames)
	require.NoError(t, err)
	assert.JSONEq(t,
		`[{"frame":12,"objects":[{"label":"car","confidence":0.87,"coordinates":[[10,20,50,60]]}]}]`,
		string(data))

	var back []FrameDetections
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, frames, back)
}

func TestDetectionUnmarshal_FlatAndFractional(t *testing.T) {
	var d Detection
	require.NoError(t, json.Unmarshal([]byte(`{"label":"person","confidence":0.5,"coordinates":[1.9,2.2,30.7,40.1]}`), &d))
	assert.Equal(t, BBox{X1: 1, Y1: 2, X2: 30, Y2: 40}, d.BBox)

	err := json.Unmarshal([]byte(`{"label":"person","confidence":0.5,"coordinates":[[1,2,3]]}`), &d)
	assert.Error(t, err)
}

func TestIndexAndFlatten(t *testing.T) {
	frames := []FrameDetections{
		{Frame: 0, Objects: []Detection{{Label: "a"}}},
		{Frame: 4, Objects: []Detection{{Label: "b"}, {Label: "c"}}},
	}
	idx := Index(frames)
	assert.Len(t, idx[4], 2)
	assert.Nil(t, idx[2])
	assert.Len(t, Flatten(frames), 3)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "processed_traffic.mp4", ProcessedKey("traffic.mp4"))
	assert.Equal(t, "heatmap_traffic.png", HeatmapKey("traffic.mp4"))
	assert.Equal(t, "heatmap_clip.v2.png", HeatmapKey("clip.v2.avi"))
	assert.Equal(t, "heatmap_noext.png", HeatmapKey("noext"))
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("traffic.mp4"))
	for _, bad := range []string{"", "..", "../etc/passwd", "a/b.mp4", `a\b.mp4`} {
		err := ValidateName(bad)
		assert.True(t, errors.IsInvalidRequestError(err), bad)
	}
}
