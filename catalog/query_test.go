package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/vidscope/errors"
	vstest "github.com/teranos/vidscope/internal/testing"
	"github.com/teranos/vidscope/internal/util"
	"github.com/teranos/vidscope/video"
)

func TestSearchLabel(t *testing.T) {
	ctx := context.Background()
	store := NewStore(vstest.CreateTestDB(t), nil)

	one := []video.FrameDetections{
		{Frame: 30, Objects: []video.Detection{{Label: "Car", Confidence: 0.7}}},
	}
	three := []video.FrameDetections{
		{Frame: 60, Objects: []video.Detection{{Label: "car", Confidence: 0.9}, {Label: "car", Confidence: 0.8}}},
		{Frame: 15, Objects: []video.Detection{{Label: "car", Confidence: 0.5}, {Label: "dog", Confidence: 0.5}}},
	}
	_, err := store.Upsert(ctx, "one.mp4", Update{Metadata: one})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, "three.mp4", Update{Metadata: three, ProcessedVideoPath: util.Ptr("p3")})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, "pending.mp4", Update{HeatmapPath: util.Ptr("h")})
	require.NoError(t, err)

	results, err := store.SearchLabel(ctx, "CAR", 0)
	require.NoError(t, err)
	require.Len(t, results, 2)

	t.Log("Most detections first")
	assert.Equal(t, "three.mp4", results[0].VideoName)
	assert.Equal(t, 3, results[0].TotalDetections)
	assert.Equal(t, "p3", *results[0].ProcessedVideoPath)

	t.Log("Frames ascending, timestamps at 30 fps")
	require.Len(t, results[0].Frames, 2)
	assert.Equal(t, 15, results[0].Frames[0].Frame)
	assert.Equal(t, 0.5, results[0].Frames[0].Timestamp)
	assert.Equal(t, 2.0, results[0].Frames[1].Timestamp)

	assert.Equal(t, "one.mp4", results[1].VideoName)

	none, err := store.SearchLabel(ctx, "giraffe", 25)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSummarize(t *testing.T) {
	frames := []video.FrameDetections{
		{Frame: 9, Objects: []video.Detection{{Label: "person", Confidence: 0.4}}},
		{Frame: 3, Objects: []video.Detection{
			{Label: "car", Confidence: 0.9},
			{Label: "person", Confidence: 0.5},
		}},
		{Frame: 6, Objects: []video.Detection{{Label: "person", Confidence: 0.6}}},
	}

	stats := Summarize(frames, DefaultFPS)
	require.Len(t, stats, 2)

	person := stats[0]
	assert.Equal(t, "person", person.Label)
	assert.Equal(t, 3, person.TotalDetections)
	assert.Equal(t, 0.5, person.AverageConfidence)
	assert.Equal(t, 3, person.FirstDetection)
	assert.Equal(t, 9, person.LastDetection)
	assert.Equal(t, []int{3, 6, 9}, []int{person.Occurrences[0].Frame, person.Occurrences[1].Frame, person.Occurrences[2].Frame})

	assert.Equal(t, "car", stats[1].Label)
	assert.Equal(t, 1, stats[1].TotalDetections)
}

func TestSummarize_RoundsAverage(t *testing.T) {
	frames := []video.FrameDetections{
		{Frame: 0, Objects: []video.Detection{{Label: "cat", Confidence: 0.3334}, {Label: "cat", Confidence: 0.3336}, {Label: "cat", Confidence: 0.3338}}},
	}
	stats := Summarize(frames, DefaultFPS)
	assert.Equal(t, 0.334, stats[0].AverageConfidence)
}

func TestObjectSummary_NotFound(t *testing.T) {
	store := NewStore(vstest.CreateTestDB(t), nil)
	_, err := store.ObjectSummary(context.Background(), "ghost.mp4", 0)
	assert.True(t, errors.IsNotFoundError(err))
}
