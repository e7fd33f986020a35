package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/vidscope/catalog"
	"github.com/teranos/vidscope/video"
)

// LsCmd lists catalogued videos
var LsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List videos in the metadata catalog",
	Args:  cobra.NoArgs,
	RunE:  runLs,
}

// SearchCmd finds videos containing a label
var SearchCmd = &cobra.Command{
	Use:   "search <label>",
	Short: "Find videos and timestamps where a label was detected",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var searchFPS float64

func init() {
	SearchCmd.Flags().Float64Var(&searchFPS, "fps", catalog.DefaultFPS, "Frame rate used to convert frames to timestamps")
}

func runLs(cmd *cobra.Command, args []string) error {
	_, database, store, err := openCatalog()
	if err != nil {
		return err
	}
	defer database.Close()

	records, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(records) == 0 {
		pterm.Info.Println("No videos catalogued yet")
		return nil
	}

	data := pterm.TableData{{"Video", "Detections", "Processed", "Heatmap", "Created"}}
	for _, r := range records {
		detections := "-"
		if r.Metadata != nil {
			detections = strconv.Itoa(len(video.Flatten(r.Metadata)))
		}
		data = append(data, []string{
			r.VideoName,
			detections,
			deref(r.ProcessedVideoPath),
			deref(r.HeatmapPath),
			r.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runSearch(cmd *cobra.Command, args []string) error {
	_, database, store, err := openCatalog()
	if err != nil {
		return err
	}
	defer database.Close()

	label := args[0]
	matches, err := store.SearchLabel(cmd.Context(), label, searchFPS)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		pterm.Info.Printf("No videos contain %q\n", label)
		return nil
	}

	data := pterm.TableData{{"Video", "Detections", "Frames", "First seen"}}
	for _, m := range matches {
		first := "-"
		if len(m.Frames) > 0 {
			first = fmt.Sprintf("%.2fs", m.Frames[0].Timestamp)
		}
		data = append(data, []string{
			m.VideoName,
			strconv.Itoa(m.TotalDetections),
			frameList(m.Frames),
			first,
		})
	}
	pterm.Info.Printf("%q found in %d video(s)\n", label, len(matches))
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func frameList(frames []catalog.FrameMatch) string {
	const limit = 8
	parts := make([]string, 0, limit+1)
	for i, f := range frames {
		if i == limit {
			parts = append(parts, fmt.Sprintf("+%d", len(frames)-limit))
			break
		}
		parts = append(parts, strconv.Itoa(f.Frame))
	}
	return strings.Join(parts, ",")
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
