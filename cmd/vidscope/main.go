package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/vidscope/cmd/vidscope/commands"
	"github.com/teranos/vidscope/logger"
)

var rootCmd = &cobra.Command{
	Use:   "vidscope",
	Short: "vidscope - object detection, annotation and heatmaps for stored videos",
	Long: `vidscope - object detection, annotation and heatmaps for stored videos.

Videos are read from the original bucket, run through the detector, redrawn
with bounding boxes, re-encoded for the browser and summarized as a
detection-density heatmap. Results are recorded in the metadata database.

Available commands:
  serve   - Start the HTTP API, progress feed and worker pool
  process - Queue a video for processing (optionally wait for it)
  status  - Show processing status of a video
  ls      - List processed videos
  search  - Find videos containing a label
  am      - Manage vidscope configuration
  db      - Manage the metadata database
  version - Show version information

Examples:
  vidscope serve                    # API on :8780 with background workers
  vidscope process traffic.mp4 -w   # Process and wait for completion
  vidscope search car               # Videos with cars, most detections first
  vidscope am show                  # Show effective configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// am show prints TOML to stdout; keep it clean
		if cmd.Name() == "show" {
			return nil
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.InitializeWithLevel(jsonLogs || logger.IsProductionEnvironment(), logger.VerbosityToLevel(verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit JSON structured logs")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.ProcessCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.LsCmd)
	rootCmd.AddCommand(commands.SearchCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
