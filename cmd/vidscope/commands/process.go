package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/vidscope/errors"
	"github.com/teranos/vidscope/logger"
	"github.com/teranos/vidscope/pipeline"
	"github.com/teranos/vidscope/pulse/async"
	"github.com/teranos/vidscope/pulse/progress"
)

// ProcessCmd queues a video for detection, annotation and heatmap rendering
var ProcessCmd = &cobra.Command{
	Use:   "process <video>",
	Short: "Queue a stored video for processing",
	Long: `Queue a video from the original bucket for processing.

Without --wait the job is left for a running "vidscope serve" to pick up.
With --wait the job runs in this process and the command blocks until it
completes or fails.`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

// StatusCmd reports the progress of a video job
var StatusCmd = &cobra.Command{
	Use:   "status <video>",
	Short: "Show the processing status of a video",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var processWait bool

func init() {
	ProcessCmd.Flags().BoolVarP(&processWait, "wait", "w", false, "Run the job locally and wait for it to finish")
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	name := args[0]
	st, err := a.svc.Start(ctx, name)
	if err != nil {
		return err
	}
	if st.Status.Terminal() || !processWait {
		printState(name, st)
		return nil
	}

	a.pool.Start()
	defer a.pool.Stop()

	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Processing %s", name))
	updates := a.tracker.Subscribe()
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for s := range updates {
			if s.JobID == name && spinner != nil {
				spinner.UpdateText(fmt.Sprintf("Processing %s: %d%% (%s)", name, s.Progress, s.Step))
			}
		}
	}()

	st, err = a.svc.Wait(ctx, name, 250*time.Millisecond)
	a.tracker.Unsubscribe(updates)
	close(updates)
	<-drained
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		return errors.Wrapf(err, "waiting for %s", name)
	}
	printState(name, st)
	if st.Status == progress.StatusError {
		return errors.Newf("processing %s failed: %s", name, st.Error)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, database, store, err := openCatalog()
	if err != nil {
		return err
	}
	defer database.Close()

	name := args[0]
	tracker := progress.NewTracker(store, logger.Named("tracker"))
	st := tracker.Get(cmd.Context(), name)
	printState(name, st)

	queue := async.NewQueue(database)
	for _, handler := range []string{pipeline.HandlerProcess, pipeline.HandlerHeatmap} {
		job, err := queue.FindActiveJobBySourceAndHandler(name, handler)
		if err != nil {
			return err
		}
		if job == nil {
			continue
		}
		pterm.Info.Printf("Active job %s: %s, stage %q, %d/%d\n",
			job.ID, job.Status, job.Stage, job.Progress.Current, job.Progress.Total)
	}
	return nil
}

func printState(name string, st progress.State) {
	switch st.Status {
	case progress.StatusCompleted:
		pterm.Success.Printf("%s completed\n", name)
		if st.ProcessedVideoPath != "" {
			pterm.Printf("  processed: %s\n", st.ProcessedVideoPath)
		}
		if st.HeatmapPath != "" {
			pterm.Printf("  heatmap:   %s\n", st.HeatmapPath)
		}
	case progress.StatusError:
		pterm.Error.Printf("%s failed at %s: %s\n", name, st.Step, st.Error)
	default:
		pterm.Info.Printf("%s: %s %d%% (%s)\n", name, st.Status, st.Progress, st.Step)
	}
}
