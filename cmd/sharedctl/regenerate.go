package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/talgya/sharedhealth/internal/control"
)

var (
	regenReason  string
	regenWatch   bool
	regenTimeout time.Duration
)

var regenerateCmd = &cobra.Command{
	Use:   "regenerate",
	Short: "Start building a new world",
	Long: `Asks the server to generate a new world and move everyone into it.
With --watch, follows the progress until the server is idle again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := actor()
		if err != nil {
			return err
		}
		res, err := a.Regenerate(regenReason)
		if errors.Is(err, control.ErrBusy) {
			fmt.Println("A regeneration is already running.")
			if !regenWatch {
				return nil
			}
		} else if err != nil {
			return err
		} else {
			fmt.Printf("Regeneration started (%s).\n", res.Phase)
		}
		if !regenWatch {
			return nil
		}
		return watch()
	},
}

func watch() error {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("Starting"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)

	st, err := control.Watch(observer(), 500*time.Millisecond, regenTimeout, func(s *control.Status) {
		if s.Generation.InProgress {
			bar.Describe(s.Generation.Label)
			bar.Set(s.Generation.Percent)
		}
	})
	bar.Finish()
	if err != nil {
		return err
	}
	fmt.Printf("Done. Active world: %s\n", st.Active)
	return nil
}

func init() {
	regenerateCmd.Flags().StringVar(&regenReason, "reason", "sharedctl", "reason recorded in the event log")
	regenerateCmd.Flags().BoolVarP(&regenWatch, "watch", "w", false, "follow progress until done")
	regenerateCmd.Flags().DurationVar(&regenTimeout, "timeout", 5*time.Minute, "give up watching after this long")
	rootCmd.AddCommand(regenerateCmd)
}
