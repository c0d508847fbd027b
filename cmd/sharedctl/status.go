package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the lifecycle state",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := observer().Status()
		if err != nil {
			return err
		}
		fmt.Printf("Phase:        %s\n", st.Phase)
		if st.Generation.InProgress {
			fmt.Printf("Progress:     %d%% %s\n", st.Generation.Percent, st.Generation.Label)
		}
		active := st.Active
		if active == "" {
			active = "(none)"
		}
		fmt.Printf("Active world: %s\n", active)
		fmt.Printf("Waiting area: %s\n", st.Waiting)
		fmt.Printf("Participants: %d (%d connected, %d away mid-game)\n", st.Participants, st.Connected, len(st.Disconnected))
		fmt.Printf("Regenerated:  %s times\n", humanize.Comma(int64(st.Completed)))
		fmt.Printf("Uptime:       %s (tick %s)\n", st.Uptime, humanize.Comma(int64(st.Tick)))
		return nil
	},
}

var environmentsCmd = &cobra.Command{
	Use:     "environments",
	Aliases: []string{"worlds"},
	Short:   "List worlds on disk, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		envs, err := observer().Environments()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSEED\tCREATED\tROLE")
		for _, e := range envs {
			role := ""
			switch {
			case e.Waiting:
				role = "waiting"
			case e.Active:
				role = "active"
			case e.Loaded:
				role = "loaded"
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", e.Name, e.Seed, humanize.Time(e.CreatedAt), role)
		}
		return w.Flush()
	},
}

var generationsLimit int

var generationsCmd = &cobra.Command{
	Use:   "generations",
	Short: "List recent regenerations",
	RunE: func(cmd *cobra.Command, args []string) error {
		gens, err := observer().Generations(generationsLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tFINISHED\tTOOK\tRESULT\tMOVED\tCHUNKS\tDELETED")
		for _, g := range gens {
			result := "ok"
			if !g.OK {
				result = "failed: " + g.Error
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%d\n",
				g.Name, humanize.Time(g.FinishedAt), g.Duration().Round(1e6), result,
				g.Migrated, humanize.Bytes(uint64(g.ChunkBytes)), g.Deleted)
		}
		return w.Flush()
	},
}

func init() {
	generationsCmd.Flags().IntVarP(&generationsLimit, "limit", "n", 10, "how many to show")
	rootCmd.AddCommand(statusCmd, environmentsCmd, generationsCmd)
}
