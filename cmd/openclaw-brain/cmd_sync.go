package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/openclaw-brain/internal/models"
	"github.com/ajitpratap0/openclaw-brain/internal/syncer"
)

func syncCmd() *cobra.Command {
	var (
		direction  string
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize memories with the team knowledge base",
		Long: `Pushes pending memories (importance at or above sync.promotion_threshold, or tagged
with sync.push_tag) to the team knowledge base and pulls nodes changed there since
the last pull. Records edited on both sides since the last sync become conflicts;
list them with "conflicts" and settle them with "resolve".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, "sync")
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireSync("sync"); err != nil {
				return err
			}

			rep, err := a.sync.Sync(ctx, syncer.Direction(direction))
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			if outputJSON {
				return printJSON(rep)
			}
			printSyncReport(rep)
			return nil
		},
	}

	cmd.Flags().StringVar(&direction, "direction", string(syncer.DirectionBoth), "push, pull or both")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}

func printSyncReport(rep *syncer.Report) {
	if p := rep.Push; p != nil {
		fmt.Printf("Push: %d candidates, %d created, %d updated, %d conflicts, %d rejected, %d failed, %d links\n",
			p.Candidates, p.Created, p.Updated, p.Conflicts, p.Rejected, p.Failed, p.LinksPushed)
		for _, f := range p.Errors {
			fmt.Printf("  error %s: %s\n", f.ID, f.Reason)
		}
		if p.Stopped {
			fmt.Println("  push stopped early")
		}
	}
	if p := rep.Pull; p != nil {
		fmt.Printf("Pull: %d fetched, %d created, %d updated, %d conflicts, %d unchanged\n",
			p.Fetched, p.Created, p.Updated, p.Conflicts, p.Unchanged)
		for _, f := range p.Errors {
			fmt.Printf("  error %s: %s\n", f.ID, f.Reason)
		}
		if p.Stopped {
			fmt.Println("  pull stopped early")
		}
	}
	fmt.Printf("Done in %s\n", rep.Duration.Round(time.Millisecond))
}

func resolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <memory-id> <keep_local|keep_remote>",
		Short: "Settle a sync conflict",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, "resolve")
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireSync("resolve"); err != nil {
				return err
			}

			mem, err := a.sync.Resolve(ctx, args[0], models.Resolution(args[1]))
			if err != nil {
				return fmt.Errorf("resolve: %w", err)
			}
			fmt.Printf("Resolved %s with %s, now %s (version %d)\n", mem.ID, args[1], mem.SyncState, mem.Version)
			return nil
		},
	}
	return cmd
}

func conflictsCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List memories in sync conflict",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, "conflicts")
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireSync("conflicts"); err != nil {
				return err
			}

			mems, err := a.sync.Conflicts(ctx)
			if err != nil {
				return fmt.Errorf("conflicts: %w", err)
			}
			if outputJSON {
				return printJSON(mems)
			}
			if len(mems) == 0 {
				fmt.Println("No conflicts.")
				return nil
			}
			for i := range mems {
				m := &mems[i]
				fmt.Printf("%s  %-40s remote %s  updated %s\n", m.ID, truncate(m.Title, 40), m.RemoteID, m.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}
