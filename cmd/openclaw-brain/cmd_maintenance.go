package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/openclaw-brain/internal/maintenance"
)

func maintenanceCmd() *cobra.Command {
	var (
		dryRun     bool
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Run maintenance: merge duplicates, consolidate, decay, optimize",
		Long: `Without a subcommand, runs every pass in order. Each pass can also be run on its
own. With --dry-run nothing is written and the report shows what would change.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, "maintenance")
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.maintenance().Run(ctx, dryRun)
			if err != nil {
				return fmt.Errorf("maintenance: %w", err)
			}
			if outputJSON {
				return printJSON(rep)
			}
			printMaintenanceReport(rep)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "preview changes without applying")
	cmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output as JSON")

	cmd.AddCommand(
		maintenancePassCmd("duplicates", "Merge near-identical memories", &dryRun, &outputJSON, (*maintenance.Engine).MergeDuplicates),
		maintenancePassCmd("consolidate", "Fold closely related memories together", &dryRun, &outputJSON, (*maintenance.Engine).Consolidate),
		maintenancePassCmd("decay", "Lower the importance of memories not accessed recently", &dryRun, &outputJSON, (*maintenance.Engine).Decay),
		optimizeCmd(&outputJSON),
	)
	return cmd
}

type passFunc func(*maintenance.Engine, context.Context, bool) (*maintenance.PassReport, error)

func maintenancePassCmd(name, short string, dryRun, outputJSON *bool, pass passFunc) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, "maintenance "+name)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := pass(a.maintenance(), ctx, *dryRun)
			if err != nil {
				return fmt.Errorf("maintenance %s: %w", name, err)
			}
			if *outputJSON {
				return printJSON(rep)
			}
			printPassReport(rep)
			return nil
		},
	}
}

func optimizeCmd(outputJSON *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Compact the database file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, "maintenance optimize")
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.maintenance().Optimize(ctx)
			if err != nil {
				return fmt.Errorf("maintenance optimize: %w", err)
			}
			if *outputJSON {
				return printJSON(rep)
			}
			fmt.Printf("Optimize: %d pages -> %d pages (%d bytes each) in %s\n",
				rep.PagesBefore, rep.PagesAfter, rep.PageSize, rep.Duration.Round(time.Millisecond))
			return nil
		},
	}
}

func printMaintenanceReport(rep *maintenance.Report) {
	for _, p := range []*maintenance.PassReport{rep.Duplicates, rep.Consolidation, rep.Decay} {
		if p != nil {
			printPassReport(p)
		}
	}
	if o := rep.Optimize; o != nil {
		fmt.Printf("optimize: %d pages -> %d pages\n", o.PagesBefore, o.PagesAfter)
	}
	for _, e := range rep.Errors {
		fmt.Printf("error: %s\n", e)
	}
	if rep.Stopped {
		fmt.Println("stopped early")
	}
	fmt.Printf("Done in %s\n", rep.Duration.Round(time.Millisecond))
}

func printPassReport(p *maintenance.PassReport) {
	fmt.Printf("%s: examined %d, changed %d", p.Pass, p.Examined, p.Changed)
	if p.Groups > 0 {
		fmt.Printf(", %d groups, %d merged", p.Groups, p.Merged)
	}
	if p.DryRun {
		fmt.Print(" (dry run, nothing applied)")
	}
	fmt.Println()
	for _, s := range p.Skipped {
		fmt.Printf("  skipped %s: %s\n", s.ID, s.Reason)
	}
}
