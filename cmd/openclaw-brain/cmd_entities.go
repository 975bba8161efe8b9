package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/openclaw-brain/internal/models"
)

func entitiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entities",
		Short: "Extract and inspect named entities linked to memories",
	}

	cmd.AddCommand(
		entitiesAnalyzeCmd(),
		entitiesLinkAllCmd(),
		entitiesListCmd(),
		entitiesAmbiguitiesCmd(),
	)
	return cmd
}

func entitiesAnalyzeCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "analyze [memory-id]",
		Short: "Extract entities from one memory and record them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, "entities analyze")
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.linker().Analyze(ctx, args[0])
			if err != nil {
				return fmt.Errorf("entities analyze: %w", err)
			}
			if outputJSON {
				return printJSON(rep)
			}
			for _, m := range rep.Mentions {
				fmt.Printf("  %-8s %s\n", m.Type, m.Name)
			}
			fmt.Printf("%d mentions, %d new entities, %d associations, %d ambiguous\n",
				len(rep.Mentions), rep.Created, rep.Associated, rep.Ambiguous)
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}

func entitiesLinkAllCmd() *cobra.Command {
	var (
		dryRun     bool
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "link-all",
		Short: "Analyze every memory and link memories that share entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, "entities link-all")
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.linker().LinkAll(ctx, dryRun)
			if err != nil {
				return fmt.Errorf("entities link-all: %w", err)
			}
			if outputJSON {
				return printJSON(rep)
			}
			fmt.Printf("Analyzed %d memories: %d new entities, %d associations, %d ambiguous, %d links\n",
				rep.Analyzed, rep.Created, rep.Associated, rep.Ambiguous, rep.LinksCreated)
			for id, reason := range rep.Skipped {
				fmt.Printf("  skipped %s: %s\n", id, reason)
			}
			if rep.DryRun {
				fmt.Println("(dry run, nothing applied)")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview changes without applying")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}

func entitiesListCmd() *cobra.Command {
	var (
		entityType string
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, "entities list")
			if err != nil {
				return err
			}
			defer a.Close()

			ents, err := a.linker().Entities(ctx, models.EntityType(entityType))
			if err != nil {
				return fmt.Errorf("entities list: %w", err)
			}
			if outputJSON {
				return printJSON(ents)
			}
			if len(ents) == 0 {
				fmt.Println("No entities found.")
				return nil
			}
			for i := range ents {
				e := &ents[i]
				fmt.Printf("%-8s %-30s %d memories", e.Type, e.Name, len(e.MemoryIDs))
				if len(e.Aliases) > 0 {
					fmt.Printf("  aka %s", strings.Join(e.Aliases, ", "))
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&entityType, "type", "", "filter by entity type")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}

func entitiesAmbiguitiesCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "ambiguities",
		Short: "List names that matched more than one entity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, "entities ambiguities")
			if err != nil {
				return err
			}
			defer a.Close()

			amb, err := a.linker().Ambiguities(ctx)
			if err != nil {
				return fmt.Errorf("entities ambiguities: %w", err)
			}
			if outputJSON {
				return printJSON(amb)
			}
			for i := range amb {
				x := &amb[i]
				fmt.Printf("%q in %s: chose %s from %s\n", x.Name, x.MemoryID, x.ChosenID, strings.Join(x.Candidates, ", "))
			}
			if len(amb) == 0 {
				fmt.Println("No ambiguities recorded.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}
