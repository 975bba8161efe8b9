package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/openclaw-brain/internal/memory"
	"github.com/ajitpratap0/openclaw-brain/internal/models"
)

func rememberCmd() *cobra.Command {
	var (
		title      string
		memType    string
		importance int
		tags       string
		visibility string
		analyze    bool
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "remember [content]",
		Short: "Store a new memory",
		Long: `Store a new memory. Memories with importance at or above sync.promotion_threshold
are queued for the team knowledge base. Visibility defaults from the tags
(public, admin/confidential) and otherwise sync.default_visibility.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, "remember")
			if err != nil {
				return err
			}
			defer a.Close()

			in := memory.CreateInput{
				Title:      title,
				Content:    args[0],
				Type:       models.MemoryType(memType),
				Tags:       splitTags(tags),
				Visibility: models.Visibility(visibility),
			}
			if in.Title == "" {
				in.Title = truncate(args[0], 60)
			}
			if cmd.Flags().Changed("importance") {
				in.Importance = &importance
			}

			m, err := a.memories.Create(ctx, in)
			if err != nil {
				return fmt.Errorf("remember: %w", err)
			}

			var rep any
			if analyze {
				ar, aerr := a.linker().Analyze(ctx, m.ID)
				if aerr != nil {
					a.logger.Warn("remember: entity analysis failed", "id", m.ID, "error", aerr)
				} else {
					rep = ar
				}
			}

			if outputJSON {
				return printJSON(map[string]any{"memory": m, "entities": rep})
			}
			fmt.Printf("Stored memory %s [%s, importance %d, %s, %s]\n",
				m.ID, m.Type, m.Importance, m.Visibility, m.SyncState)
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "short title (default: start of the content)")
	cmd.Flags().StringVar(&memType, "type", string(models.MemoryTypeMemory), "memory type ("+validTypesString()+")")
	cmd.Flags().IntVar(&importance, "importance", models.DefaultImportance, "importance 0-100")
	cmd.Flags().StringVar(&tags, "tags", "", "comma-separated tags")
	cmd.Flags().StringVar(&visibility, "visibility", "", "public|restricted|admin (default: derived from tags)")
	cmd.Flags().BoolVar(&analyze, "analyze", true, "extract and link entities after storing")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}

func updateCmd() *cobra.Command {
	var (
		title      string
		content    string
		memType    string
		importance int
		tags       string
		visibility string
	)

	cmd := &cobra.Command{
		Use:   "update <memory-id>",
		Short: "Update fields of an existing memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, "update")
			if err != nil {
				return err
			}
			defer a.Close()

			var in memory.UpdateInput
			flags := cmd.Flags()
			if flags.Changed("title") {
				in.Title = &title
			}
			if flags.Changed("content") {
				in.Content = &content
			}
			if flags.Changed("type") {
				mt := models.MemoryType(memType)
				in.Type = &mt
			}
			if flags.Changed("importance") {
				in.Importance = &importance
			}
			if flags.Changed("tags") {
				t := splitTags(tags)
				in.Tags = &t
			}
			if flags.Changed("visibility") {
				v := models.Visibility(visibility)
				in.Visibility = &v
			}

			m, err := a.memories.Update(ctx, args[0], in)
			if err != nil {
				return fmt.Errorf("update: %w", err)
			}
			fmt.Printf("Updated memory %s (version %d, %s)\n", m.ID, m.Version, m.SyncState)
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&content, "content", "", "new content")
	cmd.Flags().StringVar(&memType, "type", "", "new memory type")
	cmd.Flags().IntVar(&importance, "importance", 0, "new importance 0-100")
	cmd.Flags().StringVar(&tags, "tags", "", "replacement comma-separated tags")
	cmd.Flags().StringVar(&visibility, "visibility", "", "new visibility")
	return cmd
}

func validTypesString() string {
	types := make([]string, len(models.ValidMemoryTypes))
	for i, t := range models.ValidMemoryTypes {
		types[i] = string(t)
	}
	return strings.Join(types, "|")
}
