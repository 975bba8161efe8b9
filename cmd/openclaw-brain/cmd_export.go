package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/openclaw-brain/internal/models"
	"github.com/ajitpratap0/openclaw-brain/internal/store"
)

// exportRecord is the portable form of one memory with its outgoing links.
type exportRecord struct {
	ID         string       `json:"id" yaml:"id"`
	Title      string       `json:"title" yaml:"title"`
	Content    string       `json:"content" yaml:"content"`
	Type       string       `json:"type" yaml:"type"`
	Importance int          `json:"importance" yaml:"importance"`
	Tags       []string     `json:"tags,omitempty" yaml:"tags,omitempty"`
	Visibility string       `json:"visibility" yaml:"visibility"`
	SyncState  string       `json:"sync_state" yaml:"sync_state"`
	RemoteID   string       `json:"remote_id,omitempty" yaml:"remote_id,omitempty"`
	CreatedAt  string       `json:"created_at" yaml:"created_at"`
	UpdatedAt  string       `json:"updated_at" yaml:"updated_at"`
	Forgotten  bool         `json:"forgotten,omitempty" yaml:"forgotten,omitempty"`
	Links      []exportLink `json:"links,omitempty" yaml:"links,omitempty"`
}

type exportLink struct {
	To       string `json:"to" yaml:"to"`
	Relation string `json:"relation" yaml:"relation"`
}

func exportCmd() *cobra.Command {
	var (
		format            string
		output            string
		includeTombstoned bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all memories and their links to JSON or YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if format != "json" && format != "yaml" {
				return fmt.Errorf("export: unsupported format %q (use json or yaml)", format)
			}

			a, err := openApp(ctx, "export")
			if err != nil {
				return err
			}
			defer a.Close()

			mems, err := a.store.ListMemories(ctx, store.ListFilter{IncludeTombstoned: includeTombstoned})
			if err != nil {
				return fmt.Errorf("export: listing memories: %w", err)
			}

			links, err := a.store.ListLinks(ctx, "")
			if err != nil {
				return fmt.Errorf("export: listing links: %w", err)
			}
			outgoing := make(map[string][]models.Link)
			for _, l := range links {
				outgoing[l.FromID] = append(outgoing[l.FromID], l)
			}

			all := make([]exportRecord, 0, len(mems))
			for i := range mems {
				all = append(all, toExportRecord(&mems[i], outgoing[mems[i].ID]))
			}

			var w io.Writer = os.Stdout
			if output != "" && output != "-" {
				f, createErr := os.Create(output)
				if createErr != nil {
					return fmt.Errorf("export: creating output file: %w", createErr)
				}
				defer func() { _ = f.Close() }()
				w = f
			}

			if err := encodeExport(w, format, all); err != nil {
				return fmt.Errorf("export: %w", err)
			}

			if output != "" && output != "-" {
				fmt.Fprintf(os.Stderr, "Exported %d memories to %s\n", len(all), output)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "output format: json or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file path (- for stdout)")
	cmd.Flags().BoolVar(&includeTombstoned, "include-forgotten", false, "include forgotten memories")
	return cmd
}

func toExportRecord(m *models.Memory, links []models.Link) exportRecord {
	rec := exportRecord{
		ID:         m.ID,
		Title:      m.Title,
		Content:    m.Content,
		Type:       string(m.Type),
		Importance: m.Importance,
		Tags:       m.Tags,
		Visibility: string(m.Visibility),
		SyncState:  string(m.SyncState),
		RemoteID:   m.RemoteID,
		CreatedAt:  m.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  m.UpdatedAt.UTC().Format(time.RFC3339),
		Forgotten:  m.Tombstoned(),
	}
	for _, l := range links {
		rec.Links = append(rec.Links, exportLink{To: l.ToID, Relation: string(l.RelationType)})
	}
	return rec
}

func encodeExport(w io.Writer, format string, all []exportRecord) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(all); err != nil {
			return fmt.Errorf("encoding YAML: %w", err)
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(all); err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	return nil
}
