package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/openclaw-brain/internal/maintenance"
	"github.com/ajitpratap0/openclaw-brain/internal/notify"
	"github.com/ajitpratap0/openclaw-brain/internal/schedule"
	"github.com/ajitpratap0/openclaw-brain/internal/syncer"
)

func daemonCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run sync, maintenance, backups and the graph mirror on a schedule",
		Long: `Runs the periodic jobs until interrupted:
  sync         every sync.interval (only when a remote is configured)
  maintenance  every maintenance.interval
  backup       every store.backup_interval
  graph        every maintenance.interval (only when graph.uri is set)

A summary of every run is sent to Telegram when notify.telegram_token and
notify.chat_id are set. With --once every enabled job runs a single time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, "daemon")
			if err != nil {
				return err
			}
			defer a.Close()

			notifier, err := newNotifier(a)
			if err != nil {
				return fmt.Errorf("daemon: %w", err)
			}

			jobs := daemonJobs(a)
			sched := schedule.New(notifier, a.logger, jobs...)
			if once {
				for _, j := range jobs {
					if j.Interval > 0 {
						sched.RunOnce(ctx, j)
					}
				}
				return nil
			}
			a.logger.Info("daemon starting", "jobs", len(jobs), "remote", a.sync != nil)
			return sched.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run every enabled job once and exit")
	return cmd
}

func newNotifier(a *app) (notify.Notifier, error) {
	if cfg.Notify.TelegramToken == "" || cfg.Notify.ChatID == 0 {
		return notify.Nop{}, nil
	}
	return notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.ChatID, cfg.Notify.APIURL, a.logger)
}

func daemonJobs(a *app) []schedule.Job {
	var jobs []schedule.Job
	if a.sync != nil {
		jobs = append(jobs, schedule.Job{
			Name:       "sync",
			Interval:   cfg.Sync.Interval,
			RunAtStart: true,
			Fn: func(ctx context.Context) (string, error) {
				rep, err := a.sync.Sync(ctx, syncer.DirectionBoth)
				if err != nil {
					return "", err
				}
				return syncSummary(rep), nil
			},
		})
	}
	jobs = append(jobs,
		schedule.Job{
			Name:     "maintenance",
			Interval: cfg.Maintenance.Interval,
			Fn: func(ctx context.Context) (string, error) {
				rep, err := a.maintenance().Run(ctx, false)
				if err != nil {
					return "", err
				}
				s := fmt.Sprintf("%d duplicates merged, %d consolidated, %d decayed",
					changed(rep.Duplicates), changed(rep.Consolidation), changed(rep.Decay))
				if len(rep.Errors) > 0 {
					s += fmt.Sprintf(", %d errors", len(rep.Errors))
				}
				return s, nil
			},
		},
		schedule.Job{
			Name:     "backup",
			Interval: cfg.Store.BackupInterval,
			Fn: func(ctx context.Context) (string, error) {
				rep, err := a.store.Backup(ctx, cfg.Store.BackupDir, cfg.Store.BackupKeep)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("%s (%d bytes, %d removed)", rep.Path, rep.SizeBytes, len(rep.Removed)), nil
			},
		},
	)
	if cfg.Graph.URI != "" {
		jobs = append(jobs, schedule.Job{
			Name:     "graph",
			Interval: cfg.Maintenance.Interval,
			Fn: func(ctx context.Context) (string, error) {
				rep, err := mirrorGraph(ctx, a)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("%d memories, %d links, %d entities in %s",
					rep.Memories, rep.Links, rep.Entities, rep.Duration.Round(time.Millisecond)), nil
			},
		})
	}
	return jobs
}

func syncSummary(rep *syncer.Report) string {
	s := ""
	if p := rep.Push; p != nil {
		s += fmt.Sprintf("pushed %d new, %d updated", p.Created, p.Updated)
		if p.Conflicts > 0 || p.Failed > 0 {
			s += fmt.Sprintf(" (%d conflicts, %d failed)", p.Conflicts, p.Failed)
		}
	}
	if p := rep.Pull; p != nil {
		if s != "" {
			s += "; "
		}
		s += fmt.Sprintf("pulled %d new, %d updated", p.Created, p.Updated)
		if p.Conflicts > 0 {
			s += fmt.Sprintf(" (%d conflicts)", p.Conflicts)
		}
	}
	return s
}

func changed(p *maintenance.PassReport) int {
	if p == nil {
		return 0
	}
	return p.Changed
}
