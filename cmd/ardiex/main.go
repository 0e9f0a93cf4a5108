package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ardiex/ardiex/internal/config"
	"github.com/ardiex/ardiex/internal/engine"
	"github.com/ardiex/ardiex/internal/layout"
	"github.com/ardiex/ardiex/internal/metastore"
	"github.com/ardiex/ardiex/internal/restoreengine"
	"github.com/ardiex/ardiex/internal/supervisor"
	"github.com/ardiex/ardiex/internal/validate"
)

func main() {
	checkUpdateSkip()

	root := &cobra.Command{
		Use:   "ardiex",
		Short: "Incremental backup engine",
	}
	root.AddCommand(newConfigCmd())
	root.AddCommand(newBackupCmd())
	root.AddCommand(newRestoreCmd())
	root.AddCommand(newRunCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ardiex: %v\n", err)
		os.Exit(1)
	}
}

// checkUpdateSkip reads ARDIEX_SKIP_UPDATE_CHECK. There is no self-update
// mechanism to skip; this only logs whether the variable was set so it is
// visible in startup logs ahead of one being added.
func checkUpdateSkip() {
	if v := os.Getenv("ARDIEX_SKIP_UPDATE_CHECK"); v != "" {
		log.Printf("[STARTUP] ARDIEX_SKIP_UPDATE_CHECK=%s (no-op)", v)
		return
	}
	log.Printf("[STARTUP] ARDIEX_SKIP_UPDATE_CHECK not set (no-op)")
}

func settingsManager() (*config.Manager, error) {
	path, err := config.SettingsPath()
	if err != nil {
		return nil, err
	}
	return config.LoadOrCreate(path)
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit settings.json",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create settings.json with defaults if it does not already exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := settingsManager()
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := settingsManager()
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(mgr.Get(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add-source <abs>",
		Args:  cobra.ExactArgs(1),
		Short: "Register a new source directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := settingsManager()
			if err != nil {
				return err
			}
			return mgr.AddSource(args[0], nil)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove-source <abs>",
		Args:  cobra.ExactArgs(1),
		Short: "Unregister a source directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := settingsManager()
			if err != nil {
				return err
			}
			return mgr.RemoveSource(args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add-backup <src> <abs>",
		Args:  cobra.ExactArgs(2),
		Short: "Add a backup destination to a source",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := settingsManager()
			if err != nil {
				return err
			}
			return mgr.AddBackupDir(args[0], args[1])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove-backup <src> <abs>",
		Args:  cobra.ExactArgs(2),
		Short: "Remove a backup destination from a source",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := settingsManager()
			if err != nil {
				return err
			}
			return mgr.RemoveBackupDir(args[0], args[1])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Args:  cobra.ExactArgs(2),
		Short: "Set a global setting",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := settingsManager()
			if err != nil {
				return err
			}
			return mgr.Set(args[0], args[1])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set-source <src> <key> <value|reset>",
		Args:  cobra.ExactArgs(3),
		Short: "Set or reset a per-source override",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := settingsManager()
			if err != nil {
				return err
			}
			return mgr.SetSource(args[0], args[1], args[2])
		},
	})

	return cmd
}

func newBackupCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Run a single synchronous backup round",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := settingsManager()
			if err != nil {
				return err
			}
			cfg := mgr.Get()
			store := metastore.New()

			result, err := validate.All(cfg, store)
			if err != nil {
				return err
			}

			e := engine.New(store)
			for dest, forced := range result.ForceFull {
				if forced {
					e.ForceFull(dest)
				}
			}

			var results []engine.BackupResult
			if target != "" {
				var src *config.SourceConfig
				for i := range cfg.Sources {
					if cfg.Sources[i].SourceDir == target {
						src = &cfg.Sources[i]
						break
					}
				}
				if src == nil {
					return fmt.Errorf("unknown source: %s", target)
				}
				results = e.BackupSource(context.Background(), cfg, *src)
			} else {
				results = e.BackupAllSources(context.Background(), cfg)
			}

			failed := false
			for _, r := range results {
				if r.Err != nil {
					failed = true
					fmt.Fprintf(os.Stderr, "ardiex: %s -> %s: %v\n", r.SourceDir, r.Destination, r.Err)
					continue
				}
				fmt.Printf("%s round for %s -> %s: %d files, %s, %s\n",
					r.BackupType, r.SourceDir, r.Destination, r.FilesCount, humanize.Bytes(uint64(r.Bytes)), r.Duration)
			}
			if failed {
				return fmt.Errorf("one or more backup rounds failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "Only back up this source directory")
	return cmd
}

func newRestoreCmd() *cobra.Command {
	var list bool
	var point string
	cmd := &cobra.Command{
		Use:   "restore <backup_dir> <target_dir>",
		Short: "Restore a source from a backup destination",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			backupDir := args[0]

			if list {
				entries, err := restoreengine.ListBackups(backupDir)
				if err != nil {
					return err
				}
				for _, e := range entries {
					kind := "inc"
					if e.IsFull {
						kind = "full"
					}
					fmt.Printf("%s\t%s\t%s\n", e.Name, kind, e.Timestamp.Format(time.RFC3339))
				}
				return nil
			}

			if len(args) != 2 {
				return fmt.Errorf("restore requires <backup_dir> <target_dir>")
			}
			targetDir := args[1]

			var pointEntry layout.Entry
			hasPoint := false
			if point != "" {
				t, err := time.ParseInLocation(time.RFC3339, point, time.Local)
				if err != nil {
					return fmt.Errorf("invalid --point timestamp: %w", err)
				}
				pointEntry = layout.Entry{Timestamp: t}
				hasPoint = true
			}

			store := metastore.New()
			n, err := restoreengine.RestoreToPoint(store, backupDir, targetDir, pointEntry, hasPoint)
			if err != nil {
				return err
			}
			fmt.Printf("restored %d files to %s\n", n, targetDir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "List available backups instead of restoring")
	cmd.Flags().StringVar(&point, "point", "", "Restore to the state as of this RFC3339 timestamp")
	return cmd
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler and file watcher until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := settingsManager()
			if err != nil {
				return err
			}
			store := metastore.New()
			sup, err := supervisor.New(mgr, store)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigChan
				cancel()
			}()

			return sup.Run(ctx)
		},
	}
}
