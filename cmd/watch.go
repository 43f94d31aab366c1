package cmd

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/cottand/atoll/internal/log"
)

var WatchCmd = &cobra.Command{
	Use:          "watch ./folder|program.json",
	Short:        "Re-verify an exported program whenever it changes",
	RunE:         runWatch,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
}

var watchLogLevel *int

func init() {
	watchLogLevel = WatchCmd.Flags().IntP("log-level", "l", int(slog.LevelError), "log level")

	// watch reuses check's verification flags
	WatchCmd.Flags().AddFlag(CheckCmd.Flags().Lookup("jobs"))
	WatchCmd.Flags().AddFlag(CheckCmd.Flags().Lookup("check-overflow"))
}

func runWatch(cmd *cobra.Command, args []string) error {
	log.SetLevel(slog.Level(*watchLogLevel))

	dir, err := targetDir(args[0])
	if err != nil {
		return fmt.Errorf("could not stat target: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("could not start watching: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("could not watch %s: %w", dir, err)
	}

	checkAndReport := func() {
		prog, err := loadTarget(args[0])
		if err != nil {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), err)
			return
		}
		// verdicts are the point here, a failing run must not stop the watch
		_ = checkOnce(cmd, prog)
	}

	checkAndReport()

	// editors fire several events per save, settle before re-checking
	var settle *time.Timer
	pending := make(chan struct{}, 1)
	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
				continue
			}
			if settle != nil {
				settle.Stop()
			}
			settle = time.AfterFunc(100*time.Millisecond, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
		case <-pending:
			checkAndReport()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "watch error: %v\n", err)
		}
	}
}
