package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/allaboutduncan/comic-utils-sub000/internal/batch"
	"github.com/allaboutduncan/comic-utils-sub000/internal/events"
	"github.com/allaboutduncan/comic-utils-sub000/internal/notify"
	"github.com/allaboutduncan/comic-utils-sub000/internal/progress"
)

// newMoveCmd creates the 'move' command.
func newMoveCmd() *cobra.Command {
	var targetDir string
	var perItem bool

	cmd := &cobra.Command{
		Use:   "move <source> [source...] --target <dir>",
		Short: "Move files and directories on the library server",
		Long: `Move one or more library paths into a target directory, with live
progress. Sources are server-side paths; a trailing slash marks a
directory (moved with a streamed progress channel), anything else is
moved as a single file.

Items run strictly in order. A failed file is reported and skipped; a
failed directory stops the batch.

Examples:
  # Move two issues
  comic-utils move "/library/a.cbz" "/library/b.cbz" --target /library/done

  # Move a whole series directory (note the trailing slash)
  comic-utils move "/library/Series X/" --target /library/archive

  # One progress bar per item
  comic-utils move "/library/Series X/" "/library/a.cbz" --target /done --per-item`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := newAPIClient()
			if err != nil {
				return err
			}
			log := GetLogger()

			items := make([]*batch.TransferItem, 0, len(args))
			for _, src := range args {
				if strings.HasSuffix(src, "/") {
					items = append(items, batch.NewDirectoryItem(strings.TrimSuffix(src, "/")))
				} else {
					items = append(items, batch.NewFileItem(src))
				}
			}

			bus := events.NewBus(0)
			defer bus.Close()

			var presenter batch.Presenter
			var console *progress.ConsolePresenter
			var multi *progress.BatchUI
			if perItem {
				multi = progress.NewBatchUI(bus)
				presenter = batch.NopPresenter{}
			} else {
				console = progress.NewConsolePresenter()
				presenter = console
			}

			orch := batch.New(client, cfg, bus, log, presenter, nil)
			res, err := orch.Submit(GetContext(), items, targetDir)
			if err != nil {
				return err
			}
			if console != nil {
				console.Finish()
			}
			if multi != nil {
				multi.Stop()
			}

			notifier := notify.NewNotifier(cfg.Notifications, log)
			switch res.Outcome {
			case batch.OutcomeCompleted:
				if res.Failed > 0 {
					notifier.BatchPartial(res.Moved, res.Failed)
					return fmt.Errorf("moved %d item(s), %d failed", res.Moved, res.Failed)
				}
				notifier.BatchCompleted(res.Moved, targetDir)
				return nil
			case batch.OutcomeAborted:
				notifier.BatchAborted(failedItem(items), res.Err.Error())
				return fmt.Errorf("batch aborted: %w", res.Err)
			default:
				notifier.BatchUnknown(res.Err.Error())
				return fmt.Errorf("batch outcome unknown: %w", res.Err)
			}
		},
	}

	cmd.Flags().StringVar(&targetDir, "target", "", "Destination directory on the library server (required)")
	cmd.Flags().BoolVar(&perItem, "per-item", false, "Show one progress bar per item instead of an aggregate bar")
	_ = cmd.MarkFlagRequired("target")

	return cmd
}

// failedItem returns the source path of the first failed item, if any.
func failedItem(items []*batch.TransferItem) string {
	for _, it := range items {
		if it.State() == batch.ItemFailed {
			return it.SourcePath
		}
	}
	return ""
}
