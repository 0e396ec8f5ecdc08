package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/allaboutduncan/comic-utils-sub000/internal/api"
	"github.com/allaboutduncan/comic-utils-sub000/internal/events"
	"github.com/allaboutduncan/comic-utils-sub000/internal/notify"
	"github.com/allaboutduncan/comic-utils-sub000/internal/progress"
	"github.com/allaboutduncan/comic-utils-sub000/internal/script"
)

// newRunCmd creates the 'run' command.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <script-type> <file-path>",
		Short: "Run a library script and follow its progress channel",
		Long: `Run a long-running library script against one archive and follow its
server-push channel until the completed event arrives.

Script types: ` + scriptTypeList() + `

Examples:
  # Rebuild a damaged archive
  comic-utils run rebuild "/library/Series X/issue-001.cbz"

  # Crop covers
  comic-utils run crop "/library/Series X/issue-001.cbz"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			scriptType := api.ScriptType(args[0])
			filePath := args[1]

			client, cfg, err := newAPIClient()
			if err != nil {
				return err
			}
			log := GetLogger()

			bus := events.NewBus(0)
			defer bus.Close()

			spinner := progress.NewScriptSpinner(fmt.Sprintf("Running %s on %s", scriptType, filePath))

			// Mirror channel status lines onto the spinner.
			statusCh := bus.Subscribe(events.EventScriptStatus)
			go func() {
				for ev := range statusCh {
					if se, ok := ev.(*events.ScriptEvent); ok {
						spinner.Update(se.Message)
					}
				}
			}()

			runner := script.NewRunner(client, cfg, bus, log)
			inv, err := runner.Start(GetContext(), scriptType, filePath)
			if err != nil {
				spinner.Fail(err)
				return err
			}

			notifier := notify.NewNotifier(cfg.Notifications, log)
			if err := inv.Wait(GetContext()); err != nil {
				spinner.Fail(err)
				notifier.ScriptFailed(string(scriptType), err.Error())
				return fmt.Errorf("%s failed: %w", scriptType, err)
			}

			spinner.Succeed(fmt.Sprintf("%s finished for %s", scriptType, filePath))
			notifier.ScriptFinished(string(scriptType), filePath)
			return nil
		},
	}

	return cmd
}

func scriptTypeList() string {
	s := ""
	for i, st := range api.KnownScriptTypes {
		if i > 0 {
			s += ", "
		}
		s += string(st)
	}
	return s
}
