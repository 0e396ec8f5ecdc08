package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/allaboutduncan/comic-utils-sub000/internal/events"
	"github.com/allaboutduncan/comic-utils-sub000/internal/thumbs"
)

// newThumbsCmd creates the 'thumbs' command.
func newThumbsCmd() *cobra.Command {
	var maxAttempts int

	cmd := &cobra.Command{
		Use:   "thumbs <url> [url...]",
		Short: "Wait for thumbnails to finish generating",
		Long: `Poll one or more thumbnail URLs until the server stops resolving them
to a placeholder. Probes are cache-busted and run on a bounded worker
pool (CLU_THUMB_WORKERS).

Examples:
  # Wait for one cover
  comic-utils thumbs http://library:5577/thumbs/series-x/001.png

  # Give up after 30 probes each
  comic-utils thumbs --max-attempts 30 http://library:5577/thumbs/a.png http://library:5577/thumbs/b.png`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if maxAttempts > 0 {
				cfg.ThumbMaxAttempts = maxAttempts
			}
			log := GetLogger()

			bus := events.NewBus(0)
			defer bus.Close()

			poller := thumbs.NewPoller(cfg, bus, log)
			probes := make([]*thumbs.Probe, 0, len(args))
			for _, u := range args {
				probes = append(probes, poller.Watch(GetContext(), u, nil))
			}

			failed := 0
			for _, pr := range probes {
				<-pr.Done()
				switch pr.State() {
				case thumbs.StateReady:
					fmt.Printf("ready   %s (%d probe(s))\n", pr.URL, pr.Attempts())
				case thumbs.StateFailed:
					failed++
					fmt.Printf("failed  %s: %v\n", pr.URL, pr.Err())
				default:
					failed++
					fmt.Printf("pending %s (abandoned)\n", pr.URL)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d thumbnail(s) not ready", failed, len(probes))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Give up on a thumbnail after this many probes (0 = no limit)")

	return cmd
}
