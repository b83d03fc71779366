package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-pipeline/internal/config"
	"github.com/JakeFAU/crawl-pipeline/internal/handlers/fetch"
	"github.com/JakeFAU/crawl-pipeline/internal/task"
)

// newEnqueueCmd creates the 'enqueue' subcommand, which pushes one task per URL.
func newEnqueueCmd() *cobra.Command {
	var (
		instanceID string
		funcName   string
		rate       int
		start      bool
	)

	cmd := &cobra.Command{
		Use:   "enqueue URL...",
		Short: "Pushes tasks onto an instance's pending pool",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if instanceID == "" {
				return fmt.Errorf("--instance is required")
			}
			ctx := cmd.Context()
			env := appInstance.Env()

			for _, url := range args {
				t := task.New(instanceID, funcName, url, rate)
				if err := env.Pending.Push(ctx, t); err != nil {
					return fmt.Errorf("enqueue %s: %w", url, err)
				}
				appInstance.Logger().Info("task enqueued",
					zap.String("instance_id", instanceID),
					zap.String("task_id", t.ID),
					zap.String("url", url),
				)
			}

			if start && appInstance.Config().Registry.Backend == config.RegistryStore {
				if err := appInstance.Instances().Start(ctx, instanceID, env.Clock.Now()); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d task(s) for %s\n", len(args), instanceID)
			return nil
		},
	}
	cmd.Flags().StringVar(&instanceID, "instance", "", "instance id the tasks belong to")
	cmd.Flags().StringVar(&funcName, "func", fetch.FuncName, "handler name the tasks dispatch to")
	cmd.Flags().IntVar(&rate, "rate", 0, "per-second rate limit for the instance (0 disables)")
	cmd.Flags().BoolVar(&start, "start", true, "mark the instance running in the store registry")
	return cmd
}
