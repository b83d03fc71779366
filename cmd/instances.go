package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newInstancesCmd groups the store-backed instance registry commands.
func newInstancesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "Manages the set of running instances",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Prints the instance ids workers are sweeping",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ids, err := appInstance.Env().Registry.RunningIDs(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "start ID...",
		Short: "Marks instances running",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			now := appInstance.Env().Clock.Now()
			for _, id := range args {
				if err := appInstance.Instances().Start(cmd.Context(), id, now); err != nil {
					return err
				}
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stop ID...",
		Short: "Removes instances from the running set",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := appInstance.Instances().Stop(cmd.Context(), id); err != nil {
					return err
				}
			}
			return nil
		},
	})
	return cmd
}
