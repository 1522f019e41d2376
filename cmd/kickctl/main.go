package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/danmuck/kickctl/internal/agent"
	"github.com/danmuck/kickctl/internal/config"
	"github.com/danmuck/kickctl/internal/logging"
	"github.com/danmuck/kickctl/internal/reconcile"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "kickctl",
	Short:         "Mirror tracker kicking proposals as block producer approvals",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.ConfigureRuntime()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reconciliation agent until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()
		return svc.Run(cmd.Context())
	},
}

var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "Print the authorities the monitored permission delegates to",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()
		auths, err := svc.Permissions(cmd.Context())
		if err != nil {
			return err
		}
		if len(auths) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no delegated authorities; proposals will not be created")
			return nil
		}
		for _, a := range auths {
			fmt.Fprintln(cmd.OutOrStdout(), a.String())
		}
		return nil
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Decide what the next tick would do without submitting anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()
		plan, err := svc.Plan(cmd.Context())
		if err != nil {
			return err
		}
		return printPlan(cmd, plan)
	},
}

func newService() (*agent.Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return agent.NewService(cfg, version)
}

func printPlan(cmd *cobra.Command, plan reconcile.Plan) error {
	out := map[string]any{"kind": plan.Kind}
	if plan.Target.ProposalName != "" {
		out["target"] = plan.Target.ProposalName
	}
	if len(plan.Cancels) > 0 {
		out["cancels"] = plan.Cancels
	}
	if plan.Reason != reconcile.ReasonNone {
		out["reason"] = plan.Reason
		out["remind"] = plan.Remind
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a .toml or .yaml config file (env overrides apply)")
	rootCmd.AddCommand(runCmd, permissionsCmd, planCmd, configCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "kickctl: %v\n", err)
		os.Exit(1)
	}
}
