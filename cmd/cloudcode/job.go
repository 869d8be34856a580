package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/cloudcode/internal/domain"
	cloudgrpc "github.com/oriys/cloudcode/internal/grpc"
	"github.com/oriys/cloudcode/internal/jobs"
	"github.com/oriys/cloudcode/internal/logging"
)

func jobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Run and inspect batch jobs",
	}
	cmd.AddCommand(jobRunCmd(), jobTriggerCmd(), jobStatusCmd())
	return cmd
}

func jobRunCmd() *cobra.Command {
	var (
		paramsJSON string
		pairs      []string
		remote     string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run [job]",
		Short: "Run a job and wait for it to finish",
		Long:  "Run a job in this process and wait, or start it on a running server with --remote",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := jobs.UserMigrationName
			if len(args) == 1 {
				name = args[0]
			}
			params, err := parseParams(paramsJSON, pairs)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if remote != "" {
				conn, err := dialRemote(remote)
				if err != nil {
					return err
				}
				defer conn.Close()
				id, err := cloudgrpc.NewClient(conn).StartJob(ctx, name, params)
				if err != nil {
					return err
				}
				return printJSON(map[string]string{"jobStatusId": id})
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logging.InitStructured(cfg.Daemon.LogFormat, cfg.Daemon.LogLevel)

			a, err := newApp(ctx, cfg, appOptions{withStorage: true})
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.jobs.Run(ctx, name, params)
			if err != nil {
				return err
			}
			if err := printJSON(st); err != nil {
				return err
			}
			if st.State != domain.JobSucceeded {
				return fmt.Errorf("job %s %s", name, st.State)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&paramsJSON, "params", "", "Parameters as a JSON object")
	cmd.Flags().StringArrayVarP(&pairs, "param", "p", nil, "Parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&remote, "remote", "", "gRPC address of a running server")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Hour, "Run timeout")

	return cmd
}

func jobTriggerCmd() *cobra.Command {
	var (
		paramsJSON string
		pairs      []string
	)

	cmd := &cobra.Command{
		Use:   "trigger <job>",
		Short: "Ask the platform to start a job",
		Long:  "Trigger a job through the platform's /jobs endpoint with master privilege",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(paramsJSON, pairs)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logging.InitStructured(cfg.Daemon.LogFormat, cfg.Daemon.LogLevel)

			a, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.client.TriggerJob(cmd.Context(), args[0], params, domain.PrivilegeMaster)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&paramsJSON, "params", "", "Parameters as a JSON object")
	cmd.Flags().StringArrayVarP(&pairs, "param", "p", nil, "Parameter as key=value (repeatable)")

	return cmd
}

func jobStatusCmd() *cobra.Command {
	var remote string

	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the status of a job run on a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dialRemote(remote)
			if err != nil {
				return err
			}
			defer conn.Close()
			st, err := cloudgrpc.NewClient(conn).GetJobRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(st)
		},
	}

	cmd.Flags().StringVar(&remote, "remote", "127.0.0.1:9090", "gRPC address of a running server")

	return cmd
}
