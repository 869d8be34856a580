package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	cloudgrpc "github.com/oriys/cloudcode/internal/grpc"
	"github.com/oriys/cloudcode/internal/logging"
)

func invokeCmd() *cobra.Command {
	var (
		paramsJSON string
		pairs      []string
		remote     string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "invoke <function>",
		Short: "Invoke a function",
		Long:  "Invoke a function locally, or on a running server with --remote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
				out, err := cloudgrpc.NewClient(conn).Invoke(ctx, args[0], params)
				if err != nil {
					return err
				}
				return printJSON(out)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logging.InitStructured(cfg.Daemon.LogFormat, cfg.Daemon.LogLevel)

			a, err := newApp(ctx, cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.gateway.Invoke(ctx, args[0], params)
			if err := printJSON(res); err != nil {
				return err
			}
			if err := res.Err(); err != nil {
				return fmt.Errorf("%s failed", args[0])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&paramsJSON, "params", "", "Parameters as a JSON object")
	cmd.Flags().StringArrayVarP(&pairs, "param", "p", nil, "Parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&remote, "remote", "", "gRPC address of a running server")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "Invocation timeout")

	return cmd
}

func dialRemote(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}
