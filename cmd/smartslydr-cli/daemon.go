package main

import (
	"context"
	"fmt"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
)

func dial(ctx context.Context) (*grpc.ClientConn, error) {
	addr := grpcAddr()
	conn, err := grpcurl.BlockingDial(ctx, "tcp", addr, insecure.NewCredentials())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [service...]",
		Short: "Show daemon health (overall and smartslydr by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			conn, err := dial(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			services := args
			if len(services) == 0 {
				services = []string{"", "smartslydr"}
			}
			client := healthpb.NewHealthClient(conn)
			rows := [][]string{{"SERVICE", "STATUS"}}
			for _, svc := range services {
				resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: svc})
				if err != nil {
					return fmt.Errorf("health %q: %w", svc, err)
				}
				if rootJSON {
					data, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(resp)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "{\"service\":%q,\"response\":%s}\n", svc, data)
					continue
				}
				label := svc
				if label == "" {
					label = "(overall)"
				}
				rows = append(rows, []string{label, resp.GetStatus().String()})
			}
			if rootJSON {
				return nil
			}
			return printTable(cmd.OutOrStdout(), rows)
		},
	}
}

func newServicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List gRPC services exposed by the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			conn, err := dial(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			client := grpcreflect.NewClientAuto(ctx, conn)
			defer client.Reset()
			services, err := grpcurl.ListServices(grpcurl.DescriptorSourceFromServer(ctx, client))
			if err != nil {
				return fmt.Errorf("list services: %w", err)
			}
			if rootJSON {
				return printJSON(cmd.OutOrStdout(), services)
			}
			for _, svc := range services {
				fmt.Fprintln(cmd.OutOrStdout(), svc)
			}
			return nil
		},
	}
}
