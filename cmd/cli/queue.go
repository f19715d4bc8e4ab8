package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	brokerapi "ftmsg/api/brokerapi"
	"ftmsg/pkg/broker"
	"ftmsg/storage"
)

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue operations",
		Long:  "Provision, inspect and administer broker queues",
	}

	cmd.AddCommand(queueProvisionCmd())
	cmd.AddCommand(queuePublishCmd())
	cmd.AddCommand(queueBrowseCmd())
	cmd.AddCommand(queueListCmd())
	cmd.AddCommand(queueStatusCmd())
	cmd.AddCommand(queuePurgeCmd())
	cmd.AddCommand(queueDeleteCmd())
	cmd.AddCommand(queueEgressCmd())

	return cmd
}

func queueProvisionCmd() *cobra.Command {
	var (
		access     string
		quota      int64
		permission string
	)

	cmd := &cobra.Command{
		Use:   "provision <queue>",
		Short: "Create a queue if it does not exist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBroker(func(ctx context.Context, c brokerapi.BrokerServiceClient) error {
				_, err := c.Provision(ctx, &brokerapi.ProvisionRequest{
					Queue:        args[0],
					AccessType:   access,
					Quota:        quota,
					Permission:   permission,
					IgnoreExists: true,
				})
				if err != nil {
					return err
				}
				fmt.Printf("Queue %s provisioned\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&access, "access", string(storage.AccessExclusive), "Access type (exclusive or non-exclusive)")
	cmd.Flags().Int64Var(&quota, "quota", storage.QuotaUnlimited, "Maximum depth (0 = last value, -1 = unlimited)")
	cmd.Flags().StringVar(&permission, "permission", string(storage.PermissionDelete), "Permission granted to other clients")

	return cmd
}

func queuePublishCmd() *cobra.Command {
	var direct bool

	cmd := &cobra.Command{
		Use:   "publish <queue> <message>",
		Short: "Publish a message to a queue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := storage.DeliveryPersistent
			if direct {
				mode = storage.DeliveryDirect
			}
			return withBroker(func(ctx context.Context, c brokerapi.BrokerServiceClient) error {
				_, err := c.Publish(ctx, &brokerapi.PublishRequest{
					Kind:         string(broker.KindQueue),
					Destination:  args[0],
					Payload:      []byte(args[1]),
					DeliveryMode: string(mode),
				})
				if err != nil {
					return err
				}
				fmt.Println("Published")
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&direct, "direct", false, "Publish with direct delivery mode")

	return cmd
}

func queueBrowseCmd() *cobra.Command {
	var waitMillis int64

	cmd := &cobra.Command{
		Use:   "browse <queue>",
		Short: "Show the oldest message without consuming it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBroker(func(ctx context.Context, c brokerapi.BrokerServiceClient) error {
				resp, err := c.Browse(ctx, &brokerapi.BrowseRequest{Queue: args[0], WaitMillis: waitMillis})
				if err != nil {
					return err
				}
				if !resp.Found {
					fmt.Println("Queue is empty")
					return nil
				}
				printMessage(resp.Message)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&waitMillis, "wait", 1000, "Milliseconds to wait for a message")

	return cmd
}

func queueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all queues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBroker(func(ctx context.Context, c brokerapi.BrokerServiceClient) error {
				resp, err := c.ListQueues(ctx, &brokerapi.Empty{})
				if err != nil {
					return err
				}
				if len(resp.Queues) == 0 {
					fmt.Println("No queues found")
					return nil
				}
				fmt.Printf("Queues (%d):\n", len(resp.Queues))
				for _, q := range resp.Queues {
					fmt.Printf("  %s\n", q)
				}
				return nil
			})
		},
	}
}

func queueStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <queue>",
		Short: "Show queue endpoint, statistics and flows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBroker(func(ctx context.Context, c brokerapi.BrokerServiceClient) error {
				st, err := c.QueueStatus(ctx, &brokerapi.QueueRequest{Queue: args[0]})
				if err != nil {
					return err
				}
				fmt.Printf("Queue: %s\n", st.Queue)
				fmt.Printf("  Access:      %s\n", st.AccessType)
				fmt.Printf("  Quota:       %s\n", formatQuota(st.Quota))
				fmt.Printf("  Permission:  %s\n", st.Permission)
				fmt.Printf("  Size:        %d\n", st.Size)
				fmt.Printf("  Pending:     %d\n", st.Pending)
				fmt.Printf("  Processed:   %d\n", st.Processed)
				fmt.Printf("  Dropped:     %d\n", st.Dropped)
				fmt.Printf("  Flows:       %d\n", st.Flows)
				fmt.Printf("  Active flow: %s\n", st.ActiveFlow)
				fmt.Printf("  Egress:      %t\n", st.Egress)
				return nil
			})
		},
	}
}

func queuePurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge <queue>",
		Short: "Remove all spooled messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBroker(func(ctx context.Context, c brokerapi.BrokerServiceClient) error {
				resp, err := c.PurgeQueue(ctx, &brokerapi.QueueRequest{Queue: args[0]})
				if err != nil {
					return err
				}
				fmt.Printf("Purged %d messages\n", resp.Purged)
				return nil
			})
		},
	}
}

func queueDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <queue>",
		Short: "Delete a queue; bound flows go down",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBroker(func(ctx context.Context, c brokerapi.BrokerServiceClient) error {
				if _, err := c.DeleteQueue(ctx, &brokerapi.QueueRequest{Queue: args[0]}); err != nil {
					return err
				}
				fmt.Printf("Queue %s deleted\n", args[0])
				return nil
			})
		},
	}
}

func queueEgressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "egress <queue> <on|off>",
		Short: "Enable or disable delivery out of a queue",
		Long:  "Disabling egress deactivates the active flow, forcing the active member to backup",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var enabled bool
			switch args[1] {
			case "on", "true", "enable":
				enabled = true
			case "off", "false", "disable":
			default:
				return fmt.Errorf("egress must be on or off, got %q", args[1])
			}
			return withBroker(func(ctx context.Context, c brokerapi.BrokerServiceClient) error {
				if _, err := c.SetEgress(ctx, &brokerapi.EgressRequest{Queue: args[0], Enabled: enabled}); err != nil {
					return err
				}
				fmt.Printf("Egress on %s set to %t\n", args[0], enabled)
				return nil
			})
		},
	}
}

func printMessage(m *brokerapi.Message) {
	fmt.Printf("ID:          %s\n", m.ID)
	fmt.Printf("Destination: %s\n", m.Destination)
	fmt.Printf("Published:   %s\n", m.PublishedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Redelivered: %t\n", m.Redelivered)
	fmt.Printf("Payload:     %s\n", string(m.Payload))
}

func formatQuota(q int64) string {
	switch q {
	case storage.QuotaLastValue:
		return "last value"
	case storage.QuotaUnlimited:
		return "unlimited"
	default:
		return strconv.FormatInt(q, 10)
	}
}
