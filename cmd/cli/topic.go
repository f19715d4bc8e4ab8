package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	brokerapi "ftmsg/api/brokerapi"
	"ftmsg/pkg/broker"
)

func topicCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topic",
		Short: "Topic operations",
		Long:  "Publish to topics and map topic patterns onto queues",
	}

	cmd.AddCommand(topicPublishCmd())
	cmd.AddCommand(topicSubscribeCmd())
	cmd.AddCommand(topicUnsubscribeCmd())
	cmd.AddCommand(topicListCmd())

	return cmd
}

func topicPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <topic> <message>",
		Short: "Publish a message to every queue subscribed to topic",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBroker(func(ctx context.Context, c brokerapi.BrokerServiceClient) error {
				_, err := c.Publish(ctx, &brokerapi.PublishRequest{
					Kind:        string(broker.KindTopic),
					Destination: args[0],
					Payload:     []byte(args[1]),
				})
				if err != nil {
					return err
				}
				fmt.Println("Published")
				return nil
			})
		},
	}
}

func topicSubscribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe <queue> <pattern>",
		Short: "Map a topic pattern onto a queue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBroker(func(ctx context.Context, c brokerapi.BrokerServiceClient) error {
				if _, err := c.AddSubscription(ctx, &brokerapi.SubscriptionRequest{Queue: args[0], Topic: args[1]}); err != nil {
					return err
				}
				fmt.Printf("Subscribed %s to %s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func topicUnsubscribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unsubscribe <queue> <pattern>",
		Short: "Remove a topic pattern from a queue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBroker(func(ctx context.Context, c brokerapi.BrokerServiceClient) error {
				if _, err := c.RemoveSubscription(ctx, &brokerapi.SubscriptionRequest{Queue: args[0], Topic: args[1]}); err != nil {
					return err
				}
				fmt.Printf("Unsubscribed %s from %s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func topicListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [queue]",
		Short: "List topic subscriptions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var queue string
			if len(args) == 1 {
				queue = args[0]
			}
			return withBroker(func(ctx context.Context, c brokerapi.BrokerServiceClient) error {
				resp, err := c.ListSubscriptions(ctx, &brokerapi.QueueRequest{Queue: queue})
				if err != nil {
					return err
				}
				if len(resp.Subscriptions) == 0 {
					fmt.Println("No subscriptions found")
					return nil
				}
				for _, s := range resp.Subscriptions {
					fmt.Printf("  %-24s <- %s\n", s.Queue, s.Topic)
				}
				return nil
			})
		},
	}
}
