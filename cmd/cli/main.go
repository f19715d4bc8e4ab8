package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	brokerapi "ftmsg/api/brokerapi"
	client "ftmsg/clients/go"
)

var (
	serverAddr string
	timeout    int
	configPath string
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "ftctl",
		Short: "ftctl - fault tolerant cluster membership CLI",
		Long:  `ftctl joins clusters as an election member and administers ftbroker queues and topics`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "localhost:9000", "Broker address")
	rootCmd.PersistentFlags().IntVar(&timeout, "timeout", 30, "Request timeout in seconds")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")

	// Add subcommands
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(topicCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withBroker dials the broker and runs fn with a request-scoped context.
func withBroker(fn func(ctx context.Context, c brokerapi.BrokerServiceClient) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	c, err := client.New(ctx, serverAddr, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	return brokerapi.FromStatus(fn(ctx, c.Broker))
}
