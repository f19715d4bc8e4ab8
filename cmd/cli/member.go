package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	client "ftmsg/clients/go"
	"ftmsg/config"
	"ftmsg/pkg/broker"
	"ftmsg/pkg/election"
	"ftmsg/pkg/logger"
	"ftmsg/pkg/metrics"
)

func memberCmd() *cobra.Command {
	var (
		strategy      string
		subscription  string
		memberID      string
		browseTimeout time.Duration
		emitTopic     string
		emitEvery     time.Duration
		metricsAddr   string
	)

	cmd := &cobra.Command{
		Use:   "member <cluster>",
		Short: "Join a cluster as an election member",
		Long: `Bind to the cluster's exclusive queue and report role changes until interrupted.
With --subscription the member recovers the last output message published
under that topic pattern when it becomes active.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			cfg.Election.Cluster = args[0]
			if cmd.Flags().Changed("server") || cfg.Session.Address == "" {
				cfg.Session.Address = serverAddr
			}
			if memberID != "" {
				cfg.Election.MemberID = memberID
			}
			if subscription != "" {
				cfg.Election.OutputSubscription = subscription
				if !cmd.Flags().Changed("strategy") {
					strategy = string(election.StrategyStateful)
				}
			}
			if strategy != "" {
				cfg.Election.Strategy = strategy
			}
			if browseTimeout > 0 {
				cfg.Election.BrowseTimeout = browseTimeout
			}

			return runMember(cfg, emitTopic, emitEvery, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", "", "Election strategy (flow, stateful or heartbeat)")
	cmd.Flags().StringVar(&subscription, "subscription", "", "Output topic pattern recovered on activation")
	cmd.Flags().StringVar(&memberID, "member-id", "", "Member id used in logs and metrics")
	cmd.Flags().DurationVar(&browseTimeout, "browse-timeout", 0, "Wait for the last output message on activation")
	cmd.Flags().StringVar(&emitTopic, "emit", "", "Topic the active member publishes a sequence number to")
	cmd.Flags().DurationVar(&emitEvery, "emit-every", time.Second, "Interval between emitted sequence numbers")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")

	return cmd
}

func runMember(cfg *config.Config, emitTopic string, emitEvery time.Duration, metricsAddr string) error {
	kind, err := election.ParseStrategyKind(cfg.Election.Strategy)
	if err != nil {
		return err
	}

	log, err := logger.Init(logger.Config{
		Level:      cfg.Logging.Level,
		Encoding:   cfg.Logging.Format,
		OutputPath: cfg.Logging.File,
		Service:    "ftctl",
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := client.ConnectWithRetry(ctx, cfg.Session.Address, &client.Options{
		Insecure:    true,
		DialTimeout: cfg.Session.DialTimeout,
		Logger:      log.Named("client"),
	}, cfg.Session.ReconnectRetries, cfg.Session.ReconnectWait)
	if err != nil {
		return err
	}

	em := &emitter{session: session, topic: emitTopic, log: log}
	opts := []election.Option{
		election.WithLogger(log),
		election.WithStrategy(kind),
		election.WithBrowseTimeout(cfg.Election.BrowseTimeout),
		election.WithOwnedSession(),
	}
	if cfg.Election.MemberID != "" {
		opts = append(opts, election.WithMemberID(cfg.Election.MemberID))
	}
	if cfg.Election.OutputSubscription != "" {
		opts = append(opts, election.WithOutputSubscription(cfg.Election.OutputSubscription))
	}

	m, err := election.NewManager(session, cfg.Election.Cluster, em, opts...)
	if err != nil {
		_ = session.Close()
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.Close(cctx); err != nil {
			log.Warn("failed to leave cluster cleanly", zap.Error(err))
		}
	}()

	if metricsAddr != "" {
		ms := metrics.NewServer(metricsAddr, cfg.Metrics.Path, func() bool { return m.Binding() != nil })
		go func() {
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() { _ = ms.Close() }()
	}

	if err := m.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("Member %s joined cluster %s (%s), waiting for role changes. Ctrl-C to leave.\n",
		m.MemberID(), m.Cluster(), kind)

	if emitTopic != "" {
		go em.run(ctx, emitEvery)
	}
	<-ctx.Done()
	return nil
}

// emitter prints role changes and, when a topic is set, publishes an
// increasing sequence number while the member is active. A recovered
// snapshot carrying a number resumes the sequence.
type emitter struct {
	session *client.Session
	topic   string
	log     *zap.Logger

	active atomic.Bool
	seq    atomic.Int64
}

func (e *emitter) OnActive(s *election.Snapshot) {
	switch {
	case s == nil:
		fmt.Println("BECOMING ACTIVE")
	case !s.Found:
		fmt.Println("BECOMING ACTIVE: (no state)")
	default:
		fmt.Printf("BECOMING ACTIVE: %s (topic %s, id %s, published %s)\n",
			string(s.Payload), s.Topic, s.MessageID, s.PublishedAt.Format(time.RFC3339))
		if n, err := strconv.ParseInt(string(s.Payload), 10, 64); err == nil {
			e.seq.Store(n)
		}
	}
	e.active.Store(true)
}

func (e *emitter) OnBackup() {
	e.active.Store(false)
	fmt.Println("BECOMING BACKUP")
}

func (e *emitter) run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.active.Load() {
				continue
			}
			n := e.seq.Add(1)
			err := e.session.Publish(ctx, broker.TopicDestination(e.topic), broker.OutboundMessage{
				Payload: []byte(strconv.FormatInt(n, 10)),
			})
			if err != nil && ctx.Err() == nil {
				e.log.Warn("failed to publish output", zap.String("topic", e.topic), zap.Error(err))
			}
		}
	}
}
