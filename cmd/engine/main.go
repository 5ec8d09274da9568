package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fairdraw/keno-engine/internal/config"
	"github.com/fairdraw/keno-engine/internal/engine"
	"github.com/fairdraw/keno-engine/internal/fairness"
	"github.com/fairdraw/keno-engine/internal/ledger"
	"github.com/fairdraw/keno-engine/internal/paytable"
	"github.com/fairdraw/keno-engine/internal/store"
	"github.com/fairdraw/keno-engine/internal/worker"
	"github.com/fairdraw/keno-engine/pkg/common/logger"
	"github.com/fairdraw/keno-engine/pkg/events"
	"github.com/fairdraw/keno-engine/pkg/infra"
	"github.com/fairdraw/keno-engine/pkg/kvstore"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "keno-engine",
		Short: "Provably-fair keno draw and settlement engine",
	}
	root.AddCommand(runCmd(), verifyCmd(), rtpCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the round cadence and settlement sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to configuration file")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logs")
	return cmd
}

func runEngine(configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger.Init(&logger.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
		JSON:       cfg.Environment == "production",
	})
	logger.Info("config loaded", "environment", cfg.Environment)

	kv, err := kvstore.NewBadgerStore(cfg.KVStore.Directory, cfg.KVStore.Prefix, infra.JSON)
	if err != nil {
		return fmt.Errorf("open kvstore: %w", err)
	}
	defer kv.Close()

	commitStore := store.NewCommitmentStore(kv, infra.JSON)
	commits, err := fairness.NewManager(commitStore)
	if err != nil {
		return fmt.Errorf("initialize commitment manager: %w", err)
	}

	table := paytable.Default()
	if cfg.Paytable.Path != "" {
		table, err = paytable.Load(cfg.Paytable.Path)
		if err != nil {
			return fmt.Errorf("load paytable: %w", err)
		}
	}

	var wallet ledger.Ledger = ledger.NewMemoryLedger()
	var emitter events.Emitter = events.NopEmitter{}
	var instructions *ledger.InstructionConsumer
	if cfg.NATS.URL != "" {
		nc, err := infra.GetNATSConnection(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connect NATS: %w", err)
		}
		defer nc.Close()

		ledgerMgr, err := infra.NewNATsMessageQueueManager(
			"ledger-instructions",
			[]string{infra.LedgerInstructionTopicQueue + ".*"},
			nc,
		)
		if err != nil {
			return err
		}
		wallet = ledger.NewNATSLedger(ledgerMgr.NewPublisher())

		// Outside production the wallet service does not exist; drain the
		// instruction stream into a local ledger so balances still move.
		if cfg.Environment != "production" {
			walletQueue, err := ledgerMgr.NewMessageQueue("wallet", infra.LedgerInstructionTopicQueue+".*")
			if err != nil {
				return err
			}
			instructions = ledger.NewInstructionConsumer(walletQueue, ledger.NewMemoryLedger())
		}

		eventsMgr, err := infra.NewNATsMessageQueueManager(
			"round-events",
			[]string{cfg.NATS.SubjectPrefix},
			nc,
		)
		if err != nil {
			return err
		}
		emitter = events.NewEmitter(eventsMgr.NewPublisher(), cfg.NATS.SubjectPrefix)
	} else {
		logger.Warn("no NATS configured, using in-memory ledger and discarding events")
	}

	minWager, err := decimal.NewFromString(cfg.Engine.MinWager)
	if err != nil {
		return fmt.Errorf("invalid min_wager: %w", err)
	}
	maxWager, err := decimal.NewFromString(cfg.Engine.MaxWager)
	if err != nil {
		return fmt.Errorf("invalid max_wager: %w", err)
	}

	eng, err := engine.New(engine.Config{
		PoolSize: cfg.Engine.PoolSize,
		DrawSize: cfg.Engine.DrawSize,
		MaxSpots: cfg.Engine.MaxSpots,
		MinWager: minWager,
		MaxWager: maxWager,
	},
		store.NewRoundStore(kv, infra.JSON),
		store.NewWagerStore(kv, infra.JSON),
		commits, table, wallet, emitter,
	)
	if err != nil {
		return err
	}

	if instructions != nil {
		if err := instructions.Start(context.Background()); err != nil {
			return fmt.Errorf("start instruction consumer: %w", err)
		}
		defer instructions.Stop()
	}

	workers := []worker.Worker{
		worker.NewRunner(eng, cfg.Worker.RoundInterval, cfg.Worker.RotateInterval),
		worker.NewSweeper(eng, cfg.Worker.SweepInterval, cfg.Worker.StaleAfter),
	}
	for _, w := range workers {
		w.Start()
	}

	logger.Info("engine is running. Press Ctrl+C to stop.", "digest", eng.CurrentDigest())
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	logger.Info("shutting down...")
	for _, w := range workers {
		w.Stop()
	}
	logger.Info("engine stopped")
	return nil
}

func verifyCmd() *cobra.Command {
	var (
		secretHex string
		digest    string
		seed      string
		nonce     uint64
		pool      int
		draw      int
		numbers   string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Replay a draw from disclosed values and check it against its commitment",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := hex.DecodeString(secretHex)
			if err != nil {
				return fmt.Errorf("decode secret: %w", err)
			}
			claimed, err := parseNumbers(numbers)
			if err != nil {
				return err
			}

			if fairness.Verify(secret, seed, nonce, pool, draw, claimed, digest) {
				fmt.Println("VALID: draw matches the published commitment")
				return nil
			}
			fmt.Println("INVALID: draw does not match the published commitment")
			os.Exit(1)
			return nil
		},
	}
	cmd.Flags().StringVar(&secretHex, "secret", "", "Disclosed server secret (hex)")
	cmd.Flags().StringVar(&digest, "digest", "", "Published commitment digest (hex)")
	cmd.Flags().StringVar(&seed, "client-seed", "", "Round client seed")
	cmd.Flags().Uint64Var(&nonce, "nonce", 0, "Round nonce")
	cmd.Flags().IntVar(&pool, "pool", 80, "Pool size")
	cmd.Flags().IntVar(&draw, "draw", 20, "Draw size")
	cmd.Flags().StringVar(&numbers, "numbers", "", "Claimed numbers, comma-separated")
	for _, required := range []string{"secret", "digest", "numbers"} {
		_ = cmd.MarkFlagRequired(required)
	}
	return cmd
}

func rtpCmd() *cobra.Command {
	var (
		pool      int
		draw      int
		tablePath string
	)

	cmd := &cobra.Command{
		Use:   "rtp",
		Short: "Print the expected return-to-player per spot count",
		RunE: func(cmd *cobra.Command, args []string) error {
			table := paytable.Default()
			if tablePath != "" {
				var err error
				table, err = paytable.Load(tablePath)
				if err != nil {
					return err
				}
			}

			fmt.Printf("paytable %s, pool %d, draw %d\n", table.Version, pool, draw)
			for spots := paytable.MinSpots; spots <= paytable.MaxSpots; spots++ {
				rtp, err := table.ExpectedRTP(spots, pool, draw)
				if err != nil {
					return err
				}
				fmt.Printf("  %2d spots: %s%%\n", spots, rtp.Mul(decimal.NewFromInt(100)).StringFixed(4))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&pool, "pool", 80, "Pool size")
	cmd.Flags().IntVar(&draw, "draw", 20, "Draw size")
	cmd.Flags().StringVar(&tablePath, "paytable", "", "Path to a paytable YAML file")
	return cmd
}

func parseNumbers(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("numbers are required")
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("parse number %q: %w", p, err)
		}
		out = append(out, n)
	}
	return out, nil
}
