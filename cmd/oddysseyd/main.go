// oddysseyd is the Oddyssey slip daemon. It tracks the current cycle's
// matches, builds a ten-pick draft, submits and claims slips, and serves the
// whole lifecycle over HTTP and a websocket stream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/phenomenon0/oddyssey-agent/pkg/api"
	"github.com/phenomenon0/oddyssey-agent/pkg/config"
	"github.com/phenomenon0/oddyssey-agent/pkg/eth"
	"github.com/phenomenon0/oddyssey-agent/pkg/events"
	"github.com/phenomenon0/oddyssey-agent/pkg/logger"
	"github.com/phenomenon0/oddyssey-agent/pkg/metrics"
	"github.com/phenomenon0/oddyssey-agent/pkg/notify"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/backend"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/chain"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/odds"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/session"
	"github.com/phenomenon0/oddyssey-agent/pkg/store"
	"github.com/phenomenon0/oddyssey-agent/pkg/streaming"
)

var (
	configPath = flag.String("config", "", "Path to a YAML config file")
	httpAddr   = flag.String("addr", "", "HTTP listen address (overrides config)")
	paperMode  = flag.Bool("paper", false, "Run against an in-memory contract")
)

func main() {
	flag.Parse()

	if *paperMode {
		// Validation skips live-only settings in paper mode.
		os.Setenv("ODDYSSEY_PAPER", "true")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}

	log, err := logger.WithLevel("oddysseyd", cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("daemon stopped", zap.Error(err))
	}
	log.Info("goodbye")
}

type daemon struct {
	src      odds.Source
	contract chain.Contract
	backend  backend.Service
	network  eth.Network
	closers  []func() error
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	sm := metrics.Default()

	d, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		for i := len(d.closers) - 1; i >= 0; i-- {
			if err := d.closers[i](); err != nil {
				log.Warn("close failed", zap.Error(err))
			}
		}
	}()

	hub := streaming.NewHub(log.Named("stream"), streaming.WithClientGauge(sm.SetStreamClients))
	go hub.Run(ctx)

	opts := []session.Option{
		session.WithBackend(d.backend),
		session.WithLogger(log.Named("session")),
		session.WithMetrics(sm),
		session.WithStream(hub),
		session.WithNotifier(newNotifier(cfg, log)),
	}

	if cfg.Kafka.Brokers != "" {
		pub := events.NewKafkaPublisher(events.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		d.closers = append(d.closers, pub.Close)
		opts = append(opts, session.WithPublisher(pub))
		log.Info("publishing lifecycle events", zap.String("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	if cfg.Database.DSN != "" {
		db, err := store.New(cfg.Database, log.Named("store"))
		if err != nil {
			return err
		}
		d.closers = append(d.closers, db.Close)
		if err := db.AutoMigrate(); err != nil {
			return err
		}
		opts = append(opts, session.WithStore(db))
	}

	mgr := session.New(d.src, d.contract, session.Config{
		Network:    d.network,
		Polling:    cfg.Polling,
		PrizeRanks: cfg.PrizeRanks,
		Location:   cfg.Location(),
	}, opts...)

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer mgr.Stop()

	wallet, err := loadWallet(cfg)
	if err != nil {
		return err
	}
	if wallet != nil {
		if err := mgr.ConnectWallet(ctx, wallet); err != nil {
			log.Warn("wallet not connected", zap.Error(err))
		}
	}

	srv := api.New(mgr,
		api.WithWallet(wallet),
		api.WithStream(http.HandlerFunc(hub.ServeWS)),
		api.WithMetrics(sm.Handler()),
		api.WithLogger(log.Named("http")),
		api.WithTransactionTimeout(cfg.Chain.ReceiptTimeout+time.Minute),
	)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http listening",
			zap.String("addr", cfg.HTTP.Addr),
			zap.Bool("paper", cfg.Paper),
			zap.Uint64("chain_id", d.network.ChainID))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// connect builds the match source, contract and evaluation service. Paper mode
// uses one in-memory contract for all three.
func connect(ctx context.Context, cfg *config.Config, log *zap.Logger) (*daemon, error) {
	network := eth.Network{
		Name:    cfg.Chain.Network,
		ChainID: cfg.Chain.ChainID,
		RPCURL:  cfg.Chain.RPCURL,
	}

	if cfg.Paper {
		paper := chain.NewPaper(cfg.Chain.ChainID, chain.WithPrizeRanks(cfg.PrizeRanks))
		cycle := paper.StartCycle(demoMatches(time.Now().In(cfg.Location())))
		log.Info("paper contract ready", zap.Uint64("cycle", uint64(cycle)))
		network.Name = "paper"
		return &daemon{src: paper, contract: paper, backend: paper, network: network}, nil
	}

	address, err := eth.ParseAddress(cfg.Chain.ContractAddress)
	if err != nil {
		return nil, fmt.Errorf("contract address: %w", err)
	}
	network.Contract = address

	client, err := chain.Dial(ctx, cfg.Chain.RPCURL, address,
		chain.WithLogger(log.Named("chain")),
		chain.WithReceiptTimeout(cfg.Chain.ReceiptTimeout))
	if err != nil {
		return nil, err
	}
	d := &daemon{contract: client, network: network}
	d.closers = append(d.closers, func() error { client.Close(); return nil })

	var src odds.Source = client
	if cfg.Backend.BaseURL != "" {
		be := backend.NewClient(cfg.Backend.BaseURL, backend.WithRateLimit(cfg.Backend.RateLimit, 1))
		d.backend = be
		src = &odds.Fallback{Primary: client, Secondary: be}
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, reading matches uncached", zap.Error(err))
			rdb.Close()
		} else {
			d.closers = append(d.closers, rdb.Close)
			src = odds.NewCache(src, rdb,
				odds.WithTTL(cfg.Redis.TTL, cfg.Redis.TTL/3),
				odds.WithCacheLogger(log.Named("cache")))
		}
	}
	d.src = src
	return d, nil
}

func loadWallet(cfg *config.Config) (*eth.Wallet, error) {
	if cfg.Chain.PrivateKey != "" {
		w, err := eth.NewWallet(cfg.Chain.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("load wallet: %w", err)
		}
		return w, nil
	}
	if cfg.Paper {
		return eth.GenerateWallet()
	}
	return nil, nil
}

func newNotifier(cfg *config.Config, log *zap.Logger) notify.Sender {
	senders := []notify.Sender{notify.NewLogSender(log.Named("notify"))}
	if cfg.Telegram.BotToken != "" {
		tg, err := notify.NewTelegramSender(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			log.Warn("telegram disabled", zap.Error(err))
		} else {
			senders = append(senders, tg)
		}
	}
	return notify.NewMultiSender(senders...)
}

var demoTeams = [][2]string{
	{"Arsenal", "Chelsea"},
	{"Barcelona", "Sevilla"},
	{"Inter", "Napoli"},
	{"Bayern", "Dortmund"},
	{"PSG", "Lyon"},
	{"Ajax", "PSV"},
	{"Benfica", "Porto"},
	{"Celtic", "Rangers"},
	{"Galatasaray", "Fenerbahce"},
	{"Boca Juniors", "River Plate"},
}

// demoMatches schedules the paper cycle for tomorrow, an hour apart.
func demoMatches(now time.Time) []odds.Match {
	y, m, day := now.AddDate(0, 0, 1).Date()
	first := time.Date(y, m, day, 12, 0, 0, 0, now.Location())

	out := make([]odds.Match, len(demoTeams))
	for i, t := range demoTeams {
		step := decimal.NewFromInt(int64(i)).Div(decimal.NewFromInt(10))
		out[i] = odds.Match{
			ID:       odds.MatchID(1000 + i),
			Kickoff:  first.Add(time.Duration(i) * time.Hour),
			HomeTeam: t[0],
			AwayTeam: t[1],
			League:   "Demo League",
			Odds: map[odds.Outcome]decimal.Decimal{
				odds.OutcomeHome:  decimal.RequireFromString("1.80").Add(step),
				odds.OutcomeDraw:  decimal.RequireFromString("3.40"),
				odds.OutcomeAway:  decimal.RequireFromString("4.10").Sub(step),
				odds.OutcomeOver:  decimal.RequireFromString("1.95"),
				odds.OutcomeUnder: decimal.RequireFromString("1.85"),
			},
		}
	}
	return out
}
