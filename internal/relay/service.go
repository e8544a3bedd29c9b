package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tickrelay/config"
	"tickrelay/internal/hub"
	"tickrelay/internal/memorystore"
	"tickrelay/internal/metrics"
	"tickrelay/internal/poller"
	"tickrelay/internal/stream"
	"tickrelay/internal/tick"
	"tickrelay/pkg/finnhub"
	"tickrelay/pkg/storage/postgres"
	"tickrelay/pkg/storage/redisstore"
	"tickrelay/pkg/twelvedata"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Service owns every long-lived component of the relay process.
type Service struct {
	cfg    *config.Config
	logger *zap.Logger

	Metrics    *metrics.Recorder
	Store      *memorystore.HistoryStore
	Hub        *hub.Hub
	Normalizer *tick.Normalizer
	Upstream   *finnhub.WSClient
	Relay      *Relay
	Poller     *poller.Poller

	archiver  *Archiver
	postgres  *postgres.PostgresClient
	publisher *redisstore.PricePublisher
}

// NewService wires the relay from cfg. Optional sinks (Postgres, Redis) that
// fail to connect are logged and left out.
func NewService(cfg *config.Config, logger *zap.Logger) (*Service, error) {
	rc := cfg.Relay
	if len(rc.TrackedSymbols) == 0 {
		return nil, errors.New("no tracked symbols configured")
	}

	s := &Service{
		cfg:        cfg,
		logger:     logger,
		Metrics:    metrics.New(),
		Store:      memorystore.NewHistoryStore(rc.HistoryCapacity, rc.FreshnessWindow),
		Normalizer: tick.NewNormalizer(rc.TrackedSymbols, rc.ProviderSymbols),
	}
	s.Store.Track(rc.TrackedSymbols...)

	s.Hub = hub.NewHub(hub.Config{
		TrackedSymbols:        rc.TrackedSymbols,
		SnapshotPoints:        rc.SnapshotPoints,
		SeedEnabled:           rc.Seed.Enabled,
		MinHistory:            rc.Seed.MinHistory,
		SeedPrices:            rc.Seed.Prices,
		SubscribeAllOnConnect: cfg.Hub.SubscribeAllOnConnect,
	}, s.Store, logger,
		hub.WithSeeder(hub.NewSeeder(rc.Seed.PointCount, hub.DefaultSeedSpacing, nil)),
		hub.WithMetrics(s.Metrics),
	)

	var observers []Observer
	if cfg.Postgres.Enabled {
		pg, err := postgres.InitializeAndMigrate(cfg.Postgres, cfg.Log.Environment, true)
		if err != nil {
			logger.Warn("price archive disabled", zap.Error(err))
		} else {
			s.postgres = pg
			s.archiver = NewArchiver(pg, rc.ProviderSymbol, rc.FlushInterval, logger)
			observers = append(observers, s.archiver)
		}
	}
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.publisher = redisstore.NewPricePublisher(client, redisstore.Options{
			KeyPrefix:     cfg.Redis.KeyPrefix,
			ChannelPrefix: cfg.Redis.ChannelPrefix,
			TTL:           cfg.Redis.TTL,
			QueueSize:     cfg.Redis.QueueSize,
		}, logger)
		observers = append(observers, s.publisher)
	}

	s.Relay = New(s.Normalizer, s.Store, s.Hub, logger, s.Metrics, observers...)

	s.Upstream = finnhub.NewWSClient(cfg.Finnhub.WS.URL, cfg.Finnhub.APIKey, finnhub.WSOptions{
		ReconnectDelay: cfg.Finnhub.WS.ReconnectDelay,
		BackoffMax:     cfg.Finnhub.WS.BackoffMax,
		PingInterval:   cfg.Finnhub.WS.PingInterval,
	}, logger)
	s.Upstream.SetMessageHandler(stream.MakeMessageHandler(logger, s.Relay))
	s.Upstream.OnStateChange(func(st finnhub.Status) {
		s.Metrics.RecordUpstreamStatus(int(st), st == finnhub.StatusReconnecting)
		logger.Info("upstream state changed", zap.String("status", st.String()))
	})

	source, err := s.quoteSource()
	if err != nil {
		return nil, err
	}
	targets := make([]poller.Target, 0, len(rc.TrackedSymbols))
	for _, sym := range rc.TrackedSymbols {
		targets = append(targets, poller.Target{Symbol: sym, ProviderSymbol: rc.ProviderSymbol(sym)})
	}
	s.Poller = poller.New(targets, source, s.Store, s.Relay, poller.Options{
		Interval: rc.PollInterval,
		Timeout:  s.pollTimeout(),
	}, logger, s.Metrics)

	return s, nil
}

func (s *Service) quoteSource() (poller.QuoteSource, error) {
	switch s.cfg.Fallback.Provider {
	case "", "finnhub":
		return finnhub.NewRESTClient(s.cfg.Finnhub.REST.BaseURL, s.cfg.Finnhub.APIKey, s.cfg.Finnhub.REST.Timeout), nil
	case "twelvedata":
		return twelvedata.NewClient(s.cfg.TwelveData.BaseURL, s.cfg.TwelveData.APIKey, s.cfg.TwelveData.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown fallback provider %q", s.cfg.Fallback.Provider)
	}
}

func (s *Service) pollTimeout() time.Duration {
	if s.cfg.Fallback.Provider == "twelvedata" {
		return s.cfg.TwelveData.Timeout
	}
	return s.cfg.Finnhub.REST.Timeout
}

// Run subscribes every tracked symbol upstream and drives the upstream
// connection, the fallback poller and the optional sinks until ctx is
// cancelled. A missing provider token stops only the upstream connection.
func (s *Service) Run(ctx context.Context) error {
	s.loadSeedPrices(ctx)

	for _, sym := range s.cfg.Relay.TrackedSymbols {
		if err := s.Upstream.Subscribe(s.cfg.Relay.ProviderSymbol(sym)); err != nil {
			s.logger.Warn("subscribe failed", zap.String("symbol", sym), zap.Error(err))
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.Upstream.Run(ctx)
		if errors.Is(err, finnhub.ErrMissingToken) {
			s.logger.Error("finnhub token missing, upstream stream disabled; fallback polling continues")
			return nil
		}
		return err
	})

	g.Go(func() error {
		s.Poller.Run(ctx)
		return nil
	})

	if s.archiver != nil {
		g.Go(func() error {
			s.archiver.Run(ctx)
			return nil
		})
	}

	if s.publisher != nil {
		g.Go(func() error {
			s.publisher.Run(ctx)
			return nil
		})
	}

	// Periodically print stored tick count for visibility
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				s.logger.Info("current stored ticks",
					zap.Int("count", s.Store.CountAll()),
					zap.Int("subscribers", s.Hub.SubscriberCount()),
					zap.String("upstream", s.Upstream.Status().String()))
			}
		}
	})

	return g.Wait()
}

// loadSeedPrices feeds archived last prices to the hub's seeder.
func (s *Service) loadSeedPrices(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if s.archiver != nil {
		prices, err := s.archiver.SeedPrices(ctx)
		if err != nil {
			s.logger.Warn("failed to load archived prices", zap.Error(err))
		}
		for sym, p := range prices {
			s.Hub.SetSeedPrice(sym, p)
		}
	}

	if s.publisher != nil {
		last, err := s.publisher.LastTicks(ctx, s.cfg.Relay.TrackedSymbols)
		if err != nil {
			s.logger.Warn("failed to load cached prices", zap.Error(err))
		}
		for sym, t := range last {
			s.Hub.SetSeedPrice(sym, t.Price)
		}
	}
}

// TokenPresent reports whether an upstream credential is configured.
func (s *Service) TokenPresent() bool {
	return s.cfg.Finnhub.APIKey != ""
}

// Close releases external connections.
func (s *Service) Close() {
	if s.postgres != nil {
		if err := s.postgres.Close(); err != nil {
			s.logger.Warn("failed to close postgres", zap.Error(err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
