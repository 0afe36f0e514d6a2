package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yashrajoria/payment-engine/models"
	"github.com/yashrajoria/payment-engine/repository"
	"go.uber.org/zap"
)

type SweeperConfig struct {
	ExpiryInterval  time.Duration
	WarningInterval time.Duration
	WarningWindow   time.Duration
	BatchSize       int
	Workers         int
}

// ExpirationSweeper fails overdue pending intents and warns about those
// about to expire.
type ExpirationSweeper struct {
	expirer *expirer
	cfg     SweeperConfig

	// warned holds intents already warned about, until they leave the window.
	mu     sync.Mutex
	warned map[uuid.UUID]time.Time
}

func NewExpirationSweeper(
	store repository.Store,
	inventory Inventory,
	notifier Notifier,
	metrics MetricsRecorder,
	cfg SweeperConfig,
	clock Clock,
	logger *zap.Logger,
) *ExpirationSweeper {
	if cfg.ExpiryInterval <= 0 {
		cfg.ExpiryInterval = 5 * time.Minute
	}
	if cfg.WarningInterval <= 0 {
		cfg.WarningInterval = time.Minute
	}
	if cfg.WarningWindow <= 0 {
		cfg.WarningWindow = 3 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &ExpirationSweeper{
		expirer: &expirer{
			store:     store,
			inventory: inventory,
			events:    eventPublisher{notifier: notifier, logger: logger},
			metrics:   metrics,
			clock:     clock,
			logger:    logger,
		},
		cfg:    cfg,
		warned: make(map[uuid.UUID]time.Time),
	}
}

// Start blocks running both sweeps until ctx is cancelled.
func (s *ExpirationSweeper) Start(ctx context.Context) {
	expiry := time.NewTicker(s.cfg.ExpiryInterval)
	defer expiry.Stop()
	warning := time.NewTicker(s.cfg.WarningInterval)
	defer warning.Stop()

	log := s.expirer.logger
	log.Info("Expiration sweeper started",
		zap.Duration("expiry_interval", s.cfg.ExpiryInterval),
		zap.Duration("warning_interval", s.cfg.WarningInterval),
	)
	for {
		select {
		case <-ctx.Done():
			log.Info("Expiration sweeper stopped")
			return
		case <-expiry.C:
			s.SweepExpired(ctx)
		case <-warning.C:
			s.SweepWarnings(ctx)
		}
	}
}

// SweepExpired fails one batch of overdue intents and returns how many it
// expired. Per-item errors are logged and skipped.
func (s *ExpirationSweeper) SweepExpired(ctx context.Context) int {
	log := s.expirer.logger
	intents, err := s.expirer.store.Intents().ListExpired(ctx, s.expirer.clock.now(), s.cfg.BatchSize)
	if err != nil {
		log.Error("Failed to list expired payments", zap.Error(err))
		return 0
	}
	if len(intents) == 0 {
		return 0
	}

	jobs := make(chan uuid.UUID, len(intents))
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		expired int
	)
	for w := 0; w < s.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				ok, err := s.expirer.expire(ctx, id, "sweeper")
				if err != nil {
					log.Error("Failed to expire payment", zap.String("payment_id", id.String()), zap.Error(err))
					continue
				}
				if ok {
					mu.Lock()
					expired++
					mu.Unlock()
				}
			}
		}()
	}
	for _, intent := range intents {
		jobs <- intent.ID
	}
	close(jobs)
	wg.Wait()

	log.Info("Expiry sweep finished", zap.Int("candidates", len(intents)), zap.Int("expired", expired))
	return expired
}

// SweepWarnings emits an expiry warning once per intent entering the warning
// window. It never mutates payment state.
func (s *ExpirationSweeper) SweepWarnings(ctx context.Context) int {
	now := s.expirer.clock.now()
	intents, err := s.expirer.store.Intents().ListExpiringBetween(ctx, now, now.Add(s.cfg.WarningWindow), s.cfg.BatchSize)
	if err != nil {
		s.expirer.logger.Error("Failed to list expiring payments", zap.Error(err))
		return 0
	}

	s.mu.Lock()
	for id, exp := range s.warned {
		if !exp.After(now) {
			delete(s.warned, id)
		}
	}
	var due []models.PaymentIntent
	for _, intent := range intents {
		if _, seen := s.warned[intent.ID]; seen {
			continue
		}
		s.warned[intent.ID] = *intent.ExpiresAt
		due = append(due, intent)
	}
	s.mu.Unlock()

	for i := range due {
		s.expirer.events.publish(ctx, expiryWarning(&due[i], now))
	}
	return len(due)
}
