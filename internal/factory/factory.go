package factory

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"identity-service/internal/client"
	"identity-service/internal/config"
	"identity-service/internal/email"
	"identity-service/internal/otp"
	"identity-service/internal/password"
	repo "identity-service/internal/repository/postgres"
	cache "identity-service/internal/repository/redis"
	"identity-service/internal/service"
	"identity-service/internal/storage"
	"identity-service/internal/token"
	"identity-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies.
type Factory struct {
	config *config.Config

	db            *sql.DB
	redisClient   *client.RedisClient
	kafkaProducer *client.KafkaProducer

	accountRepository repo.AccountRepository
	verificationCache *cache.VerificationCache
	hasher            *password.Hasher
	tokenIssuer       *token.Issuer
	totp              *otp.TOTP
	notifier          email.Notifier
	events            service.EventPublisher

	authService *service.AuthService
	userService *service.UserService

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads configuration and initializes every dependency,
// running migrations against Postgres.
func NewFactory() (*Factory, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if err := f.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	f.initializeServices()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
		util.Bool("smtp_enabled", cfg.SMTP.Enabled),
	)
	return f, nil
}

func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := storage.Open(ctx, f.config.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	f.db = db
	if err := storage.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	util.Info("Postgres initialized and migrated")

	redisClient, err := client.NewRedisClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = redisClient

	// Kafka is optional in every environment; events degrade to no-ops.
	if f.config.Kafka.Enabled {
		producer, err := client.NewKafkaProducer(f.config, util.Get())
		if err != nil {
			util.Warn("Kafka producer initialization failed, proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
		}
	}

	return nil
}

func (f *Factory) initializeServices() {
	f.accountRepository = repo.NewAccountRepository(f.db, util.Get())
	f.verificationCache = cache.NewVerificationCache(f.redisClient)
	f.hasher = password.NewHasher()
	f.tokenIssuer = token.NewIssuer(f.config.JWT.Secret, f.config.JWT.TTL, f.config.JWT.Issuer)
	f.totp = otp.NewTOTP(f.config.OTP.TOTPIssuer)

	if f.config.SMTP.Enabled {
		f.notifier = email.NewSMTPNotifier(f.config.SMTP)
	} else {
		f.notifier = email.LogNotifier{}
	}

	if f.kafkaProducer != nil {
		f.events = service.NewKafkaEventPublisher(f.kafkaProducer, f.config.Kafka.Topic)
	} else {
		f.events = service.NopEventPublisher{}
	}

	f.authService = service.NewAuthService(
		f.accountRepository,
		f.verificationCache,
		f.hasher,
		f.tokenIssuer,
		f.totp,
		f.notifier,
		f.events,
		f.config.OTP.CodeTTL,
		util.Get(),
	)
	f.userService = service.NewUserService(f.accountRepository, util.Get())
}

// HealthCheck probes all storage dependencies in parallel. A Kafka
// outage is logged but does not fail the check.
func (f *Factory) HealthCheck(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := f.accountRepository.HealthCheck(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	})
	if f.kafkaProducer != nil {
		g.Go(func() error {
			if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
				util.Warn("kafka health check failed", util.ErrorField(err))
			}
			return nil
		})
	}

	return g.Wait()
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.db != nil {
			if err := f.db.Close(); err != nil {
				util.Error("Failed to close Postgres pool", util.ErrorField(err))
			} else {
				util.Info("Postgres pool closed")
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})
	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) AuthService() *service.AuthService {
	return f.authService
}

func (f *Factory) UserService() *service.UserService {
	return f.userService
}

func (f *Factory) TokenIssuer() *token.Issuer {
	return f.tokenIssuer
}
