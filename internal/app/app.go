package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/supporthours/internal/changerequest"
	"github.com/router-for-me/supporthours/internal/config"
	"github.com/router-for-me/supporthours/internal/db"
	"github.com/router-for-me/supporthours/internal/http/api/admin"
	"github.com/router-for-me/supporthours/internal/http/api/front"
	"github.com/router-for-me/supporthours/internal/ledger"
	"github.com/router-for-me/supporthours/internal/notify"
	"github.com/router-for-me/supporthours/internal/planlock"
	"github.com/router-for-me/supporthours/internal/provisioning"
	"github.com/router-for-me/supporthours/internal/ratelimit"
	"github.com/router-for-me/supporthours/internal/rollover"
	"github.com/router-for-me/supporthours/internal/security"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn.WithContext(ctx))
}

// IssueAdminToken signs an admin token with the configured JWT secret.
func IssueAdminToken(cfg config.AppConfig, subject string, perms []string, superAdmin bool) (string, error) {
	jwtCfg, err := config.LoadJWTConfig(config.ResolveConfigPath(cfg.ConfigPath))
	if err != nil {
		return "", err
	}
	return security.IssueAdminToken(jwtCfg.Secret, subject, perms, superAdmin, jwtCfg.Expiry, time.Now())
}

// components holds the wired ledger services of one process.
type components struct {
	engine     *ledger.Engine
	service    *provisioning.Service
	tracker    *changerequest.Tracker
	job        *rollover.Job
	limiter    *ratelimit.Manager
	dispatcher *notify.Dispatcher
}

// buildComponents wires the ledger services onto conn. redisClient may be nil.
func buildComponents(conn *gorm.DB, svcCfg config.ServiceConfig, redisClient *redis.Client) (*components, error) {
	tierCatalog, errTiers := svcCfg.TierCatalog()
	if errTiers != nil {
		return nil, errTiers
	}
	packCatalog, errPacks := svcCfg.PackCatalog()
	if errPacks != nil {
		return nil, errPacks
	}

	sinks := notify.Multi{notify.LogSink{}}
	if redisClient != nil && strings.TrimSpace(svcCfg.Notify.RedisChannel) != "" {
		sinks = append(sinks, notify.NewRedisSink(redisClient, svcCfg.Notify.RedisChannel))
	}
	dispatcher := notify.NewDispatcher(sinks, svcCfg.Notify.Buffer)

	locks := planlock.NewManager(planlock.Options{
		Redis:  redisClient,
		Prefix: svcCfg.Redis.Prefix,
		TTL:    svcCfg.Ledger.LockTTL,
	}, nil)

	engine, errEngine := ledger.NewEngine(ledger.Options{
		DB:          conn,
		Locks:       locks,
		Tiers:       tierCatalog,
		Packs:       packCatalog,
		Sink:        dispatcher,
		LockWait:    svcCfg.Ledger.LockWait,
		BusyRetries: svcCfg.Ledger.BusyRetries,
		LowBalance:  svcCfg.LowBalanceThreshold(),
	})
	if errEngine != nil {
		dispatcher.Close()
		return nil, errEngine
	}

	job, errJob := rollover.NewJob(rollover.Options{
		Engine:             engine,
		Sink:               dispatcher,
		LockWait:           svcCfg.Rollover.LockWait,
		PlanTimeout:        svcCfg.Rollover.PlanTimeout,
		MaxCatchUp:         svcCfg.Rollover.MaxCatchUp,
		ExpiringSoonWindow: svcCfg.Notify.ExpiringSoonWindow,
	})
	if errJob != nil {
		dispatcher.Close()
		return nil, errJob
	}

	return &components{
		engine:  engine,
		service: provisioning.NewService(engine, dispatcher, svcCfg.Ledger.LockWait),
		tracker: changerequest.NewTracker(engine, svcCfg.Ledger.LockWait),
		job:     job,
		limiter: ratelimit.NewManager(ratelimit.Options{
			Redis:  redisClient,
			Prefix: svcCfg.Redis.Prefix,
			Limit:  svcCfg.RateLimit.FrontLimit,
			Window: svcCfg.RateLimit.FrontWindow,
		}, nil),
		dispatcher: dispatcher,
	}, nil
}

// newRouter builds the gin engine with admin and front routes.
func newRouter(c *components, jwtCfg config.JWTConfig, svcCfg config.ServiceConfig) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())
	admin.RegisterAdminRoutes(engine, jwtCfg, admin.Services{
		Engine:        c.engine,
		Provisioning:  c.service,
		ChangeRequest: c.tracker,
		Rollover:      c.job,
	})
	packs, _ := svcCfg.PackCatalog()
	front.RegisterFrontRoutes(engine, c.engine, c.tracker, packs, c.limiter)
	return engine
}

// RunServer boots the ledger service: database, Redis, rollover scheduler and HTTP API.
// It returns when ctx is cancelled or the listener fails.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	svcCfg, err := config.LoadServiceConfig(configPath)
	if err != nil {
		return err
	}
	jwtCfg, _ := config.LoadJWTConfig(configPath)

	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	redisClient := newRedisClient(ctx, svcCfg.Redis)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	c, err := buildComponents(conn, svcCfg, redisClient)
	if err != nil {
		return err
	}
	defer c.dispatcher.Close()

	if !svcCfg.Rollover.Disabled {
		scheduler, errScheduler := rollover.NewScheduler(c.job, svcCfg.Rollover.Cron)
		if errScheduler != nil {
			return errScheduler
		}
		if errStart := scheduler.Start(ctx); errStart != nil {
			return errStart
		}
		defer scheduler.Stop()
	} else {
		log.Warn("rollover scheduler disabled by config")
	}

	server := &http.Server{
		Addr:              svcCfg.ListenAddr(),
		Handler:           newRouter(c, jwtCfg, svcCfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errServe := make(chan error, 1)
	go func() {
		log.Infof("starting support-hour ledger on %s with config=%s", server.Addr, configPath)
		if errListen := server.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
			errServe <- errListen
		}
		close(errServe)
	}()

	select {
	case errListen := <-errServe:
		if errListen != nil {
			return fmt.Errorf("http server: %w", errListen)
		}
		return nil
	case <-ctx.Done():
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errShutdown := server.Shutdown(ctxShutdown); errShutdown != nil {
		return fmt.Errorf("http server shutdown: %w", errShutdown)
	}
	log.Info("server stopped")
	return nil
}

// newRedisClient connects to Redis when enabled. An unreachable server is logged and the
// client is still returned so the lock and limiter breakers can recover later.
func newRedisClient(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	if !cfg.Enabled || strings.TrimSpace(cfg.Addr) == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if errPing := client.Ping(ctxPing).Err(); errPing != nil {
		log.WithError(errPing).Warn("redis unavailable at startup, using in-memory locks until it recovers")
	}
	return client
}

// requestLogger logs one line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Warn("request")
		default:
			entry.Debug("request")
		}
	}
}
