package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketchat/internal/call"
	"github.com/marketchat/internal/callback"
	"github.com/marketchat/internal/chat"
	"github.com/marketchat/internal/config"
	"github.com/marketchat/internal/dispatch"
	"github.com/marketchat/internal/handler"
	"github.com/marketchat/internal/logger"
	"github.com/marketchat/internal/media"
	"github.com/marketchat/internal/metrics"
	"github.com/marketchat/internal/middleware"
	"github.com/marketchat/internal/notify"
	"github.com/marketchat/internal/push"
	"github.com/marketchat/internal/repository"
	"github.com/marketchat/internal/startup"
	"github.com/marketchat/internal/storage"
	memstorage "github.com/marketchat/internal/storage/memory"
	"github.com/marketchat/internal/ws"
	"github.com/marketchat/migrations"
)

// stores: реализации хранилищ для выбранного режима (postgres или memory).
type stores struct {
	chat      chat.Store
	calls     call.Store
	callbacks callback.Store
	notes     notify.Store
	dir       chat.Directory
	putShop   func(ctx context.Context, s seedShop) error
	putUser   func(ctx context.Context, u seedUser) error
}

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	m := metrics.Registry(cfg.MetricsNamespace)

	var st stores
	if cfg.UseMemoryStore() {
		logger.Warnf("store=memory: данные не переживут перезапуск, один инстанс")
		mem := memstorage.NewStore()
		st = stores{
			chat: mem, calls: mem, callbacks: mem, notes: mem, dir: mem,
			putShop: func(_ context.Context, s seedShop) error { mem.PutShop(s.model()); return nil },
			putUser: func(_ context.Context, u seedUser) error { mem.PutUser(u.model()); return nil },
		}
	} else {
		if *dev {
			embeddedDB, err := startEmbeddedPostgres(cfg)
			if err != nil {
				logger.Errorf("embedded postgres: %v", err)
				os.Exit(1)
			}
			defer func() {
				logger.Info("stopping embedded postgres...")
				if err := embeddedDB.Stop(); err != nil {
					logger.Errorf("embedded postgres stop: %v", err)
				}
			}()
		}

		poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
		if err != nil {
			logger.Errorf("parse db config: %v", err)
			os.Exit(1)
		}
		poolCfg.MaxConns = int32(cfg.DBMaxConnections())
		poolCfg.MinConns = 4

		pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
		defer pool.Close()

		migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = repository.ApplyMigrations(migrateCtx, pool, migrations.Files)
		migrateCancel()
		if err != nil {
			logger.Errorf("migrations: %v", err)
			os.Exit(1)
		}
		logger.Info("database connected, migrations applied")
		if *migrate && !*dev {
			return
		}

		chatRepo := repository.NewChatRepository(pool)
		dirRepo := repository.NewDirectoryRepository(pool)
		st = stores{
			chat:      chatRepo,
			calls:     repository.NewCallRepository(pool),
			callbacks: repository.NewCallbackRepository(pool),
			notes:     repository.NewNotificationRepository(pool),
			dir:       dirRepo,
			putShop:   func(ctx context.Context, s seedShop) error { return dirRepo.UpsertShop(ctx, s.model()) },
			putUser:   func(ctx context.Context, u seedUser) error { return dirRepo.UpsertUserProfile(ctx, u.model()) },
		}
	}
	if err := loadSeed(seedPath(), st); err != nil {
		logger.Errorf("seed: %v", err)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	var bg sync.WaitGroup

	// Realtime: локальный hub, при REALTIME_BACKPLANE=redis рассылка идёт через Redis pub/sub.
	hub := ws.NewHub(cfg.Realtime.MaxConnections, m)
	bg.Add(1)
	go func() {
		defer bg.Done()
		hub.Run(rootCtx)
	}()

	var registry ws.Registry = hub
	var devices storage.DeviceStore
	if cfg.RedisBackplane() || cfg.Push.FCMCredentialsFile != "" {
		rc := startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "")
		defer rc.Close()
		devices = rc
		if cfg.RedisBackplane() {
			bp := ws.NewBackplane(hub, rc.Raw())
			registry = bp
			bg.Add(1)
			go func() {
				defer bg.Done()
				if err := bp.Run(rootCtx); err != nil {
					logger.Errorf("backplane: %v", err)
				}
			}()
		}
	} else {
		devices = memstorage.New()
	}

	// Внешний push: web push через микросервис и FCM, если настроен.
	pushClient := push.NewClient(cfg.Push.ServiceURL)
	senders := push.NewMultiSender()
	if pushClient.Enabled() {
		senders.Add("web", pushClient)
	}
	if cfg.Push.FCMCredentialsFile != "" {
		fcm, err := push.NewFCMSender(rootCtx, cfg.Push.FCMCredentialsFile, cfg.Push.FCMProjectID, devices)
		if err != nil {
			logger.Errorf("fcm disabled: %v", err)
		} else {
			senders.Add("fcm", fcm)
		}
	}
	var sender push.Sender
	if senders.Len() > 0 {
		sender = senders
	}

	notifySvc := notify.NewService(st.notes, registry, sender, notify.WithMetrics(m), notify.WithPresence(registry))
	chatSvc := chat.NewService(st.chat, st.dir, registry, notifySvc, chat.WithMetrics(m))
	issuer := media.NewJWTIssuer(cfg.Media.AppID, cfg.Media.AppCertificate, cfg.Media.TokenTTL)
	callSvc := call.NewService(st.calls, st.dir, issuer, registry, notifySvc,
		call.WithMetrics(m), call.WithTimeline(chatSvc))
	callbackSvc := callback.NewService(st.callbacks, st.dir, notifySvc)

	reminder, err := callback.NewReminder(callbackSvc, cfg.Callbacks.ReminderCron, m)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	bg.Add(1)
	go func() {
		defer bg.Done()
		reminder.Run(rootCtx)
	}()

	dispatcher := dispatch.New(cfg.Dispatch.QueueSize, cfg.Dispatch.IdleTimeout)
	events := handler.NewEventRouter(registry, chatSvc, callSvc, dispatcher, m)
	wsOpts := ws.ClientOptions{
		SendBufferSize: cfg.Realtime.SendBufferSize,
		MaxMessageSize: cfg.Realtime.MaxMessageSize,
		PongWait:       time.Duration(cfg.Realtime.PongTimeout) * time.Second,
		WriteWait:      time.Duration(cfg.Realtime.WriteTimeout) * time.Second,
	}

	auth := middleware.AuthServiceValidate(cfg.AuthServiceURL, nil)
	if *dev || cfg.AuthServiceURL == "" {
		logger.Warnf("auth: X-User-Id без проверки сессии (только для разработки)")
		auth = middleware.HeaderAuth
	}

	r := handler.NewRouter(cfg, handler.Handlers{
		Chat:         handler.NewChatHandler(chatSvc),
		Call:         handler.NewCallHandler(callSvc),
		Callback:     handler.NewCallbackHandler(callbackSvc),
		Notification: handler.NewNotificationHandler(notifySvc),
		Push:         handler.NewPushHandler(pushClient, devices),
		Config:       handler.NewConfigHandler(cfg),
		WS:           handler.NewWSHandler(registry, events, wsOpts, cfg.CORSAllowedOrigins),
		Metrics:      m,
	}, auth)

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	dispatcher.Close()
	rootCancel()
	bg.Wait()
	logger.Info("hub, reminder and backplane stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "marketchat"
		password = "marketchat_secret"
		database = "marketchat"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
