// Микросервис пуш-уведомлений (Web Push): подписки в Redis, отправка через VAPID.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/marketchat/internal/logger"
	"github.com/marketchat/internal/push"
	"github.com/marketchat/internal/pushserver"
	"github.com/marketchat/internal/startup"
)

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	logger.SetPrefix("push")
	if len(os.Args) > 1 && (os.Args[1] == "-gen-vapid" || os.Args[1] == "--gen-vapid") {
		priv, pub, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			logger.Errorf("generate VAPID: %v", err)
			os.Exit(1)
		}
		logger.Infof("VAPID_PUBLIC_KEY=%s", pub)
		logger.Infof("VAPID_PRIVATE_KEY=%s", priv)
		return
	}
	logger.Info("starting push service")
	addr := getEnv("SERVER_ADDR", ":8082")

	keys, err := push.EnsureVAPIDKeys("")
	if err != nil {
		logger.Warnf("VAPID: не удалось загрузить/сгенерировать ключи: %v, отправка отключена", err)
	}

	rdb := startup.ConnectRedisWithRetry(getEnv("REDIS_URL", "redis://localhost:6379"), 2*time.Minute, "push: ")
	defer rdb.Close()
	logger.Info("redis connected")

	s := pushserver.New(pushserver.NewRedisSubscriptions(rdb.Raw()), keys)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("push server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("push server: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
	logger.Info("push server stopped")
}
