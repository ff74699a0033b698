// Package startup ждёт внешние зависимости (Postgres, Redis) при старте сервиса.
package startup

import (
	"os"
	"time"

	"github.com/marketchat/internal/logger"
)

const maxBackoff = 30 * time.Second

// retryUntil вызывает attempt, пока он не вернёт nil или не истечёт maxWait.
// По истечении процесс завершается: без хранилища сервису делать нечего.
func retryUntil(what string, maxWait time.Duration, logPrefix string, attempt func() error) {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for n := 1; ; n++ {
		err := attempt()
		if err == nil {
			if n > 1 {
				logger.Infof("%s%s ready after %d attempts", logPrefix, what, n)
			}
			return
		}
		if time.Now().After(deadline) {
			logger.Errorf("%s%s: gave up after %v: %v", logPrefix, what, maxWait, err)
			os.Exit(1)
		}
		logger.Errorf("%s%s unavailable (attempt %d), retry in %v: %v", logPrefix, what, n, backoff, err)
		time.Sleep(backoff)
		backoff = min(backoff*2, maxBackoff)
	}
}
