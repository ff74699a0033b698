// Package logger пишет логи с префиксом сервиса через асинхронный буфер,
// чтобы запись в stdout не тормозила ws-рассылку и обработчики.
package logger

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

const asyncBufferSize = 8192

// slowThreshold: порог, после которого LogDuration пишет вызов на уровне info.
const slowThreshold = 100 * time.Millisecond

var (
	prefix   string
	logLevel = levelInfo
	ch       chan string
	once     sync.Once
	mu       sync.RWMutex
)

type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
)

func parseLevel(s string) level {
	switch strings.ToLower(s) {
	case "debug", "trace":
		return levelDebug
	case "warn", "warning":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func initWorker() {
	mu.Lock()
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		logLevel = parseLevel(v)
	}
	mu.Unlock()
	ch = make(chan string, asyncBufferSize)
	go func() {
		for msg := range ch {
			log.Print(msg)
		}
	}()
}

func enqueue(l level, msg string) {
	once.Do(initWorker)
	if l < currentLevel() {
		return
	}
	select {
	case ch <- msg:
	default:
		// буфер полон, лог теряется
	}
}

func currentLevel() level {
	mu.RLock()
	defer mu.RUnlock()
	return logLevel
}

// SetPrefix задаёт префикс для всех последующих логов (например "api", "push").
func SetPrefix(p string) {
	mu.Lock()
	prefix = p
	mu.Unlock()
}

// SetLevel overrides LOG_LEVEL (config value wins over env default).
func SetLevel(s string) {
	once.Do(initWorker)
	mu.Lock()
	logLevel = parseLevel(s)
	mu.Unlock()
}

func tag() string {
	mu.RLock()
	defer mu.RUnlock()
	if prefix == "" {
		return ""
	}
	return "[" + prefix + "] "
}

func Info(v ...any) {
	enqueue(levelInfo, tag()+fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	enqueue(levelInfo, tag()+fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...any) {
	enqueue(levelDebug, tag()+"DEBUG: "+fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	enqueue(levelWarn, tag()+"WARN: "+fmt.Sprintf(format, v...))
}

func Error(v ...any) {
	enqueue(levelError, tag()+"ERROR: "+fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	enqueue(levelError, tag()+"ERROR: "+fmt.Sprintf(format, v...))
}

// Fields форматирует пары ключ-значение в "k1=v1 k2=v2" (ключи по алфавиту).
// Нечётный хвост пишется как key=<missing>.
func Fields(kv ...any) string {
	pairs := make([]string, 0, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 >= len(kv) {
			pairs = append(pairs, key+"=<missing>")
			break
		}
		val := fmt.Sprint(kv[i+1])
		if strings.ContainsAny(val, " \t\"") {
			val = fmt.Sprintf("%q", val)
		}
		pairs = append(pairs, key+"="+val)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, " ")
}

// LogDuration логирует имя функции и время выполнения в миллисекундах.
// На info пишутся только вызовы дольше 100ms, на debug все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if currentLevel() == levelDebug || elapsed >= slowThreshold {
		enqueue(levelInfo, fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration: defer logger.DeferLogDuration("chatRepo.AppendMessage", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
