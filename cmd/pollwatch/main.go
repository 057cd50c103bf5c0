// Command pollwatch follows one conversation from the terminal. Lines typed
// on stdin are sent as messages; SIGUSR1 refreshes immediately as if the
// window had regained focus.
package main

import (
	"bufio"
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	"github.com/shinyyama/rental-backend/internal/client"
	"github.com/shinyyama/rental-backend/internal/logger"
	"github.com/shinyyama/rental-backend/internal/model"
	"github.com/shinyyama/rental-backend/internal/poller"
	"go.uber.org/zap"
)

type watchConfig struct {
	APIURL               string        `env:"API_URL" envDefault:"http://localhost:8080"`
	Token                string        `env:"POLL_TOKEN"`
	UserID               uint64        `env:"POLL_USER_ID,required"`
	ConversationID       string        `env:"CONVERSATION_ID,required"`
	AppEnv               string        `env:"APP_ENV" envDefault:"development"`
	MessageInterval      time.Duration `env:"POLL_MESSAGE_INTERVAL" envDefault:"10s"`
	ConversationInterval time.Duration `env:"POLL_CONVERSATION_INTERVAL" envDefault:"30s"`
}

func main() {
	_ = godotenv.Load()

	var cfg watchConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("config load error: %v", err)
	}
	zl, err := logger.New(cfg.AppEnv)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	api := client.New(cfg.APIURL)
	api.Token = cfg.Token
	if cfg.Token == "" {
		api.UserID = cfg.UserID
	}

	var mu sync.Mutex
	printed := map[uint64]bool{}
	p := poller.New(api, poller.TickerScheduler{}, poller.Options{
		UserID:               cfg.UserID,
		MessageInterval:      cfg.MessageInterval,
		ConversationInterval: cfg.ConversationInterval,
		Log:                  zl,
		OnMessages: func(id string, msgs []model.Message) {
			mu.Lock()
			defer mu.Unlock()
			for _, m := range msgs {
				if printed[m.ID] {
					continue
				}
				printed[m.ID] = true
				zl.Info("message",
					zap.Uint64("id", m.ID),
					zap.Uint64("from", m.SenderID),
					zap.String("kind", string(m.Kind)),
					zap.String("body", m.Body),
				)
			}
		},
		OnConversations: func(convs []client.Conversation) {
			var unread int64
			for _, c := range convs {
				unread += c.UnreadCount
			}
			zl.Debug("inbox refreshed", zap.Int("conversations", len(convs)), zap.Int64("unread", unread))
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := p.Open(ctx, cfg.ConversationID); err != nil {
		zl.Fatal("open conversation", zap.Error(err))
	}
	defer p.Close()

	focus := make(chan os.Signal, 1)
	signal.Notify(focus, syscall.SIGUSR1)
	defer signal.Stop(focus)

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-focus:
			p.Focus()
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			d := p.Draft()
			d.Body = text
			p.SetDraft(d)
			if _, err := p.Send(ctx); err != nil {
				zl.Warn("send failed; retry by entering another line", zap.Error(err))
			}
		}
	}
}
