// Package notify forwards proctor-relevant session events to Telegram. It
// subscribes to the per-exam monitor channels and relays violations and
// terminations to the configured proctor chat.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/telebot.v4"

	"github.com/examdesk/examdesk-backend/internal/config"
	"github.com/examdesk/examdesk-backend/internal/service"
)

// ProctorNotifier relays monitor events to a Telegram chat.
type ProctorNotifier struct {
	bot  *telebot.Bot
	chat telebot.ChatID
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewProctorNotifier creates the notifier. The bot is send-only; no update
// polling runs.
func NewProctorNotifier(token string, chatID int64, rdb *redis.Client, log zerolog.Logger) (*ProctorNotifier, error) {
	bot, err := telebot.NewBot(telebot.Settings{
		Token:  token,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &ProctorNotifier{
		bot:  bot,
		chat: telebot.ChatID(chatID),
		rdb:  rdb,
		log:  log.With().Str("component", "proctor_notifier").Logger(),
	}, nil
}

// Start subscribes to every exam's monitor channel and relays events until
// the context is cancelled. Call in a goroutine.
func (n *ProctorNotifier) Start(ctx context.Context) {
	sub := n.rdb.PSubscribe(ctx, config.CacheKey.ExamMonitorPattern())
	defer sub.Close()

	n.log.Info().Msg("Proctor notifier started")
	ch := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			n.log.Info().Msg("Proctor notifier stopped")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev service.MonitorEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				n.log.Warn().Err(err).Msg("Discarding malformed monitor event")
				continue
			}
			n.relay(ev)
		}
	}
}

func (n *ProctorNotifier) relay(ev service.MonitorEvent) {
	var text string
	switch ev.Type {
	case "violation":
		text = fmt.Sprintf("⚠️ Violation %d (%s)\nexam %s\nstudent %d",
			ev.Count, ev.Kind, ev.ExamID, ev.StudentID)
	case "terminated":
		text = fmt.Sprintf("⛔ Session terminated\nexam %s\nstudent %d\n%s",
			ev.ExamID, ev.StudentID, ev.Reason)
	default:
		// Submissions are routine; the dashboard shows them, the chat stays
		// quiet.
		return
	}

	if _, err := n.bot.Send(n.chat, text); err != nil {
		n.log.Warn().Err(err).Str("type", ev.Type).Msg("Telegram send failed")
	}
}
