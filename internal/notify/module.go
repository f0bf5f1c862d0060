package notify

import (
	"market_ingest/internal/modules/config"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func Module() fx.Option {
	return fx.Module("notify",
		fx.Provide(New),
	)
}

// New returns the Telegram notifier when a token and chat id are configured,
// the log notifier otherwise.
func New(cfg *config.Config, log *zap.Logger) (Notifier, error) {
	tg := cfg.Notify.Telegram
	if tg.Token == "" || tg.ChatID == 0 {
		return NewLog(cfg.Notify.OnSuccess, log), nil
	}
	bot, err := tgbot.NewBotAPI(tg.Token)
	if err != nil {
		return nil, errors.Wrap(err, "telegram bot")
	}
	return NewTelegram(bot, tg.ChatID, cfg.Notify.OnSuccess, log), nil
}
