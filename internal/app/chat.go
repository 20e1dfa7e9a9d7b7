package app

import (
	"codearena/internal/chat"
	"codearena/internal/common/logging"
	"codearena/internal/ratelimit"
)

func (app *App) initializeQuota() error {
	limit := ratelimit.Limit{
		MaxRequests: app.Config.ChatMaxRequests,
		Period:      app.Config.ChatPeriod,
	}

	opts := []ratelimit.GuardOption{ratelimit.WithMetrics(app.Metrics)}
	if app.Locks != nil && app.Config.ChatLockTTL > 0 {
		opts = append(opts, ratelimit.WithLocker(app.Locks, app.Config.ChatLockTTL))
	}

	guard, err := ratelimit.NewGuard(app.Storage.Quotas(), limit, app.Logger, opts...)
	if err != nil {
		return err
	}
	app.Quota = guard

	app.Logger.Info("Chat quota: Enabled",
		logging.Int("max_requests", limit.MaxRequests),
		logging.Duration("period", limit.Period),
	)
	return nil
}

func (app *App) initializeChat() error {
	if app.Config.OpenAIAPIKey == "" {
		app.Logger.Info("Chat assistant: Not configured (OPENAI_API_KEY unset)")
		return nil
	}

	assistant, err := chat.NewOpenAIAssistant(chat.OpenAIConfig{
		APIKey:  app.Config.OpenAIAPIKey,
		Model:   app.Config.OpenAIModel,
		BaseURL: app.Config.OpenAIBaseURL,
	})
	if err != nil {
		return err
	}

	var opts []chat.Option
	if app.Config.ChatHistory > 0 {
		opts = append(opts, chat.WithHistory(app.Storage, app.Config.ChatHistory))
	}

	app.Chat = chat.NewService(app.Quota, assistant, app.Logger, opts...)
	app.Logger.Info("Chat assistant: Enabled", logging.String("model", app.Config.OpenAIModel))
	return nil
}
