package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"aide/internal/classify"
	"aide/internal/config"
	"aide/internal/convo"
	"aide/internal/router"
	"aide/internal/scheduler"
	"aide/internal/store"
	"aide/internal/telegram"
)

// App owns the process lifecycle: storage, the update loop, the scheduler
// and the health endpoint.
type App struct {
	cfg     config.Config
	log     *zap.Logger
	bot     *tgbotapi.BotAPI
	httpSrv *http.Server
	repo    store.Repo
	gateway *telegram.Gateway
	sched   *scheduler.Scheduler
}

func New(cfg config.Config, log *zap.Logger) (*App, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	bot.Debug = false

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	return &App{cfg: cfg, log: log, bot: bot, httpSrv: srv}, nil
}

func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting assistant",
		zap.String("http", a.cfg.HTTPAddr),
		zap.Int64("owner", a.cfg.OwnerID),
	)

	repo, err := store.OpenSQLite(ctx, a.cfg.DBPath)
	if err != nil {
		a.log.Error("open sqlite failed", zap.Error(err))
		return err
	}
	a.repo = repo
	a.log.Info("sqlite ready")

	llm, err := classify.NewClient(a.cfg.LLMEndpoint, a.cfg.LLMAPIKey, a.cfg.LLMModel)
	if err != nil {
		return err
	}

	tracker := convo.New()
	handlers := router.NewHandlers(repo, nil, nil, llm, a.log)
	cmds, err := router.New(repo, tracker, handlers.Registry(), a.log)
	if err != nil {
		return err
	}

	a.gateway = telegram.NewGateway(a.bot, a.log, repo, llm, cmds, tracker, a.cfg.OwnerID, a.cfg.DefaultTZ)
	a.sched = scheduler.New(repo, a.log, a.gateway,
		scheduler.WithInterval(time.Duration(a.cfg.TickSeconds)*time.Second))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go a.sched.Run(ctx)

	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server error", zap.Error(err))
		}
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updCh := a.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			a.log.Info("shutdown signal received")

			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := a.httpSrv.Shutdown(shCtx)
			cancel()

			if err != nil {
				a.log.Warn("http server shutdown error", zap.Error(err))
			}
			if a.repo != nil {
				_ = a.repo.Close()
			}
			return nil

		case upd := <-updCh:
			a.gateway.Dispatch(ctx, upd)
		}
	}
}
