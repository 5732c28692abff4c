package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	migrations "github.com/kanalhq/kanal/db"
	"github.com/kanalhq/kanal/internal/config"
	"github.com/kanalhq/kanal/internal/contacts"
	"github.com/kanalhq/kanal/internal/conversations"
	"github.com/kanalhq/kanal/internal/db"
	"github.com/kanalhq/kanal/internal/gateway"
	"github.com/kanalhq/kanal/internal/handlers"
	"github.com/kanalhq/kanal/internal/inbox"
	"github.com/kanalhq/kanal/internal/ingest"
	"github.com/kanalhq/kanal/internal/logger"
	"github.com/kanalhq/kanal/internal/messages"
	"github.com/kanalhq/kanal/internal/outbound"
	"github.com/kanalhq/kanal/internal/server"
	"github.com/kanalhq/kanal/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			runMigrate(os.Args[2:])
			return
		case "version":
			fmt.Println(version.Info())
			return
		}
	}

	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,

			contacts.NewService,
			conversations.NewService,
			messages.NewService,
			provideGatewayRegistry,
			providePipeline,
			provideDispatcher,
			provideInbox,

			provideServerHandler(providePingHandler),
			provideServerHandler(provideConversationsHandler),
			provideServerHandler(provideContactsHandler),
			provideServerHandler(provideMessagesHandler),
			provideServerHandler(provideWebhookHandler),

			provideServer,
		),
		fx.Invoke(startServer),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func runMigrate(args []string) {
	cfg, err := provideConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := provideLogger(cfg)

	command := "up"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}
	migrationFiles, err := fs.Sub(migrations.MigrationsFS, "migrations")
	if err != nil {
		log.Error("migration files", slog.Any("error", err))
		os.Exit(1)
	}
	if err := db.RunMigrate(log, cfg.Postgres, migrationFiles, command, args); err != nil {
		log.Error("migrate", slog.Any("error", err))
		os.Exit(1)
	}
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			conn.Close()
			return nil
		},
	})
	return conn, nil
}

func provideGatewayRegistry(log *slog.Logger, cfg config.Config) *gateway.Registry {
	meta := cfg.Meta

	var whatsapp, instagram gateway.Client
	if meta.AccessToken != "" && meta.WhatsAppPhoneID != "" {
		whatsapp = gateway.NewWhatsAppClient(meta.BaseURL, meta.AccessToken, meta.WhatsAppPhoneID)
	} else {
		log.Warn("whatsapp gateway not configured")
	}
	if meta.AccessToken != "" && meta.InstagramAccountID != "" {
		instagram = gateway.NewInstagramClient(meta.BaseURL, meta.AccessToken, meta.InstagramAccountID)
	} else {
		log.Warn("instagram gateway not configured")
	}
	return gateway.NewRegistry(whatsapp, instagram)
}

func providePipeline(log *slog.Logger, contactService *contacts.Service, conversationService *conversations.Service, messageService *messages.Service) *ingest.Pipeline {
	return ingest.NewPipeline(log, contactService, conversationService, messageService)
}

func provideDispatcher(log *slog.Logger, cfg config.Config, conversationService *conversations.Service, contactService *contacts.Service, messageService *messages.Service, registry *gateway.Registry) *outbound.Dispatcher {
	return outbound.NewDispatcher(log, conversationService, contactService, messageService, registry, cfg.Meta.SendTimeoutDuration())
}

func provideInbox(log *slog.Logger, conversationService *conversations.Service, messageService *messages.Service) *inbox.Service {
	return inbox.NewService(log, conversationService, messageService)
}

func providePingHandler(log *slog.Logger) *handlers.PingHandler {
	return handlers.NewPingHandler(log)
}

func provideConversationsHandler(inboxService *inbox.Service) *handlers.ConversationsHandler {
	return handlers.NewConversationsHandler(inboxService)
}

func provideContactsHandler(contactService *contacts.Service) *handlers.ContactsHandler {
	return handlers.NewContactsHandler(contactService)
}

func provideMessagesHandler(dispatcher *outbound.Dispatcher) *handlers.MessagesHandler {
	return handlers.NewMessagesHandler(dispatcher)
}

func provideWebhookHandler(log *slog.Logger, pipeline *ingest.Pipeline, cfg config.Config) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, pipeline, cfg.Meta)
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.ServerHandlers...)
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	fmt.Printf("Starting Kanal %s\n", version.Info())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
