package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sharetube/watchroom/internal/controller"
	"github.com/sharetube/watchroom/internal/relay"
	ratelimitRedis "github.com/sharetube/watchroom/internal/repository/ratelimit/redis"
	videofs "github.com/sharetube/watchroom/internal/repository/video/fs"
	"github.com/sharetube/watchroom/internal/service/room"
	"github.com/sharetube/watchroom/internal/service/upload"
	"github.com/sharetube/watchroom/pkg/ctxlogger"
	"github.com/sharetube/watchroom/pkg/protocol"
	"github.com/sharetube/watchroom/pkg/redisclient"
	"github.com/spf13/afero"
)

const shutdownReason = "Server is shutting down"

type AppConfig struct {
	Secret         string        `json:"-"`
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	LogLevel       string        `json:"log_level"`
	MembersLimit   int           `json:"members_limit"`
	UploadDir      string        `json:"upload_dir"`
	PublicURL      string        `json:"public_url"`
	MaxUploadSize  int64         `json:"max_upload_size"`
	RedisHost      string        `json:"redis_host"`
	RedisPort      int           `json:"redis_port"`
	RedisPassword  string        `json:"-"`
	JoinRateLimit  int           `json:"join_rate_limit"`
	JoinRateWindow time.Duration `json:"join_rate_window"`
}

func (cfg *AppConfig) Validate() error {
	if cfg.Secret == "" {
		return errors.New("secret must be set")
	}
	if cfg.MembersLimit < 1 {
		return fmt.Errorf("members limit must be greater than 0")
	}
	if cfg.MaxUploadSize < 1 {
		return fmt.Errorf("max upload size must be greater than 0")
	}
	if cfg.UploadDir == "" {
		return errors.New("upload dir must be set")
	}
	if cfg.RedisHost != "" {
		if cfg.JoinRateLimit < 1 {
			return fmt.Errorf("join rate limit must be greater than 0")
		}
		if cfg.JoinRateWindow <= 0 {
			return fmt.Errorf("join rate window must be positive")
		}
	}
	return nil
}

func newLogger(level string) (*slog.Logger, error) {
	logLevel := slog.LevelInfo
	if err := logLevel.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: true,
		}),
	}

	return slog.New(&h), nil
}

type app struct {
	handler http.Handler
	relay   *relay.Relay
	rooms   interface{ RoomsCount() int }
	rc      *redis.Client
	logger  *slog.Logger
}

func newApp(ctx context.Context, cfg *AppConfig, fs afero.Fs, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}

	var rateLimiter interface {
		Allow(ctx context.Context, key string) (bool, error)
	}
	if cfg.RedisHost != "" {
		rc, err := redisclient.NewRedisClient(ctx, &redisclient.Config{
			Port:     cfg.RedisPort,
			Host:     cfg.RedisHost,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		a.rc = rc
		rateLimiter = ratelimitRedis.NewRepo(rc, cfg.JoinRateLimit, cfg.JoinRateWindow)
	} else {
		logger.WarnContext(ctx, "redis host is not set, join rate limiting is disabled")
	}

	videoRepo, err := videofs.NewRepo(fs, cfg.UploadDir, strings.TrimSuffix(cfg.PublicURL, "/")+"/uploads")
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	a.relay = relay.New(relay.DefaultConfig(), logger)
	roomService := room.NewService(a.relay, logger, cfg.MembersLimit)
	a.rooms = roomService
	uploadService := upload.NewService(a.relay, videoRepo, cfg.Secret, logger)

	a.handler = controller.NewController(&controller.Params{
		RoomService:   roomService,
		UploadService: uploadService,
		Relay:         a.relay,
		RateLimiter:   rateLimiter,
		Videos:        videoRepo.Handler(),
		MaxUploadSize: cfg.MaxUploadSize << 20,
		Logger:        logger,
	}).GetMux()

	return a, nil
}

// close tells every connected client that the server is going away.
func (a *app) close(ctx context.Context) {
	if a.relay != nil {
		ids := a.relay.PeerIds()
		a.relay.Disconnect(ids, protocol.TypeRoomClosed, protocol.RoomClosed{Reason: shutdownReason}, "server shutdown")
		a.logger.InfoContext(ctx, "disconnected clients", "count", len(ids))
	}

	if a.rc != nil {
		a.rc.Close()
	}
}

func Run(ctx context.Context, cfg *AppConfig) error {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, afero.NewOsFs(), logger)
	if err != nil {
		return err
	}

	server := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Handler: a.handler}

	// graceful shutdown
	serverCtx, serverStopCtx := context.WithCancel(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sig

		shutdownCtx, c := context.WithTimeout(serverCtx, 30*time.Second)
		defer c()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				log.Fatal("graceful shutdown timed out.. forcing exit.")
			}
		}()

		// Hijacked websocket connections are not tracked by the server.
		a.close(shutdownCtx)

		err := server.Shutdown(shutdownCtx)
		if err != nil {
			log.Fatal(err)
		}
		serverStopCtx()
	}()

	logger.InfoContext(serverCtx, "starting server", "address", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	<-serverCtx.Done()

	return nil
}
