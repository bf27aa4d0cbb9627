package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/sharetube/watchroom/internal/service/room"
	"github.com/sharetube/watchroom/pkg/client"
	"github.com/sharetube/watchroom/pkg/protocol"
	"github.com/sharetube/watchroom/pkg/syncengine"
)

type config struct {
	server   string
	room     string
	name     string
	isHost   bool
	video    string
	videoURL string
	duration float64
	interval time.Duration
	logLevel string
}

func parseFlags() *config {
	cfg := &config{}
	pflag.StringVar(&cfg.server, "server", "http://localhost:8080", "Server base URL")
	pflag.StringVar(&cfg.room, "room", "", "Room code, generated when hosting without one")
	pflag.StringVar(&cfg.name, "name", "", "Display name")
	pflag.BoolVar(&cfg.isHost, "host", false, "Join as the host")
	pflag.StringVar(&cfg.video, "video", "", "Video file to upload and publish (host)")
	pflag.StringVar(&cfg.videoURL, "video-url", "", "Already hosted video to publish (host)")
	pflag.Float64Var(&cfg.duration, "duration", 0, "Length of the virtual video in seconds, 0 for unbounded")
	pflag.DurationVar(&cfg.interval, "interval", time.Second, "How often the host reports its position")
	pflag.StringVar(&cfg.logLevel, "log-level", "INFO", "Logging level")
	pflag.Parse()

	return cfg
}

func main() {
	cfg := parseFlags()

	logLevel := slog.LevelInfo
	if err := logLevel.UnmarshalText([]byte(strings.ToUpper(cfg.logLevel))); err != nil {
		log.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	if cfg.name == "" {
		log.Fatal("--name is required")
	}
	if cfg.room == "" {
		if !cfg.isHost {
			log.Fatal("--room is required to join as a participant")
		}
		cfg.room = room.GenerateCode()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("client stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config, logger *slog.Logger) error {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	c, err := client.Dial(dialCtx, cfg.server)
	if err != nil {
		return err
	}
	defer c.Close()

	checked, err := c.CheckRoom(ctx, cfg.room)
	if err != nil {
		return fmt.Errorf("failed to check room: %w", err)
	}
	logger.Info("room checked", "room", cfg.room, "exists", checked.Exists, "has_host", checked.HasHost)

	joined, err := c.JoinRoom(ctx, cfg.room, cfg.name, cfg.isHost)
	if err != nil {
		return fmt.Errorf("failed to join room: %w", err)
	}
	logger.Info("joined room", "room", cfg.room, "members", len(joined.Members))

	media := syncengine.NewVirtualMedia(nil)
	media.SetDuration(cfg.duration)

	if cfg.isHost {
		return runHost(ctx, c, cfg, media, logger)
	}

	return runParticipant(ctx, c, media, logger)
}

func logEvent(logger *slog.Logger, ev protocol.Event) {
	switch ev.Type {
	case protocol.TypeUserJoined, protocol.TypeUserLeft:
		members, err := client.Decode[protocol.Members](ev)
		if err != nil {
			logger.Warn("bad event", "error", err)
			return
		}
		names := make([]string, 0, len(members.Members))
		for _, m := range members.Members {
			if m.IsHost {
				names = append(names, m.DisplayName+" (host)")
			} else {
				names = append(names, m.DisplayName)
			}
		}
		logger.Info("members changed", "members", strings.Join(names, ", "))
	case protocol.TypeUploadProgress:
		progress, err := client.Decode[protocol.UploadProgress](ev)
		if err != nil {
			return
		}
		logger.Info("upload progress", "percent", progress.ProgressPercent, "uploaded", progress.UploadedBytes, "total", progress.TotalBytes)
	case protocol.TypeUploadRejected:
		rejected, _ := client.Decode[protocol.UploadRejected](ev)
		logger.Warn("upload rejected", "message", rejected.Message)
	case protocol.TypeError:
		payload, _ := client.Decode[protocol.ErrorPayload](ev)
		logger.Warn("server error", "code", payload.Code, "message", payload.Message)
	case protocol.TypeRoomClosed:
		closed, _ := client.Decode[protocol.RoomClosed](ev)
		logger.Warn("room closed", "reason", closed.Reason)
	default:
		logger.Debug("event", "type", ev.Type, "payload", string(ev.Payload))
	}
}

func runHost(ctx context.Context, c *client.Client, cfg *config, media *syncengine.VirtualMedia, logger *slog.Logger) error {
	go func() {
		for ev := range c.Events() {
			logEvent(logger, ev)
		}
	}()

	videoURL := cfg.videoURL
	if cfg.video != "" {
		uploaded, err := uploadFile(ctx, c, cfg.video)
		if err != nil {
			return err
		}
		videoURL = uploaded
	}

	if videoURL == "" {
		return errors.New("host needs --video or --video-url")
	}

	if err := c.PublishVideo(ctx, videoURL); err != nil {
		return err
	}
	logger.Info("video published", "url", videoURL)

	_ = media.Play()

	ticker := time.NewTicker(cfg.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return c.Leave(context.Background())
		case <-c.Done():
			return c.Err()
		case <-ticker.C:
			state := protocol.PlaybackState{
				IsPlaying:   !media.Paused(),
				CurrentTime: media.CurrentTime(),
			}
			if err := c.SendPlaybackState(ctx, state); err != nil {
				return err
			}
			logger.Debug("position sent", "current_time", state.CurrentTime)
		}
	}
}

func uploadFile(ctx context.Context, c *client.Client, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open video: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat video: %w", err)
	}

	started, err := c.StartUpload(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to start upload: %w", err)
	}

	return c.Upload(ctx, started.UploadToken, filepath.Base(path), f, info.Size())
}

func runParticipant(ctx context.Context, c *client.Client, media *syncengine.VirtualMedia, logger *slog.Logger) error {
	engine := syncengine.New(media)
	// loading is set between a new video and its first state, the moment
	// the media becomes ready to catch up.
	loading := false

	for {
		select {
		case <-ctx.Done():
			return c.Leave(context.Background())
		case ev, ok := <-c.Events():
			if !ok {
				if c.CloseStatus() == protocol.CloseRoomClosed {
					return nil
				}
				return c.Err()
			}

			switch ev.Type {
			case protocol.TypeVideoUploaded:
				uploaded, err := client.Decode[protocol.VideoUploaded](ev)
				if err != nil {
					return err
				}
				engine.Reset()
				media.Pause()
				media.Seek(0)
				logger.Info("video loaded", "url", uploaded.VideoURL)
				loading = true
			case protocol.TypeVideoStateChange:
				state, err := client.Decode[protocol.PlaybackState](ev)
				if err != nil {
					return err
				}
				before := engine.Stats()
				engine.Apply(syncengine.State{IsPlaying: state.IsPlaying, CurrentTime: state.CurrentTime})
				if loading {
					engine.MediaReady()
					loading = false
				}
				after := engine.Stats()
				if after != before {
					logger.Info("playback corrected",
						"host_time", state.CurrentTime,
						"local_time", media.CurrentTime(),
						"seeks", after.Seeks,
						"pauses", after.Pauses,
						"resumes", after.Resumes,
					)
				}
			default:
				logEvent(logger, ev)
			}
		}
	}
}
