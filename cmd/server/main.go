package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sharetube/watchroom/internal/app"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
	usage        string
}

var (
	secret = configVar[string]{
		envKey:       "SERVER_SECRET",
		flagKey:      "secret",
		defaultValue: "",
		usage:        "Server secret used to sign upload tokens",
	}
	port = configVar[int]{
		envKey:       "SERVER_PORT",
		flagKey:      "port",
		defaultValue: 8080,
		usage:        "Server port",
	}
	host = configVar[string]{
		envKey:       "SERVER_HOST",
		flagKey:      "host",
		defaultValue: "0.0.0.0",
		usage:        "Server host",
	}
	logLevel = configVar[string]{
		envKey:       "SERVER_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
		usage:        "Logging level",
	}
	membersLimit = configVar[int]{
		envKey:       "SERVER_MEMBERS_LIMIT",
		flagKey:      "members-limit",
		defaultValue: 50,
		usage:        "Maximum number of members in a room",
	}
	uploadDir = configVar[string]{
		envKey:       "SERVER_UPLOAD_DIR",
		flagKey:      "upload-dir",
		defaultValue: "./uploads",
		usage:        "Directory for uploaded videos",
	}
	publicURL = configVar[string]{
		envKey:       "SERVER_PUBLIC_URL",
		flagKey:      "public-url",
		defaultValue: "",
		usage:        "Public base URL used in links to uploaded videos",
	}
	maxUploadSize = configVar[int]{
		envKey:       "SERVER_MAX_UPLOAD_SIZE",
		flagKey:      "max-upload-size",
		defaultValue: 2048,
		usage:        "Maximum upload size in MiB",
	}
	redisHost = configVar[string]{
		envKey:       "REDIS_HOST",
		flagKey:      "redis-host",
		defaultValue: "",
		usage:        "Redis host, empty disables join rate limiting",
	}
	redisPort = configVar[int]{
		envKey:       "REDIS_PORT",
		flagKey:      "redis-port",
		defaultValue: 6379,
		usage:        "Redis port",
	}
	redisPassword = configVar[string]{
		envKey:       "REDIS_PASSWORD",
		flagKey:      "redis-password",
		defaultValue: "",
		usage:        "Redis password",
	}
	joinRateLimit = configVar[int]{
		envKey:       "SERVER_JOIN_RATE_LIMIT",
		flagKey:      "join-rate-limit",
		defaultValue: 30,
		usage:        "Check and join requests allowed per client address per window",
	}
	joinRateWindow = configVar[time.Duration]{
		envKey:       "SERVER_JOIN_RATE_WINDOW",
		flagKey:      "join-rate-window",
		defaultValue: time.Minute,
		usage:        "Join rate limit window",
	}
)

func bindString(v configVar[string]) {
	pflag.String(v.flagKey, v.defaultValue, v.usage)
	viper.BindEnv(v.flagKey, v.envKey)
	viper.SetDefault(v.flagKey, v.defaultValue)
}

func bindInt(v configVar[int]) {
	pflag.Int(v.flagKey, v.defaultValue, v.usage)
	viper.BindEnv(v.flagKey, v.envKey)
	viper.SetDefault(v.flagKey, v.defaultValue)
}

func bindDuration(v configVar[time.Duration]) {
	pflag.Duration(v.flagKey, v.defaultValue, v.usage)
	viper.BindEnv(v.flagKey, v.envKey)
	viper.SetDefault(v.flagKey, v.defaultValue)
}

func loadAppConfig() *app.AppConfig {
	bindString(secret)
	bindInt(port)
	bindString(host)
	bindString(logLevel)
	bindInt(membersLimit)
	bindString(uploadDir)
	bindString(publicURL)
	bindInt(maxUploadSize)
	bindString(redisHost)
	bindInt(redisPort)
	bindString(redisPassword)
	bindInt(joinRateLimit)
	bindDuration(joinRateWindow)
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	config := &app.AppConfig{
		Secret:         viper.GetString(secret.flagKey),
		Host:           viper.GetString(host.flagKey),
		Port:           viper.GetInt(port.flagKey),
		LogLevel:       viper.GetString(logLevel.flagKey),
		MembersLimit:   viper.GetInt(membersLimit.flagKey),
		UploadDir:      viper.GetString(uploadDir.flagKey),
		PublicURL:      viper.GetString(publicURL.flagKey),
		MaxUploadSize:  viper.GetInt64(maxUploadSize.flagKey),
		RedisHost:      viper.GetString(redisHost.flagKey),
		RedisPort:      viper.GetInt(redisPort.flagKey),
		RedisPassword:  viper.GetString(redisPassword.flagKey),
		JoinRateLimit:  viper.GetInt(joinRateLimit.flagKey),
		JoinRateWindow: viper.GetDuration(joinRateWindow.flagKey),
	}

	return config
}

func main() {
	ctx := context.Background()

	// .env is optional
	_ = godotenv.Load()

	appConfig := loadAppConfig()
	if err := appConfig.Validate(); err != nil {
		log.Fatalf("invalid config: %s", err)
	}

	jsonConfig, _ := json.MarshalIndent(appConfig, "", "  ")
	fmt.Printf("starting app with config: %s\n", jsonConfig)

	log.Fatal(app.Run(ctx, appConfig))
}
