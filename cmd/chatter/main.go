package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/bdobrica/Chatter/common/environment"
	"github.com/bdobrica/Chatter/common/version"
	"github.com/bdobrica/Chatter/internal/chatter/app"
	"github.com/bdobrica/Chatter/internal/chatter/confirm"
	"github.com/bdobrica/Chatter/internal/chatter/llm"
	"github.com/bdobrica/Chatter/internal/chatter/matrix"
	"github.com/bdobrica/Chatter/internal/chatter/observability"
	"github.com/bdobrica/Chatter/internal/chatter/orchestrator"
	"github.com/bdobrica/Chatter/internal/chatter/session"
)

func main() {
	fmt.Printf("Chatter\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	logger := observability.Setup(
		environment.StringOr("LOG_LEVEL", "info"),
		environment.StringOr("LOG_FORMAT", "text"),
	)

	config, err := loadConfig(logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	chatter, err := app.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Chatter: %v\n", err)
		os.Exit(1)
	}
	defer chatter.Stop()

	if err := chatter.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running Chatter: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from environment variables
func loadConfig(logger *slog.Logger) (*app.Config, error) {
	var matrixCfg matrix.Config
	required := []struct {
		name string
		dst  *string
	}{
		{"MATRIX_HOMESERVER", &matrixCfg.Homeserver},
		{"MATRIX_USER_ID", &matrixCfg.UserID},
		{"MATRIX_ACCESS_TOKEN", &matrixCfg.AccessToken},
	}
	for _, r := range required {
		v, err := environment.RequiredString(r.name)
		if err != nil {
			return nil, err
		}
		*r.dst = v
	}
	matrixCfg.Rooms = environment.StringSliceOr("CHATTER_ROOMS", nil)

	return &app.Config{
		DatabasePath:     environment.StringOr("DATABASE_PATH", "./chatter.db"),
		GuildID:          environment.StringOr("CHATTER_GUILD_ID", ""),
		Matrix:           matrixCfg,
		APIKey:           environment.StringOr("CHATTER_API_KEY", ""),
		APIBase:          environment.StringOr("CHATTER_API_BASE", llm.DefaultBaseURL),
		Model:            environment.StringOr("CHATTER_MODEL", llm.DefaultModel),
		MaxOutputTokens:  environment.IntOr("CHATTER_MAX_OUTPUT_TOKENS", orchestrator.DefaultMaxOutputTokens),
		MessageLimit:     environment.IntOr("CHATTER_MESSAGE_LIMIT", orchestrator.DefaultMessageLimit),
		ContinueTimeout:  environment.DurationOr("CHATTER_CONTINUE_TIMEOUT", session.DefaultContinueTimeout),
		ConfirmTimeout:   environment.DurationOr("CHATTER_CONFIRM_TIMEOUT", confirm.DefaultTTL),
		RateLimit:        environment.IntOr("CHATTER_RATE_LIMIT", llm.DefaultRateLimit),
		DailyTokenBudget: environment.IntOr("CHATTER_DAILY_TOKEN_BUDGET", llm.DefaultDailyTokenBudget),
		PersonasFile:     environment.StringOr("CHATTER_PERSONAS_FILE", ""),
		HTTPAddr:         environment.StringOr("HTTP_ADDR", ""),
		Logger:           logger,
	}, nil
}
