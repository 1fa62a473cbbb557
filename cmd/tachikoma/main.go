package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/bdobrica/Tachikoma/common/crypto"
	"github.com/bdobrica/Tachikoma/common/environment"
	"github.com/bdobrica/Tachikoma/common/version"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/app"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/matrix"
)

func main() {
	fmt.Printf("Tachikoma Dispatcher\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	// A local .env is a development convenience; in production the process
	// environment is the source of truth.
	if err := godotenv.Load(); err == nil {
		fmt.Println("loaded configuration from .env")
	}

	config, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	tachikoma, err := app.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Tachikoma: %v\n", err)
		os.Exit(1)
	}
	defer tachikoma.Stop()

	if err := tachikoma.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running Tachikoma: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from environment variables and fails fast on
// anything required but missing.
func loadConfig() (*app.Config, error) {
	rawKey, err := environment.RequiredString("TACHIKOMA_MASTER_KEY")
	if err != nil {
		return nil, fmt.Errorf("%w\nGenerate a key with: openssl rand -hex 32", err)
	}
	masterKey, err := crypto.ParseMasterKey(rawKey)
	if err != nil {
		return nil, err
	}

	nlpAPIKey, err := environment.RequiredString("TACHIKOMA_NLP_API_KEY")
	if err != nil {
		return nil, err
	}
	qnaEndpoint, err := environment.RequiredString("TACHIKOMA_QNA_ENDPOINT")
	if err != nil {
		return nil, err
	}

	config := &app.Config{
		DatabasePath:   environment.StringOr("DATABASE_PATH", "./tachikoma.db"),
		MasterKey:      masterKey,
		IntentPackPath: environment.StringOr("TACHIKOMA_INTENT_PACK", ""),
		HTTPAddr:       environment.StringOr("HTTP_ADDR", ":8080"),
		NLPAPIKey:      nlpAPIKey,
		NLPModel:       environment.StringOr("TACHIKOMA_NLP_MODEL", ""),
		NLPEndpoint:    environment.StringOr("TACHIKOMA_NLP_ENDPOINT", ""),
		NLPTimeout:     environment.DurationOr("TACHIKOMA_NLP_TIMEOUT", 0),
		QnAEndpoint:    qnaEndpoint,
		QnAAPIKey:      environment.StringOr("TACHIKOMA_QNA_API_KEY", ""),
		QnATimeout:     environment.DurationOr("TACHIKOMA_QNA_TIMEOUT", 0),
		Matrix: matrix.Config{
			Homeserver:  environment.StringOr("MATRIX_HOMESERVER", ""),
			UserID:      environment.StringOr("MATRIX_USER_ID", ""),
			AccessToken: environment.StringOr("MATRIX_ACCESS_TOKEN", ""),
			Rooms:       environment.StringSliceOr("MATRIX_ROOMS", nil),
		},
	}

	// Matrix is all-or-nothing: a partially configured channel is a
	// deployment mistake, not a webchat-only setup.
	if config.Matrix.Homeserver != "" {
		if config.Matrix.UserID == "" {
			return nil, fmt.Errorf("MATRIX_USER_ID is required when MATRIX_HOMESERVER is set")
		}
		if config.Matrix.AccessToken == "" {
			return nil, fmt.Errorf("MATRIX_ACCESS_TOKEN is required when MATRIX_HOMESERVER is set")
		}
		if len(config.Matrix.Rooms) == 0 {
			return nil, fmt.Errorf("MATRIX_ROOMS is required when MATRIX_HOMESERVER is set")
		}
	}

	return config, nil
}
