package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"paper-extract/config"
	"paper-extract/providers"
	"paper-extract/providers/dashscope"
	"paper-extract/storage"
)

// appEnv hält die Abhängigkeiten aller Unterbefehle.
type appEnv struct {
	cfg       *config.Config
	gateway   *storage.Gateway
	extractor providers.Extractor
	log       *zap.Logger
}

// env wird beim ersten Befehl aufgebaut, Tests setzen es vorab.
var env *appEnv

var rootCmd = &cobra.Command{
	Use:           "paperctl",
	Short:         "Ingest, extract and export paper metadata",
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if env != nil {
			return nil
		}
		e, err := newAppEnv()
		if err != nil {
			return err
		}
		env = e
		return nil
	},
}

func newAppEnv() (*appEnv, error) {
	logging, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("can't initialize zap logger: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config load error: %w", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	gateway := storage.NewGateway(db, logging)
	if err := gateway.Migrate(); err != nil {
		return nil, fmt.Errorf("auto-migration failed: %w", err)
	}

	return &appEnv{
		cfg:       cfg,
		gateway:   gateway,
		extractor: dashscope.NewClient(cfg, logging),
		log:       logging,
	}, nil
}
