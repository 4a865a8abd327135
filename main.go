package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"paper-extract/config"
	"paper-extract/models"
	"paper-extract/providers/dashscope"
	"paper-extract/services"
	"paper-extract/storage"
)

// server bündelt die Abhängigkeiten der HTTP-Handler.
type server struct {
	cfg        *config.Config
	gateway    *storage.Gateway
	pool       *services.CredentialPool
	extraction *services.ExtractionService
	log        *zap.Logger

	// Es läuft höchstens eine Extraktion gleichzeitig.
	runMu   sync.Mutex
	runs    sync.WaitGroup
	statsMu sync.Mutex
	last    *services.RunStats
	lastErr string
}

func newServer(cfg *config.Config, gateway *storage.Gateway, pool *services.CredentialPool, extraction *services.ExtractionService, log *zap.Logger) *server {
	return &server{cfg: cfg, gateway: gateway, pool: pool, extraction: extraction, log: log}
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to papers database.", zap.String("db", cfg.DBName))

	gateway := storage.NewGateway(db, logging)
	logging.Info("Running database auto-migration...")
	if err := gateway.Migrate(); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	pool := services.NewCredentialPool(gateway, cfg.ReservedTokenFloor, logging)
	if _, err := pool.SelectActive(context.Background()); err != nil {
		logging.Fatal("No usable credential, refusing to start", zap.Int64("floor", cfg.ReservedTokenFloor), zap.Error(err))
	}

	extractor := dashscope.NewClient(cfg, logging)
	extraction := services.NewExtractionService(gateway, pool, extractor, logging)
	srv := newServer(cfg, gateway, pool, extraction, logging)

	router := gin.Default()
	srv.setupRoutes(router)

	if cfg.CronSchedule != "" {
		cronScheduler := cron.New()
		_, err := cronScheduler.AddFunc(cfg.CronSchedule, func() {
			logging.Info("Running scheduled extraction job...")
			if !srv.runMu.TryLock() {
				logging.Warn("Extraction still running, skipping scheduled job")
				return
			}
			defer srv.runMu.Unlock()
			srv.runBatch(context.Background(), cfg.ExtractBatchSize)
		})
		if err != nil {
			logging.Fatal("Invalid cron schedule", zap.String("schedule", cfg.CronSchedule), zap.Error(err))
		}
		cronScheduler.Start()
		defer cronScheduler.Stop()
	}

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	httpSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := httpSrv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

func (s *server) setupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(s.cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.setupPaperRoutes(router)
	s.setupCredentialRoutes(router)
	s.setupExtractRoutes(router)
}

// runBatch wählt das Credential neu und verarbeitet bis zu limit offene Papers.
// Der Aufrufer hält runMu.
func (s *server) runBatch(ctx context.Context, limit int) {
	stats, err := s.startRun(ctx, limit)

	s.statsMu.Lock()
	s.last = &stats
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
	}
	s.statsMu.Unlock()

	if err != nil {
		if services.IsFatal(err) {
			s.log.Error("Extraction stopped, no credential left above the reserve", zap.Error(err))
			return
		}
		s.log.Error("Extraction run failed", zap.Error(err))
		return
	}
	s.log.Info("Extraction run completed",
		zap.String("run_id", stats.RunID),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed))
}

func (s *server) startRun(ctx context.Context, limit int) (services.RunStats, error) {
	if _, err := s.pool.SelectActive(ctx); err != nil {
		return services.RunStats{}, err
	}
	return s.extraction.Run(ctx, limit)
}

func (s *server) setupPaperRoutes(router *gin.Engine) {
	rg := router.Group("/papers")

	rg.GET("", func(c *gin.Context) {
		filter := storage.PaperFilter{Source: c.Query("source")}
		if v, ok := c.GetQuery("extracted"); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid extracted flag"})
				return
			}
			filter.Extracted = &b
		}
		if v, ok := c.GetQuery("locked"); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid locked flag"})
				return
			}
			filter.Locked = &b
		}
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			filter.Limit = n
		}

		papers, err := s.gateway.ListPapers(c.Request.Context(), filter)
		if err != nil {
			s.log.Error("Database query for papers failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, papers)
	})

	rg.GET("/:id", func(c *gin.Context) {
		id, ok := paperID(c)
		if !ok {
			return
		}
		paper, err := s.gateway.FindPaperByID(c.Request.Context(), id)
		if err != nil {
			s.storageError(c, "get paper", err)
			return
		}
		c.JSON(http.StatusOK, paper)
	})

	rg.POST("", func(c *gin.Context) {
		var rec models.IngestRecord
		if err := c.ShouldBindJSON(&rec); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}
		paper, err := s.gateway.UpsertPaper(c.Request.Context(), rec)
		if errors.Is(err, storage.ErrPaperLocked) {
			c.JSON(http.StatusConflict, gin.H{"error": "paper is locked", "paper": paper})
			return
		}
		if err != nil {
			s.storageError(c, "upsert paper", err)
			return
		}
		c.JSON(http.StatusOK, paper)
	})

	rg.PUT("/:id/lock", func(c *gin.Context) {
		id, ok := paperID(c)
		if !ok {
			return
		}
		var req struct {
			Locked *bool `json:"locked" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := s.gateway.SetPaperLocked(c.Request.Context(), id, *req.Locked); err != nil {
			s.storageError(c, "lock paper", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "locked": *req.Locked})
	})

	rg.DELETE("/:id", func(c *gin.Context) {
		id, ok := paperID(c)
		if !ok {
			return
		}
		if err := s.gateway.SoftDeletePaper(c.Request.Context(), id); err != nil {
			s.storageError(c, "delete paper", err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}

// credentialView zeigt ein Credential ohne Geheimnisse.
type credentialView struct {
	ID             uint     `json:"id"`
	Platform       string   `json:"platform"`
	Model          string   `json:"model"`
	RemainingQuota int64    `json:"remaining_quota"`
	Owner          string   `json:"owner"`
	SecretKeys     []string `json:"secret_keys"`
	Active         bool     `json:"active"`
}

func (s *server) setupCredentialRoutes(router *gin.Engine) {
	router.GET("/credentials", func(c *gin.Context) {
		creds, err := s.gateway.ListCredentials(c.Request.Context())
		if err != nil {
			s.log.Error("Database query for credentials failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		activeID := s.pool.ActiveID()
		views := make([]credentialView, 0, len(creds))
		for i := range creds {
			cred := &creds[i]
			views = append(views, credentialView{
				ID:             cred.ID,
				Platform:       cred.Platform,
				Model:          cred.Model,
				RemainingQuota: cred.RemainingQuota,
				Owner:          cred.Owner,
				SecretKeys:     cred.SecretKeys(),
				Active:         cred.ID == activeID,
			})
		}
		c.JSON(http.StatusOK, views)
	})
}

func (s *server) setupExtractRoutes(router *gin.Engine) {
	router.POST("/extract", func(c *gin.Context) {
		limit := s.cfg.ExtractBatchSize
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			limit = n
		}
		if !s.runMu.TryLock() {
			c.JSON(http.StatusConflict, gin.H{"error": "extraction already running"})
			return
		}

		s.runs.Add(1)
		go func() {
			defer s.runs.Done()
			defer s.runMu.Unlock()
			s.runBatch(context.Background(), limit)
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": "Extraction triggered.", "limit": limit})
	})

	router.GET("/extract", func(c *gin.Context) {
		running := !s.runMu.TryLock()
		if !running {
			s.runMu.Unlock()
		}
		s.statsMu.Lock()
		defer s.statsMu.Unlock()
		c.JSON(http.StatusOK, gin.H{
			"running":              running,
			"last_run":             s.last,
			"last_error":           s.lastErr,
			"active_credential_id": s.pool.ActiveID(),
		})
	})
}

func paperID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

func (s *server) storageError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "paper not found"})
	case errors.Is(err, storage.ErrConstraint):
		c.JSON(http.StatusConflict, gin.H{"error": "constraint violation"})
	default:
		s.log.Error("Database error", zap.String("op", op), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
	}
}
