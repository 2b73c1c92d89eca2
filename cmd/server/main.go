package main

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tommh/minimba-project/config"
	"github.com/tommh/minimba-project/models"
	"github.com/tommh/minimba-project/services"
	"github.com/tommh/minimba-project/storage"
)

var pipelineRunsCounter prometheus.Counter
var importedRowsCounter prometheus.Counter

func init() {
	pipelineRunsCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Total number of completed pipeline runs.",
		},
	)
	importedRowsCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "certificates_imported_total",
			Help: "Total number of certificate rows imported from bulk files.",
		},
	)
	prometheus.MustRegister(pipelineRunsCounter, importedRowsCounter)
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
	if err := cfg.EnsureDirs(); err != nil {
		logging.Fatal("Storage setup failed", zap.Error(err))
	}

	db, err := storage.OpenDB(cfg)
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to certificate database.")

	archive, err := storage.NewArchive(cfg)
	if err != nil {
		logging.Fatal("Archive client creation failed", zap.Error(err))
	}

	pipeline := services.NewPipeline(cfg, db, archive, logging)

	runPipeline := func() {
		run := pipeline.Run(context.Background(), services.DefaultPipelineOptions())
		pipelineRunsCounter.Inc()
		for _, imp := range run.Imports {
			importedRowsCounter.Add(float64(imp.InsertedRows))
		}
	}

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	setupStatsRoutes(router, db, logging)
	setupCertificateRoutes(router, db, logging)
	setupAnswerRoutes(router, db, logging)
	setupPipelineRoutes(router, runPipeline, logging)

	// Setup Cron
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.CronSchedule, func() {
		logging.Info("Running scheduled pipeline...")
		runPipeline()
		logging.Info("Scheduled pipeline completed")
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

func setupStatsRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	stats := services.NewStatsService(db)
	router.GET("/stats", func(c *gin.Context) {
		result, err := stats.Collect()
		if err != nil {
			log.Error("Stats collection failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, result)
	})
}

func setupCertificateRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/certificates")

	rg.GET("/:attestnummer", func(c *gin.Context) {
		var detail models.CertificateDetail
		err := db.Where("attestnummer = ?", c.Param("attestnummer")).First(&detail).Error
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "certificate not found"})
			return
		}
		if err != nil {
			log.Error("Certificate query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, detail)
	})

	rg.POST("/query", func(c *gin.Context) {
		type CertificateQuery struct {
			Postnummer     string `json:"postnummer"`
			Energikarakter string `json:"energikarakter"`
			Poststed       string `json:"poststed"`
			Limit          int    `json:"limit"`
		}

		var req CertificateQuery
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		query := db.Model(&models.CertificateDetail{})
		if req.Postnummer != "" {
			query = query.Where("postnummer = ?", req.Postnummer)
		}
		if req.Energikarakter != "" {
			query = query.Where("energikarakter = ?", req.Energikarakter)
		}
		if req.Poststed != "" {
			query = query.Where("poststed = ?", req.Poststed)
		}
		limit := req.Limit
		if limit <= 0 || limit > 500 {
			limit = 100
		}

		var details []models.CertificateDetail
		if err := query.Limit(limit).Find(&details).Error; err != nil {
			log.Error("Certificate query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, details)
	})
}

func setupAnswerRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/answers")

	rg.GET("/", func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit <= 0 || limit > 500 {
			limit = 50
		}

		query := db.Model(&models.LlmAnswer{}).Order("id DESC").Limit(limit)
		if version := c.Query("version"); version != "" {
			query = query.Where("prompt_version = ?", version)
		}

		var answers []models.LlmAnswer
		if err := query.Find(&answers).Error; err != nil {
			log.Error("Answer query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, answers)
	})

	rg.GET("/file/:id", func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file id"})
			return
		}
		var answers []models.LlmAnswer
		if err := db.Where("file_id = ?", id).Find(&answers).Error; err != nil {
			log.Error("Answer query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, answers)
	})
}

func setupPipelineRoutes(router *gin.Engine, runPipeline func(), log *zap.Logger) {
	router.POST("/pipeline/run", func(c *gin.Context) {
		go func() {
			log.Info("Pipeline run triggered via API")
			runPipeline()
		}()
		c.JSON(http.StatusAccepted, gin.H{"status": "pipeline started"})
	})
}
