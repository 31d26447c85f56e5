package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"toefl_assess_backend/internal/config"
	"toefl_assess_backend/internal/controller"
	"toefl_assess_backend/internal/repository"
	"toefl_assess_backend/internal/service"
	"toefl_assess_backend/pkg/database"
	"toefl_assess_backend/pkg/logger"
	"toefl_assess_backend/pkg/monitoring"
	"toefl_assess_backend/pkg/security"
	"toefl_assess_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config   *config.Config
	Router   *gin.Engine
	DB       *gorm.DB
	Redis    *redis.Client
	services *services
}

type repositories struct {
	user       *repository.UserRepository
	submission *repository.SubmissionRepository
}

type services struct {
	auth    *service.AuthService
	storage *service.StorageService
	exam    *service.ExamService
	worker  *service.AssessWorker
}

type controllers struct {
	auth   *controller.AuthController
	exam   *controller.ExamController
	health *controller.HealthController
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		user:       repository.NewUserRepository(db),
		submission: repository.NewSubmissionRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, rdb *redis.Client) *services {
	worker := service.NewAssessWorker(cfg.Assessment.Workers, cfg.Assessment.QueueSize)
	ai := service.NewAIService(cfg.AI)

	// 接口里包一个nil指针不等于nil接口，降级时必须显式传nil
	var quota service.QuotaCounter
	if rdb != nil {
		quota = rdb
	}

	return &services{
		auth:    service.NewAuthService(repos.user, cfg),
		storage: service.NewStorageService(cfg),
		exam:    service.NewExamService(repos.submission, ai, worker, quota, cfg),
		worker:  worker,
	}
}

func (a *App) initControllers(s *services, cfg *config.Config, db *gorm.DB) *controllers {
	return &controllers{
		auth:   controller.NewAuthController(s.auth),
		exam:   controller.NewExamController(s.exam, s.storage, cfg),
		health: controller.NewHealthController(db),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	maxRequests := cfg.RateLimit.MaxRequests
	if maxRequests <= 0 {
		maxRequests = 1000
	}
	windowMinutes := cfg.RateLimit.WindowMinutes
	if windowMinutes <= 0 {
		windowMinutes = 1
	}
	router.Use(security.RateLimiter(maxRequests, time.Duration(windowMinutes)*time.Minute))

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	if cfg.ForceMigrate || cfg.MigrateOnly {
		if err := database.Migrate(db); err != nil {
			logger.Log.Fatal("Failed to run migrations", zap.Error(err))
		}
		logger.Log.Info("Database migration completed")
		if cfg.MigrateOnly {
			os.Exit(0)
		}
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		// Redis只承担每日限额计数，连不上时降级运行
		logger.Log.Error("Failed to initialize redis, quota checks disabled", zap.Error(err))
		rdb = nil
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	repos := app.initRepositories(db)
	services := app.initServices(repos, cfg, rdb)
	app.services = services
	controllers := app.initControllers(services, cfg, db)

	monitoring.Init()

	gin.SetMode(cfg.Server.Mode)
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		if _, err := tracing.InitTracer(cfg.Server.Name, cfg.Tracing.CollectorEndpoint); err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
	}

	app.registerRoutes(router, controllers, cfg)

	if cfg.Storage.Type == "local" {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}

	services.worker.Start()

	return app
}

// ApplyConfig 热更新可以安全在运行时切换的配置项。
// 服务端口、数据库连接等需要重启才生效
func (a *App) ApplyConfig(newCfg *config.Config) {
	a.Config.Assessment.EnforceEnglish = newCfg.Assessment.EnforceEnglish
	a.Config.Assessment.LiveSpeaking = newCfg.Assessment.LiveSpeaking
	a.Config.Assessment.DailyLimit = newCfg.Assessment.DailyLimit
	logger.Log.Info("Config reloaded",
		zap.Bool("enforceEnglish", newCfg.Assessment.EnforceEnglish),
		zap.Bool("liveSpeaking", newCfg.Assessment.LiveSpeaking),
		zap.Int("dailyLimit", newCfg.Assessment.DailyLimit))
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	// 先停HTTP再停工作池，队列里的评测任务跑完才退出
	if a.services != nil && a.services.worker != nil {
		a.services.worker.Stop()
	}

	logger.Log.Sync()
	log.Println("Server exiting")
}
