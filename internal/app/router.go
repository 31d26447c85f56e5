package app

import (
	"toefl_assess_backend/internal/config"
	"toefl_assess_backend/internal/middleware"
	"toefl_assess_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	router.GET("/metrics", monitoring.PrometheusHandler())

	// 认证探针：带合法令牌返回服务标识，否则401
	router.GET("/ping/", middleware.AuthMiddleware(cfg), c.exam.Ping)

	a.registerPublicRoutes(router, c)

	// 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		a.registerExamRoutes(authGroup, c)
	}
}

func (a *App) registerPublicRoutes(router *gin.Engine, c *controllers) {
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/register", c.auth.Register)
		public.POST("/login", c.auth.Login)
	}
}

func (a *App) registerExamRoutes(rg *gin.RouterGroup, c *controllers) {
	rg.GET("/profile", c.auth.GetProfile)

	// 提交与评测
	rg.POST("/submit-writing/", c.exam.SubmitWriting)
	rg.POST("/submit-listening/", c.exam.SubmitListening)
	rg.GET("/submission-status/:submissionID/", c.exam.SubmissionStatus)
	rg.GET("/submissions/:submissionID/", c.exam.SubmissionDetail)
	rg.GET("/dashboard/", c.exam.Dashboard)

	// 考试辅助
	rg.GET("/exam/topics/", c.exam.Topics)
	rg.POST("/exam/audio/upload", c.exam.UploadAudio)
}
