package controller

import (
	"net/http"

	"starmus-recorder/conf"
	"starmus-recorder/controller/handler"
	"starmus-recorder/controller/middleware"
	"starmus-recorder/controller/respond"
	recorderDocs "starmus-recorder/docs/recorder"
	"starmus-recorder/logging"
	"starmus-recorder/service/upload_service"
	"starmus-recorder/storage"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// RouterDeps everything the HTTP layer needs
type RouterDeps struct {
	Config        *conf.Config
	UploadService *upload_service.UploadService
	Storage       storage.Storage
	Auth          *middleware.TokenAuthenticator
	Logger        *logging.Logger
}

// SetupRouter setup recorder service router
func SetupRouter(deps RouterDeps) *gin.Engine {
	cfg := deps.Config
	if cfg.Server.SwaggerBaseUrl != "" {
		recorderDocs.SwaggerInforecorder.Host = cfg.Server.SwaggerBaseUrl
	}

	r := gin.New()
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.Recovery(deps.Logger))

	allowOrigins := cfg.Server.AllowOrigins
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"*"}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Content-Encoding", "Accept-Encoding", "Authorization", "Accept", "Cache-Control", "X-Requested-With", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", "Content-Type", "Retry-After", middleware.RequestIDHeader},
		AllowCredentials: !containsWildcard(allowOrigins),
		MaxAge:           12 * 3600, // 12 hours
	}))

	r.Use(respond.TimingMiddleware())

	uploadHandler := handler.NewUploadHandler(deps.UploadService, cfg.Uploader.MaxFileSize, deps.Logger)
	requireUpload := middleware.RequireCapability(deps.Auth, upload_service.CapabilityUploadFiles)

	v1 := r.Group("/api/v1")
	v1.Use(requireUpload)
	{
		v1.POST("/upload-chunk", uploadHandler.UploadChunk)
		v1.POST("/upload-fallback", uploadHandler.UploadFallback)
		v1.GET("/status/:id", uploadHandler.GetStatus)
		v1.POST("/recordings/:id/annotations", uploadHandler.SaveAnnotations)
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		respond.Success(c, respond.HealthResponse{Status: "ok", Storage: deps.Storage.Type()})
	})

	// Swagger documentation
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler,
		ginSwagger.InstanceName(recorderDocs.SwaggerInforecorder.InstanceName())))

	// Promoted media, local storage only
	if local, ok := deps.Storage.(*storage.LocalStorage); ok {
		r.StaticFS("/media", http.Dir(local.BasePath()))
	}

	return r
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
