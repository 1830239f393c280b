package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"braillescan/internal/bootstrap"
	"braillescan/internal/transport/http/handler"
	"braillescan/internal/transport/http/middleware"
)

type Routes struct {
	Braille *handler.BrailleHandler
	Blobs   *handler.BlobHandler
	// Health is optional so the API can be mounted without a full App.
	Health *handler.HealthHandler

	BlobSigningSecret string
	AllowedOrigins    []string
	Logger            zerolog.Logger
}

func NewRouter(app *bootstrap.App) http.Handler {
	gin.SetMode(app.Config.App.GinMode)
	return NewHandler(Routes{
		Braille:           handler.NewBrailleHandler(app.BrailleService, app.Config.App.MaxUploadBytes),
		Blobs:             handler.NewBlobHandler(app.Bucket),
		Health:            handler.NewHealthHandler(app),
		BlobSigningSecret: app.Bucket.SigningSecret(),
		AllowedOrigins:    app.Config.CORS.AllowedOrigins,
		Logger:            *app.Logger,
	})
}

// NewHandler mounts the routes on a gin engine and wraps it with CORS.
func NewHandler(r Routes) http.Handler {
	router := gin.New()
	router.Use(middleware.RequestLogger(r.Logger), middleware.Recovery(r.Logger))

	if r.Health != nil {
		router.GET("/healthz", r.Health.Check)
	}
	router.GET("/blobs/*key", middleware.BlobToken(r.BlobSigningSecret), r.Blobs.Get)

	api := router.Group("/api")
	api.POST("/create-session", r.Braille.CreateSession)
	api.POST("/process-braille", r.Braille.ProcessBraille)
	api.GET("/session/:session_id/results", r.Braille.GetSessionResults)

	origins := r.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	})(router)
}
