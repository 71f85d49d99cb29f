package handler

import (
	"github.com/gin-gonic/gin"

	"panelbridge/internal/microservices/http-api/middleware"
	"panelbridge/internal/microservices/http-api/repository"
	"panelbridge/internal/microservices/http-api/service"
)

// Routes collects what the REST surface needs. Tokens and Logs may be nil.
type Routes struct {
	Relay  RelayService
	Tokens service.TokenService
	// RequirePanelToken puts POST /api/commands behind a panel token
	RequirePanelToken bool
	AdminUser         string
	AdminPasswordHash string
	Logs              repository.CommandLogRepository
}

// Mount registers /healthz and the /api group. Admin routes exist only
// when admin credentials are configured.
func Mount(r *gin.Engine, routes Routes) {
	relayHandler := NewRelayHandler(routes.Relay)
	r.GET("/healthz", relayHandler.Healthz)

	api := r.Group("/api")
	relayHandler.RegisterRoutes(api)

	if routes.RequirePanelToken && routes.Tokens != nil {
		api.POST("/commands", middleware.PanelAuth(routes.Tokens), relayHandler.PostCommand)
	} else {
		api.POST("/commands", relayHandler.PostCommand)
	}

	if routes.AdminUser != "" && routes.AdminPasswordHash != "" {
		admin := api.Group("", middleware.AdminBasicAuth(routes.AdminUser, routes.AdminPasswordHash))
		NewAdminHandler(routes.Tokens, routes.Logs).RegisterRoutes(admin)
	}
}
