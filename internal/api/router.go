package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/corralhq/corral/internal/auth"
	"github.com/corralhq/corral/internal/middleware"
	"github.com/corralhq/corral/internal/services"
	"github.com/corralhq/corral/pkg/response"
)

// Services bundles everything the HTTP surface exposes.
type Services struct {
	Tokens          *auth.TokenService
	Auth            *services.AuthService
	Resources       *services.ResourceService
	Schemas         *services.SchemaService
	Permissions     *services.PermissionService
	Events          *services.EventService
	Locks           *services.LockService
	Users           *services.UserService
	Groups          *services.GroupService
	ServiceAccounts *services.ServiceAccountService
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(svc Services) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.Metrics())

	engine.GET("/healthz", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authHandler := &AuthHandler{auth: svc.Auth}
	engine.POST("/api/auth/login", authHandler.Login)
	engine.POST("/api/auth/refresh", authHandler.Refresh)

	api := engine.Group("/api", middleware.RequireAuth(svc.Tokens))

	resources := &ResourceHandler{resources: svc.Resources}
	rg := api.Group("/resources", middleware.ParseFencing())
	rg.POST("", resources.Create)
	rg.GET("", resources.List)
	rg.GET("/:id", resources.Get)
	rg.PATCH("/:id", resources.Update)
	rg.DELETE("/:id", resources.Delete)

	schemas := &SchemaHandler{schemas: svc.Schemas}
	sg := api.Group("/schemas")
	sg.POST("", schemas.Create)
	sg.GET("", schemas.List)
	sg.GET("/:id", schemas.Get)
	sg.PATCH("/:id", schemas.Update)
	sg.DELETE("/:id", schemas.Delete)

	permissions := &PermissionHandler{permissions: svc.Permissions}
	pg := api.Group("/permissions")
	pg.POST("/share", permissions.Share)
	pg.POST("/unshare", permissions.Unshare)
	pg.GET("/check", permissions.Check)
	pg.GET("/resources/:id", permissions.List)
	pg.GET("/resources/:id/principals/:principal", permissions.Get)

	events := &EventHandler{events: svc.Events}
	eg := api.Group("/events")
	eg.POST("", events.Publish)
	eg.GET("", events.List)
	eg.GET("/subscribe", events.Subscribe)

	locks := &LockHandler{locks: svc.Locks}
	lg := api.Group("/locks")
	lg.GET("/:id", locks.Acquire)
	lg.GET("/:id/try", locks.TryAcquire)
	lg.GET("/:id/fencing", locks.CheckFencing)

	users := &UserHandler{users: svc.Users}
	ug := api.Group("/users")
	ug.POST("", users.Create)
	ug.GET("", users.List)
	ug.GET("/:id", users.Get)
	ug.PATCH("/:id", users.Update)
	ug.DELETE("/:id", users.Delete)

	groups := &GroupHandler{groups: svc.Groups}
	gg := api.Group("/groups")
	gg.POST("", groups.Create)
	gg.GET("", groups.List)
	gg.GET("/:id", groups.Get)
	gg.DELETE("/:id", groups.Delete)
	gg.GET("/:id/members", groups.Members)
	gg.POST("/:id/members", groups.AddMember)
	gg.DELETE("/:id/members/:userId", groups.RemoveMember)

	accounts := &ServiceAccountHandler{accounts: svc.ServiceAccounts}
	ag := api.Group("/service-accounts", middleware.RequireAdmin())
	ag.POST("", accounts.Create)
	ag.GET("", accounts.List)
	ag.GET("/:id", accounts.Get)
	ag.DELETE("/:id", accounts.Delete)

	return engine
}
