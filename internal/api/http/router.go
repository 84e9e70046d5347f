package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/helpdesk-mini/helpdesk/internal/api/http/handlers"
	"github.com/helpdesk-mini/helpdesk/internal/auth"
	"github.com/helpdesk-mini/helpdesk/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Users          *handlers.UsersHandler
	Tickets        *handlers.TicketsHandler
	Analytics      *handlers.AnalyticsHandler
	Stream         *handlers.StreamHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/health/metrics", cfg.AuthMiddleware.Handle, auth.RequireRole(domain.RoleAdmin), cfg.Health.Metrics)

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.AuthMiddleware.HandleOptional, cfg.Users.Register)
	authGroup.Post("/login", cfg.Users.Login)

	authProtected := authGroup.Group("", cfg.AuthMiddleware.Handle, auth.RequireAuthenticated())
	authProtected.Get("/me", cfg.Users.Me)
	authProtected.Post("/password/change", cfg.Users.ChangePassword)

	app.Get("/users/agents", cfg.AuthMiddleware.Handle, auth.RequireRole(domain.RoleAgent, domain.RoleAdmin), cfg.Users.Agents)

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle, auth.RequireAuthenticated())
	tickets.Post("", cfg.Tickets.CreateTicket)
	tickets.Get("", cfg.Tickets.ListTickets)
	tickets.Get("/analytics/stats", auth.RequireRole(domain.RoleAgent, domain.RoleAdmin), cfg.Analytics.Stats)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Patch("/:id/status", auth.RequireRole(domain.RoleAgent, domain.RoleAdmin), cfg.Tickets.UpdateStatus)
	tickets.Patch("/:id/priority", auth.RequireRole(domain.RoleAgent, domain.RoleAdmin), cfg.Tickets.UpdatePriority)
	tickets.Patch("/:id/assignee", auth.RequireRole(domain.RoleAgent, domain.RoleAdmin), cfg.Tickets.Assign)
	tickets.Post("/:id/comments", cfg.Tickets.AddComment)
	tickets.Delete("/:id", auth.RequireRole(domain.RoleAdmin), cfg.Tickets.DeleteTicket)

	app.Get("/stream", cfg.AuthMiddleware.Handle, cfg.Stream.Upgrade, cfg.Stream.Handle())
}
