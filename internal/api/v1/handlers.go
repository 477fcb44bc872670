package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to existing controllers to keep behavior consistent
	"github.com/ManuelReschke/PayFox/app/controllers"
	"github.com/ManuelReschke/PayFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PayFox/internal/pkg/statistics"
)

// Pong is the ping response body.
type Pong struct {
	Ping string `json:"ping"`
}

// APIServer implements the public v1 surface
type APIServer struct{}

// NewAPIServer creates a new API server instance
func NewAPIServer() *APIServer {
	return &APIServer{}
}

// RegisterHandlers attaches the v1 routes to the given router group.
func RegisterHandlers(r fiber.Router, s *APIServer) {
	r.Get("/ping", s.GetPing)
	r.Get("/stats/webhooks", s.GetWebhookStats)
	r.Get("/stats/summary", s.GetStatsSummary)
	r.Post("/webhooks/:provider", s.PostProviderWebhook)
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	response := Pong{
		Ping: "pong",
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

// GetWebhookStats returns per-provider delivery outcome counters.
func (s *APIServer) GetWebhookStats(c *fiber.Ctx) error {
	totals, err := counter.Totals()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats_unavailable"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"outcomes": totals})
}

// GetStatsSummary returns cached settlement aggregates.
func (s *APIServer) GetStatsSummary(c *fiber.Ctx) error {
	data := statistics.GetStatistics()
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"payments_total":       data.TotalPayments,
		"payments_today":       data.TodayPayments,
		"subscriptions_active": data.ActiveSubscriptions,
		"users_total":          data.TotalUsers,
	})
}

// PostProviderWebhook is the provider-facing delivery endpoint. Delegates to
// the webhook controller for consistent response shape.
func (s *APIServer) PostProviderWebhook(c *fiber.Ctx) error {
	return controllers.HandleProviderWebhook(c)
}
