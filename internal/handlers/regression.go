package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"playtrack/internal/models"
	"playtrack/internal/services"
)

// RegressionHandler exposes the regression-tracking engine over HTTP
type RegressionHandler struct {
	engine *services.RegressionService
	source services.SessionSource
}

// NewRegressionHandler creates a new regression handler. source may be nil
// when no upstream producer is configured; pull-based processing then
// returns 503.
func NewRegressionHandler(engine *services.RegressionService, source services.SessionSource) *RegressionHandler {
	return &RegressionHandler{engine: engine, source: source}
}

// ProcessSessionRequest is a pushed session with its findings inline
type ProcessSessionRequest struct {
	Session  models.Session   `json:"session"`
	Findings []models.Finding `json:"findings"`
}

// ProcessSession ingests a pushed session: POST /api/sessions/process
func (h *RegressionHandler) ProcessSession(c *fiber.Ctx) error {
	var req ProcessSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Session.ID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Session ID is required",
		})
	}

	report, err := h.engine.ProcessSession(c.Context(), &req.Session, req.Findings)
	if err != nil {
		if errors.Is(err, services.ErrStoreUnavailable) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Store unavailable",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process session",
		})
	}
	return c.JSON(report)
}

// ProcessFromSource pulls one session from the upstream producer and
// processes it: POST /api/sessions/:id/process
func (h *RegressionHandler) ProcessFromSource(c *fiber.Ctx) error {
	if h.source == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "No session source configured",
		})
	}
	sessionID := c.Params("id")

	sessions, err := h.source.ListSessions(c.Context())
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Session source unavailable",
		})
	}

	var session *models.Session
	for i := range sessions {
		if sessions[i].ID == sessionID {
			session = &sessions[i]
			break
		}
	}
	if session == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found",
		})
	}

	findings, err := h.source.GetFindings(c.Context(), sessionID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Session not found",
			})
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Session source unavailable",
		})
	}

	report, err := h.engine.ProcessSession(c.Context(), session, findings)
	if err != nil {
		if errors.Is(err, services.ErrStoreUnavailable) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Store unavailable",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process session",
		})
	}
	return c.JSON(report)
}

// ListSessions returns the session chronology oldest first, so dashboards
// can render build timelines: GET /api/sessions
func (h *RegressionHandler) ListSessions(c *fiber.Ctx) error {
	sessions, err := h.engine.GetSessionChronology(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch sessions",
		})
	}
	return c.JSON(fiber.Map{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// ListFingerprints returns every tracked issue, most chronically unstable
// first: GET /api/fingerprints
func (h *RegressionHandler) ListFingerprints(c *fiber.Ctx) error {
	fingerprints, err := h.engine.GetAllFingerprints(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch fingerprints",
		})
	}
	return c.JSON(fiber.Map{
		"fingerprints": fingerprints,
		"count":        len(fingerprints),
	})
}

// ListOccurrences returns the evidentiary trail of one fingerprint:
// GET /api/fingerprints/:id/occurrences
func (h *RegressionHandler) ListOccurrences(c *fiber.Ctx) error {
	occurrences, err := h.engine.GetOccurrences(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Fingerprint not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch occurrences",
		})
	}
	return c.JSON(fiber.Map{
		"occurrences": occurrences,
		"count":       len(occurrences),
	})
}

// MarkResolved forces a fingerprint to resolved:
// POST /api/fingerprints/:id/resolve
func (h *RegressionHandler) MarkResolved(c *fiber.Ctx) error {
	err := h.engine.MarkResolved(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Fingerprint not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to resolve fingerprint",
		})
	}
	return c.JSON(fiber.Map{"status": "resolved"})
}

// ListActiveAlerts returns non-dismissed alerts, newest first:
// GET /api/alerts/active
func (h *RegressionHandler) ListActiveAlerts(c *fiber.Ctx) error {
	alerts, err := h.engine.GetActiveAlerts(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch alerts",
		})
	}
	return c.JSON(fiber.Map{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// ListAlerts returns up to ?limit alerts, newest first: GET /api/alerts
func (h *RegressionHandler) ListAlerts(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "100"))

	alerts, err := h.engine.GetAllAlerts(c.Context(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch alerts",
		})
	}
	return c.JSON(fiber.Map{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// DismissAlert marks an alert dismissed: POST /api/alerts/:id/dismiss
func (h *RegressionHandler) DismissAlert(c *fiber.Ctx) error {
	err := h.engine.DismissAlert(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Alert not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to dismiss alert",
		})
	}
	return c.JSON(fiber.Map{"status": "dismissed"})
}

// GetStats returns store-wide counters: GET /api/stats
func (h *RegressionHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.engine.GetRegressionStats(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch stats",
		})
	}
	return c.JSON(stats)
}
