package web

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

func ok(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// handleStatus reports the conversation snapshot and hub stats.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	resp := fiber.Map{"conversation": s.cfg.Controller.Status()}
	if s.cfg.Hub != nil {
		resp["hub"] = s.cfg.Hub.GetStats()
	}
	return c.JSON(resp)
}

func (s *Server) handleHistory(c *fiber.Ctx) error {
	return c.JSON(s.cfg.Controller.History())
}

func (s *Server) handleMute(c *fiber.Ctx) error {
	if err := s.cfg.Controller.Mute(); err != nil {
		return err
	}
	return ok(c)
}

func (s *Server) handleUnmute(c *fiber.Ctx) error {
	if err := s.cfg.Controller.Unmute(); err != nil {
		return err
	}
	return ok(c)
}

// SoundRequest is the body of POST /api/sound.
type SoundRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleSound(c *fiber.Ctx) error {
	var req SoundRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if err := s.cfg.Controller.SetSound(req.Enabled); err != nil {
		return err
	}
	return ok(c)
}

func (s *Server) handleInterrupt(c *fiber.Ctx) error {
	if err := s.cfg.Controller.Interrupt("user"); err != nil {
		return err
	}
	return ok(c)
}

// SayRequest is the body of POST /api/say.
type SayRequest struct {
	Text string `json:"text"`
}

// handleSay submits typed text as a user turn.
func (s *Server) handleSay(c *fiber.Ctx) error {
	var req SayRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return fiber.NewError(fiber.StatusBadRequest, "text is required")
	}
	if err := s.cfg.Controller.Submit(text); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"success": true})
}

func (s *Server) handleRecordStart(c *fiber.Ctx) error {
	if err := s.cfg.Controller.BeginRecording(); err != nil {
		return err
	}
	return ok(c)
}

func (s *Server) handleRecordStop(c *fiber.Ctx) error {
	if err := s.cfg.Controller.EndRecording(); err != nil {
		return err
	}
	return ok(c)
}

// handleStop tears the conversation down. Export may take a while.
func (s *Server) handleStop(c *fiber.Ctx) error {
	if err := s.cfg.Controller.Teardown(c.UserContext()); err != nil {
		s.logger.Warn("teardown finished with error", "error", err)
	}
	return c.JSON(fiber.Map{
		"success":    true,
		"export_url": s.cfg.Controller.Status().ExportURL,
	})
}

// OfferRequest is a browser SDP offer.
type OfferRequest struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// handleOffer attaches the browser microphone over WebRTC.
func (s *Server) handleOffer(c *fiber.Ctx) error {
	if s.cfg.RTC == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "webrtc capture not enabled")
	}
	var req OfferRequest
	if err := c.BodyParser(&req); err != nil || req.SDP == "" {
		return fiber.NewError(fiber.StatusBadRequest, "sdp offer is required")
	}
	if req.Type != "" && req.Type != "offer" {
		return fiber.NewError(fiber.StatusBadRequest, "expected an offer")
	}

	answer, err := s.cfg.RTC.Negotiate(c.UserContext(), req.SDP)
	if err != nil {
		return err
	}
	return c.JSON(OfferRequest{SDP: answer, Type: "answer"})
}

func (s *Server) handleExportStatus(c *fiber.Ctx) error {
	if s.cfg.Export == nil {
		return c.JSON(fiber.Map{"enabled": false})
	}
	return c.JSON(fiber.Map{"enabled": true, "status": s.cfg.Export.GetStatus()})
}

func (s *Server) handleExportAuth(c *fiber.Ctx) error {
	if s.cfg.Export == nil {
		return fiber.NewError(fiber.StatusNotFound, "export not configured")
	}
	return c.Redirect(s.cfg.Export.AuthURL(), fiber.StatusTemporaryRedirect)
}

func (s *Server) handleExportCallback(c *fiber.Ctx) error {
	if s.cfg.Export == nil {
		return fiber.NewError(fiber.StatusNotFound, "export not configured")
	}
	code := c.Query("code")
	if code == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing authorization code")
	}
	if err := s.cfg.Export.HandleCallback(c.UserContext(), code); err != nil {
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return c.SendString("Google Docs подключен. Окно можно закрыть.")
}

func (s *Server) handleExportDisconnect(c *fiber.Ctx) error {
	if s.cfg.Export == nil {
		return fiber.NewError(fiber.StatusNotFound, "export not configured")
	}
	if err := s.cfg.Export.Disconnect(); err != nil {
		return err
	}
	return ok(c)
}
