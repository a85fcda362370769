// Package server exposes verification, training and evaluation over HTTP.
// Handlers only translate requests; decisions are made by verifier and trainer.
package server

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"sigverify/imageprocessor"
	"sigverify/logging"
	"sigverify/model"
	"sigverify/sigerr"
	"sigverify/trainer"
	"sigverify/verifier"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
)

// errTrainingBusy is returned while another training run holds the server
var errTrainingBusy = errors.New("a training run is already in progress")

// Server wires the HTTP routes to one model holder
type Server struct {
	app       *fiber.App
	holder    *model.Holder
	verifier  *verifier.Service
	pipeline  *trainer.Pipeline
	threshold float64
	// training runs use ctx, not the request, so a dropped client does not
	// abort a run that is about to publish
	ctx      context.Context
	training atomic.Bool
}

// Options configures a Server
type Options struct {
	Holder   *model.Holder
	Pipeline *trainer.Pipeline
	// Threshold is used when a verify request carries none; nil means
	// verifier.DefaultThreshold
	Threshold *float64
	// AccessLog disables the request logger when false
	AccessLog bool
}

// New builds the fiber app. ctx bounds training runs started over HTTP.
func New(ctx context.Context, opts Options) *Server {
	threshold := verifier.DefaultThreshold
	if t := opts.Threshold; t != nil {
		if *t >= 0 && *t <= 1 {
			threshold = *t
		} else {
			logging.LogWarning("Ignoring threshold %v outside [0, 1]", *t)
		}
	}
	s := &Server{
		holder:    opts.Holder,
		verifier:  verifier.NewService(opts.Holder, imageprocessor.Shape{}),
		pipeline:  opts.Pipeline,
		threshold: threshold,
		ctx:       ctx,
	}

	app := fiber.New(fiber.Config{
		AppName:               "sigverify",
		DisableStartupMessage: true,
		BodyLimit:             16 * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(ErrorResponse{Error: err.Error(), Kind: "http"})
		},
	})

	if opts.AccessLog {
		cfg := logger.Config{}
		if w := logging.Writer(); w != nil {
			cfg.Output = w
		}
		app.Use(logger.New(cfg))
	}
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/health", s.health)
	api.Post("/verify", s.verify)
	api.Post("/train", s.train)
	api.Get("/evaluate", s.evaluate)
	api.Get("/model-info", s.modelInfo)

	s.app = app
	return s
}

// App returns the underlying fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until the server's context is cancelled
func (s *Server) Listen(addr string) error {
	go func() {
		<-s.ctx.Done()
		if err := s.app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logging.LogError("Server shutdown: %v", err)
		}
	}()
	logging.LogInfo("Server listening on %s", addr)
	return s.app.Listen(addr)
}

// fail writes err with the status its kind maps to
func fail(c *fiber.Ctx, err error) error {
	kind := sigerr.Kind(err)
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, errTrainingBusy):
		status, kind = fiber.StatusConflict, "busy"
	case kind == "decode" || kind == "shape":
		status = fiber.StatusBadRequest
	case kind == "model_not_loaded":
		status = fiber.StatusServiceUnavailable
	}
	if status == fiber.StatusInternalServerError {
		logging.LogError("%s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(status).JSON(ErrorResponse{Error: err.Error(), Kind: kind})
}

// badRequest rejects malformed input that never reached the verifier
func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: msg, Kind: "bad_request"})
}
