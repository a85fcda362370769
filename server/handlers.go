package server

import (
	"fmt"
	"time"

	"sigverify/logging"
	"sigverify/loss"
	"sigverify/model"
	"sigverify/siamese"
	"sigverify/trainer"
	"sigverify/types"
	"sigverify/verifier"

	"github.com/gofiber/fiber/v2"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Kind    string `json:"kind"`
}

// HealthResponse reports liveness and whether a model is being served
type HealthResponse struct {
	Success     bool   `json:"success"`
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Message     string `json:"message"`
}

// VerifyRequest carries two base64 images, optionally as data URIs
type VerifyRequest struct {
	Signature1 string   `json:"signature1"`
	Signature2 string   `json:"signature2"`
	Threshold  *float64 `json:"threshold,omitempty"`
}

// VerifyResponse is a verdict on one pair
type VerifyResponse struct {
	Success bool `json:"success"`
	types.PredictionResult
	ModelID string `json:"model_id"`
}

// TrainResponse summarizes a finished run
type TrainResponse struct {
	Success  bool                 `json:"success"`
	Message  string               `json:"message"`
	ModelID  string               `json:"model_id"`
	Split    model.SplitSizes     `json:"split"`
	Metrics  model.Metrics        `json:"metrics"`
	History  []trainer.EpochStats `json:"history"`
	Duration string               `json:"duration"`
}

// EvaluateResponse holds test-split metrics
type EvaluateResponse struct {
	Success bool `json:"success"`
	types.EvalResult
	AccuracyPercentage float64 `json:"accuracy_percentage"`
	TestPairs          int     `json:"test_pairs"`
}

// ModelInfoResponse describes the served model
type ModelInfoResponse struct {
	Success     bool                  `json:"success"`
	ModelLoaded bool                  `json:"model_loaded"`
	ModelID     string                `json:"model_id"`
	ModelPath   string                `json:"model_path"`
	CreatedAt   time.Time             `json:"created_at"`
	LoadedAt    time.Time             `json:"loaded_at"`
	InputShape  siamese.InputShape    `json:"input_shape"`
	Parameters  model.Hyperparameters `json:"parameters"`
	Loss        loss.Contrastive      `json:"loss"`
	Split       model.SplitSizes      `json:"split"`
	Metrics     model.Metrics         `json:"metrics"`
	ParamCount  int                   `json:"param_count"`
	Threshold   float64               `json:"threshold"`
}

func (s *Server) health(c *fiber.Ctx) error {
	loaded := s.holder.Loaded()
	msg := "Model loaded and ready"
	if !loaded {
		msg = "No model loaded; train one with POST /api/train"
	}
	return c.JSON(HealthResponse{Success: true, Status: "healthy", ModelLoaded: loaded, Message: msg})
}

func (s *Server) verify(c *fiber.Ctx) error {
	var req VerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}
	if req.Signature1 == "" || req.Signature2 == "" {
		return badRequest(c, "Both signature1 and signature2 are required")
	}
	threshold := s.threshold
	if req.Threshold != nil {
		if *req.Threshold < 0 || *req.Threshold > 1 {
			return badRequest(c, fmt.Sprintf("threshold %v outside [0, 1]", *req.Threshold))
		}
		threshold = *req.Threshold
	}

	// load once so the verdict and the reported id come from the same model
	snap, err := s.holder.Current()
	if err != nil {
		return fail(c, err)
	}
	result, err := s.verifier.VerifyEncodedWith(c.UserContext(), snap, req.Signature1, req.Signature2, threshold)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(VerifyResponse{Success: true, PredictionResult: result, ModelID: snap.Artifact.ID})
}

func (s *Server) train(c *fiber.Ctx) error {
	if !s.training.CompareAndSwap(false, true) {
		return fail(c, errTrainingBusy)
	}
	defer s.training.Store(false)

	start := time.Now()
	logging.LogInfo("Training started from %v", s.pipeline.Folders)
	res, err := s.pipeline.Run(s.ctx)
	if err != nil {
		return fail(c, err)
	}
	a := res.Artifact
	return c.JSON(TrainResponse{
		Success:  true,
		Message:  "Model trained and published",
		ModelID:  a.ID,
		Split:    a.Split,
		Metrics:  a.Metrics,
		History:  res.History,
		Duration: time.Since(start).Round(time.Millisecond).String(),
	})
}

func (s *Server) evaluate(c *fiber.Ctx) error {
	snap, err := s.holder.Current()
	if err != nil {
		return fail(c, err)
	}
	if snap.Test.Len() == 0 {
		return badRequest(c, "No test data available for the served model; train one first")
	}
	ev, err := verifier.Evaluate(snap, snap.Test)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(EvaluateResponse{
		Success:            true,
		EvalResult:         ev,
		AccuracyPercentage: ev.Accuracy * 100,
		TestPairs:          snap.Test.Len(),
	})
}

func (s *Server) modelInfo(c *fiber.Ctx) error {
	snap, err := s.holder.Current()
	if err != nil {
		return fail(c, err)
	}
	a := snap.Artifact
	return c.JSON(ModelInfoResponse{
		Success:     true,
		ModelLoaded: true,
		ModelID:     a.ID,
		ModelPath:   snap.Path,
		CreatedAt:   a.CreatedAt,
		LoadedAt:    snap.LoadedAt,
		InputShape:  a.Arch.Input,
		Parameters:  a.Training,
		Loss:        a.Loss,
		Split:       a.Split,
		Metrics:     a.Metrics,
		ParamCount:  a.Network.ParamCount(),
		Threshold:   s.threshold,
	})
}
