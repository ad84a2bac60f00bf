package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"relayci/src/broker"
	"relayci/src/contracts"
	"relayci/src/logger"
	"relayci/src/store"
)

// AgentGroup is the consumer group agents share, so each request runs once.
const AgentGroup = "relayci-agents"

// Agent consumes run requests from the broker and executes them one at a time.
type Agent struct {
	broker   broker.Broker
	pipeline *Pipeline
	logger   logger.Logger
}

// NewAgent creates a new run agent.
func NewAgent(brk broker.Broker, p *Pipeline, log logger.Logger) *Agent {
	if log == nil {
		log = logger.NewSilentLogger()
	}
	return &Agent{
		broker:   brk,
		pipeline: p,
		logger:   log,
	}
}

// Run starts the agent's main loop.
// It subscribes to relayci.runs.requests and runs each request to completion
// before reading the next one.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("[RelayAgent] Starting...")

	msgChan, err := a.broker.Subscribe(ctx, contracts.TopicRunRequests, AgentGroup)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", contracts.TopicRunRequests, err)
	}

	a.logger.Info("[RelayAgent] Listening for run requests on '%s' topic...", contracts.TopicRunRequests)

	for {
		select {
		case msg, ok := <-msgChan:
			if !ok {
				a.logger.Info("[RelayAgent] Message channel closed, shutting down")
				return nil
			}

			if err := a.processRequest(ctx, msg); err != nil {
				a.logger.Error("[RelayAgent] Error processing request: %v", err)
			}

		case <-ctx.Done():
			a.logger.Info("[RelayAgent] Context cancelled, shutting down")
			return ctx.Err()
		}
	}
}

// processRequest decodes and runs a single request. A failed run is logged
// and does not stop the agent.
func (a *Agent) processRequest(ctx context.Context, msg broker.Message) error {
	var req contracts.RunRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return fmt.Errorf("failed to unmarshal run request: %w", err)
	}
	if req.RunID == "" {
		req.RunID = msg.Key
	}

	a.logger.Info("[RelayAgent] Run %s: %s", req.RunID, req.Event)

	result, err := a.pipeline.Run(ctx, req)
	if err != nil {
		var cfgErr *contracts.ConfigurationError
		if errors.As(err, &cfgErr) {
			a.reject(ctx, req, err)
			return fmt.Errorf("run %s rejected: %w", req.RunID, err)
		}
		if result == nil {
			return fmt.Errorf("run %s: %w", req.RunID, err)
		}
		a.logger.Warn("[RelayAgent] Run %s %s: %v", req.RunID, result.Status, err)
		return nil
	}

	a.logger.Info("[RelayAgent] Run %s %s", req.RunID, result.Status)
	return nil
}

// reject finishes the pending record of a request that could not start.
func (a *Agent) reject(ctx context.Context, req contracts.RunRequest, cause error) {
	now := time.Now().UTC()
	err := a.pipeline.Store().UpdateRun(ctx, &contracts.RunStatus{
		RunID:       req.RunID,
		Event:       req.Event,
		Status:      contracts.StateFailed,
		FailedStep:  -1,
		Error:       cause.Error(),
		CompletedAt: &now,
	})
	if err != nil && !errors.Is(err, store.ErrRunNotFound) {
		a.logger.Warn("[RelayAgent] Run %s: failed to record rejection: %v", req.RunID, err)
	}
}

// Submit queues a run request for an agent and returns its run id. When st is
// set, a pending run record is created first so the run can be looked up
// before an agent picks it up.
func Submit(ctx context.Context, brk broker.Broker, st store.Store, ev contracts.EventDescriptor) (string, error) {
	if err := ev.Validate(); err != nil {
		return "", err
	}
	req := NewRunRequest(ev)
	var pending *contracts.RunStatus
	if st != nil {
		pending = &contracts.RunStatus{
			RunID:      req.RunID,
			Event:      ev,
			Status:     contracts.StatePending,
			FailedStep: -1,
			CreatedAt:  time.Now().UTC(),
		}
		if err := st.CreateRun(ctx, pending); err != nil {
			return "", fmt.Errorf("failed to create run record: %w", err)
		}
	}
	if err := broker.PublishJSON(ctx, brk, contracts.TopicRunRequests, req.RunID, req); err != nil {
		if st != nil {
			now := time.Now().UTC()
			pending.Status = contracts.StateFailed
			pending.Error = "run request was not queued: " + err.Error()
			pending.CompletedAt = &now
			// The caller's ctx may be what failed the publish.
			if uerr := st.UpdateRun(context.WithoutCancel(ctx), pending); uerr != nil {
				err = errors.Join(err, uerr)
			}
		}
		return "", fmt.Errorf("failed to publish run request: %w", err)
	}
	return req.RunID, nil
}
