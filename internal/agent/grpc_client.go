package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// GenerateMethod is the full method name served by a generation sidecar.
const GenerateMethod = "/missiontalk.generation.v1.GenerationService/Generate"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errSidecarNotServing        = errors.New("generation sidecar not serving")
)

// GrpcClient calls a generation sidecar over gRPC. Requests and responses are
// google.protobuf.Struct messages so no generated stubs are needed.
type GrpcClient struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	addr   string
	logger *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcClient connects to the sidecar at addr and waits until it reports serving.
func NewGrpcClient(ctx context.Context, addr string, logger *slog.Logger) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := DefaultGrpcClientConfig()
	if addr != "" {
		cfg.Address = addr
	}

	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to generation sidecar at %s: %w", cfg.Address, err)
	}

	c := &GrpcClient{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		addr:   cfg.Address,
		logger: logger,
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err == nil {
		err = c.Ping(connectCtx)
	}
	if err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("generation sidecar at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to generation sidecar", "address", cfg.Address)
	return c, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Ping runs the standard health check against the sidecar.
func (c *GrpcClient) Ping(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", errSidecarNotServing, resp.GetStatus())
	}
	return nil
}

// Generate sends one request to the sidecar.
func (c *GrpcClient) Generate(ctx context.Context, req GenerateRequest) Result {
	in, err := encodeGenerateRequest(req)
	if err != nil {
		return FailedResult(err)
	}

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, GenerateMethod, in, out); err != nil {
		c.logger.Debug("sidecar generate failed", "address", c.addr, "error", err)
		return FailedResult(fmt.Errorf("sidecar generate: %w", err))
	}
	return decodeGenerateResponse(out)
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close gRPC connection: %w", err)
	}
	return nil
}

func encodeGenerateRequest(req GenerateRequest) (*structpb.Struct, error) {
	messages := make([]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, map[string]any{
			"role": string(m.Role),
			"text": m.Text,
		})
	}
	s, err := structpb.NewStruct(map[string]any{
		"model":              req.Model,
		"system_instruction": req.SystemInstruction,
		"json_output":        req.JSONOutput,
		"messages":           messages,
	})
	if err != nil {
		return nil, fmt.Errorf("encode generate request: %w", err)
	}
	return s, nil
}

func decodeGenerateResponse(out *structpb.Struct) Result {
	fields := out.GetFields()
	if reason := fields["block_reason"].GetStringValue(); reason != "" {
		return BlockedResult(reason)
	}
	return TextResult(fields["text"].GetStringValue())
}
