package simd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sugarbeet-lab/yieldsim/pkg/config"
	"github.com/sugarbeet-lab/yieldsim/pkg/logger"
	"github.com/sugarbeet-lab/yieldsim/pkg/models"
)

// SimulationGRPCServer implements SimulationServiceServer on a RunStore.
type SimulationGRPCServer struct {
	store    *RunStore
	Executor *RunExecutor
}

var _ SimulationServiceServer = (*SimulationGRPCServer)(nil)

// NewSimulationGRPCServer creates a new SimulationGRPCServer with the provided RunStore and RunExecutor.
func NewSimulationGRPCServer(store *RunStore, executor *RunExecutor) *SimulationGRPCServer {
	return &SimulationGRPCServer{
		store:    store,
		Executor: executor,
	}
}

// CreateRun expects {run_id?, config_yaml | config, start?}.
func (s *SimulationGRPCServer) CreateRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in createRunRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	cfg, err := in.simulation()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	rec, err := s.store.Create(in.RunID, *cfg)
	if err != nil {
		return nil, grpcError(err)
	}
	logger.Info("run created", "run_id", rec.Run.ID)

	if in.Start {
		if rec, err = s.Executor.Start(rec.Run.ID); err != nil {
			return nil, grpcError(err)
		}
	}
	return toStruct(map[string]any{"run": rec.Run})
}

func (s *SimulationGRPCServer) StartRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.action(req, "started", s.Executor.Start)
}

func (s *SimulationGRPCServer) StopRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.action(req, "stopped", s.Executor.Stop)
}

func (s *SimulationGRPCServer) ResumeRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.action(req, "resumed", s.Executor.Resume)
}

func (s *SimulationGRPCServer) action(req *structpb.Struct, verb string, fn func(string) (*RunRecord, error)) (*structpb.Struct, error) {
	runID, err := runIDFrom(req)
	if err != nil {
		return nil, err
	}
	rec, err := fn(runID)
	if err != nil {
		return nil, grpcError(err)
	}
	logger.Info("run "+verb, "run_id", runID, "status", rec.Run.Status)
	return toStruct(map[string]any{"run": rec.Run})
}

func (s *SimulationGRPCServer) GetRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	runID, err := runIDFrom(req)
	if err != nil {
		return nil, err
	}
	rec, ok := s.store.Get(runID)
	if !ok {
		return nil, status.Error(codes.NotFound, "run not found")
	}
	return toStruct(recordJSON(rec))
}

// ListRuns accepts {limit?, status?}.
func (s *SimulationGRPCServer) ListRuns(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in struct {
		Limit  int              `json:"limit"`
		Status models.RunStatus `json:"status"`
	}
	if err := fromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	recs := s.store.List(in.Limit, in.Status)
	runs := make([]Run, 0, len(recs))
	for _, rec := range recs {
		runs = append(runs, rec.Run)
	}
	return toStruct(map[string]any{"runs": runs})
}

// StreamRunEvents polls the run and sends {event, at_unix_ms, run_id, data}
// messages until it is terminal.
func (s *SimulationGRPCServer) StreamRunEvents(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	var in struct {
		RunID      string `json:"run_id"`
		IntervalMs int64  `json:"interval_ms"`
	}
	if err := fromStruct(req, &in); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if in.RunID == "" {
		return status.Error(codes.InvalidArgument, "run_id is required")
	}

	rec, ok := s.store.Get(in.RunID)
	if !ok {
		return status.Error(codes.NotFound, "run not found")
	}

	send := func(events []watchEvent) error {
		for _, ev := range events {
			msg, err := toStruct(map[string]any{
				"event":      ev.name,
				"at_unix_ms": time.Now().UTC().UnixMilli(),
				"run_id":     in.RunID,
				"data":       ev.data,
			})
			if err != nil {
				return err
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
		return nil
	}

	watch := newRunWatcher(rec)
	if err := send(watch.initial(rec)); err != nil {
		return err
	}
	if rec.Run.Status.IsTerminal() {
		return nil
	}

	interval := 250 * time.Millisecond
	if in.IntervalMs > 0 {
		interval = time.Duration(in.IntervalMs) * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case <-ticker.C:
			rec, ok := s.store.Get(in.RunID)
			if !ok {
				return status.Error(codes.NotFound, "run not found")
			}
			events, terminal := watch.next(rec)
			if err := send(events); err != nil {
				return err
			}
			if terminal {
				return nil
			}
		}
	}
}

func runIDFrom(req *structpb.Struct) (string, error) {
	if req == nil {
		return "", status.Error(codes.InvalidArgument, "run_id is required")
	}
	runID := req.GetFields()["run_id"].GetStringValue()
	if runID == "" {
		return "", status.Error(codes.InvalidArgument, "run_id is required")
	}
	return runID, nil
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, ErrRunNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrRunExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, ErrRunTerminal), errors.Is(err, ErrRunNotResumable):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrRunIDMissing), errors.Is(err, config.ErrInvalidConfig):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// toStruct converts any JSON-encodable value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return out, nil
}

// fromStruct decodes a Struct into v through its JSON form.
func fromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
