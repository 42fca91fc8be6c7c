// Package grpc serves the racesync admin API over gRPC.
package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/logging"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/results"
)

const defaultWatchBuffer = 32

// Option customises the behaviour of the admin service.
type Option func(*Service)

// WithLogger injects a logger for diagnostics.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithWatchBuffer overrides how many finished races a slow watcher may lag behind.
func WithWatchBuffer(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.watchBuffer = size
		}
	}
}

// Service implements RaceAdminServer on top of the session registry.
type Service struct {
	rooms       RoomSource
	feed        ResultFeed
	log         *logging.Logger
	watchBuffer int

	closing   chan struct{}
	closeOnce sync.Once
}

// NewService wires the admin service to the registry.
func NewService(rooms RoomSource, feed ResultFeed, opts ...Option) *Service {
	service := &Service{
		rooms:       rooms,
		feed:        feed,
		log:         logging.L(),
		watchBuffer: defaultWatchBuffer,
		closing:     make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service
}

// ListRooms returns the registry counters and a snapshot of every live room.
func (s *Service) ListRooms(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s == nil || s.rooms == nil {
		return nil, status.Error(codes.FailedPrecondition, "room listing unavailable")
	}
	overview := struct {
		Stats any `json:"stats"`
		Rooms any `json:"rooms"`
	}{Stats: s.rooms.Stats(), Rooms: s.rooms.Snapshots(ctx)}
	out, err := toStruct(overview)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode rooms: %v", err)
	}
	return out, nil
}

// Close ends every open WatchResults stream so a graceful server stop can
// complete. Later calls are no-ops.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() { close(s.closing) })
}

// WatchResults streams each race as it finishes until the client goes away or
// the service is closed.
func (s *Service) WatchResults(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	if s == nil || s.feed == nil {
		return status.Error(codes.FailedPrecondition, "results feed unavailable")
	}
	ctx := stream.Context()

	//1.- Subscribe with a bounded buffer; a watcher that falls behind loses races
	// rather than stalling the registry.
	races := make(chan results.Race, s.watchBuffer)
	unsubscribe := s.feed.OnResult(func(race results.Race) {
		select {
		case races <- race:
		default:
			s.log.Warn("results watcher lagging, dropping race", logging.RoomID(race.RoomID))
		}
	})
	defer unsubscribe()

	for {
		select {
		case <-s.closing:
			return status.Error(codes.Unavailable, "server shutting down")
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return status.Error(codes.Canceled, "stream cancelled")
			}
			return status.Error(codes.DeadlineExceeded, "stream deadline exceeded")
		case race := <-races:
			message, err := toStruct(race)
			if err != nil {
				return status.Errorf(codes.Internal, "encode race: %v", err)
			}
			if err := stream.Send(message); err != nil {
				return err
			}
		}
	}
}

// toStruct converts a JSON-tagged value into a protobuf Struct.
func toStruct(value any) (*structpb.Struct, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("value is not an object: %w", err)
	}
	return structpb.NewStruct(fields)
}

var _ RaceAdminServer = (*Service)(nil)
