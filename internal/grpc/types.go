package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/results"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/room"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/session"
)

// RoomSource exposes the live rooms served by the admin API.
type RoomSource interface {
	Snapshots(ctx context.Context) []room.Snapshot
	Stats() session.Stats
}

// ResultFeed publishes every finished race. The returned function unsubscribes.
type ResultFeed interface {
	OnResult(fn func(results.Race)) func()
}

// RaceAdminServer is the server API for the RaceAdmin service.
type RaceAdminServer interface {
	ListRooms(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	WatchResults(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
}
