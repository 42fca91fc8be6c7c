package racebot

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	adminrpc "github.com/kawacukennedy/3d-racing-game-sub001/internal/grpc"
)

var prettyJSON = protojson.MarshalOptions{Multiline: true, Indent: "  "}

// AdminClient reads the server's admin API.
type AdminClient struct {
	conn   *grpc.ClientConn
	client *adminrpc.RaceAdminClient
	secret string
}

// DialAdmin connects to the admin API at target. Calls carry secret and request
// zstd compressed responses.
func DialAdmin(target, secret string, opts ...grpc.DialOption) (*AdminClient, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.UseCompressor(adminrpc.ZstdName)))
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial admin api: %w", err)
	}
	return &AdminClient{conn: conn, client: adminrpc.NewRaceAdminClient(conn), secret: secret}, nil
}

// Close releases the connection.
func (a *AdminClient) Close() error {
	if a == nil || a.conn == nil {
		return nil
	}
	return a.conn.Close()
}

// WriteRooms prints the live room overview as indented JSON.
func (a *AdminClient) WriteRooms(ctx context.Context, w io.Writer) error {
	overview, err := a.client.ListRooms(adminrpc.WithSharedSecret(ctx, a.secret))
	if err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}
	return writeMessage(w, overview)
}

// WatchResults prints each finished race until ctx ends or max races were seen.
// A max of zero watches indefinitely.
func (a *AdminClient) WatchResults(ctx context.Context, w io.Writer, max int) error {
	stream, err := a.client.WatchResults(adminrpc.WithSharedSecret(ctx, a.secret))
	if err != nil {
		return fmt.Errorf("watch results: %w", err)
	}
	for seen := 0; max == 0 || seen < max; seen++ {
		race, err := stream.Recv()
		if err != nil {
			return err
		}
		if err := writeMessage(w, race); err != nil {
			return err
		}
	}
	return nil
}

func writeMessage(w io.Writer, message proto.Message) error {
	raw, err := prettyJSON.Marshal(message)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(raw))
	return err
}
