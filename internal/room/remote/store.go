// Package remote implements room.Store against the relay server's gRPC room
// service.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/heavenideas/dojo-server-go/internal/room"
)

const (
	fetchMethod     = "/dojo.room.v1.RoomService/Fetch"
	publishMethod   = "/dojo.room.v1.RoomService/Publish"
	subscribeMethod = "/dojo.room.v1.RoomService/Subscribe"
)

var subscribeDesc = &grpc.StreamDesc{
	StreamName:    "Subscribe",
	ServerStreams: true,
}

// Store is a room.Store backed by a gRPC connection.
type Store struct {
	conn   grpc.ClientConnInterface
	closer io.Closer
	logger *zap.Logger
}

var _ room.Store = (*Store)(nil)

// New wraps an existing connection. Close does not close it.
func New(conn grpc.ClientConnInterface, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{conn: conn, logger: logger}
}

// Dial connects to a relay server at address without transport security.
func Dial(address string, logger *zap.Logger, opts ...grpc.DialOption) (*Store, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", address, err)
	}
	s := New(conn, logger)
	s.closer = conn
	return s, nil
}

// Close closes the connection when the store dialed it.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Fetch implements room.Store.
func (s *Store) Fetch(ctx context.Context, roomID string) (room.Record, error) {
	out := new(wrapperspb.BytesValue)
	if err := s.conn.Invoke(ctx, fetchMethod, wrapperspb.String(roomID), out); err != nil {
		return room.Record{}, fromStatus(err)
	}
	var rec room.Record
	if err := json.Unmarshal(out.GetValue(), &rec); err != nil {
		return room.Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// Upsert implements room.Store.
func (s *Store) Upsert(ctx context.Context, rec room.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := s.conn.Invoke(ctx, publishMethod, wrapperspb.Bytes(data), new(emptypb.Empty)); err != nil {
		return fromStatus(err)
	}
	return nil
}

// Subscribe implements room.Store. It returns once the server has attached
// the stream to its store.
func (s *Store) Subscribe(ctx context.Context, roomID string) (<-chan room.Record, error) {
	cs, err := s.conn.NewStream(ctx, subscribeDesc, subscribeMethod)
	if err != nil {
		return nil, fromStatus(err)
	}
	stream := &grpc.GenericClientStream[wrapperspb.StringValue, wrapperspb.BytesValue]{ClientStream: cs}
	if err := stream.Send(wrapperspb.String(roomID)); err != nil {
		return nil, fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fromStatus(err)
	}
	if _, err := stream.Header(); err != nil {
		return nil, fromStatus(err)
	}

	out := make(chan room.Record, 16)
	go func() {
		defer close(out)
		for {
			msg, err := stream.Recv()
			if err != nil {
				if !errors.Is(err, io.EOF) && status.Code(err) != codes.Canceled {
					s.logger.Warn("room stream closed",
						zap.String("room_id", roomID),
						zap.Error(err),
					)
				}
				return
			}
			var rec room.Record
			if err := json.Unmarshal(msg.GetValue(), &rec); err != nil {
				s.logger.Warn("ignoring malformed room record", zap.String("room_id", roomID), zap.Error(err))
				continue
			}
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func fromStatus(err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return room.ErrNotFound
	case codes.Aborted:
		return room.ErrStale
	default:
		return fmt.Errorf("relay call failed: %w", err)
	}
}
