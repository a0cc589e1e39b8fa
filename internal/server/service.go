package server

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/heavenideas/dojo-server-go/internal/room"
)

// ServiceName is the fully qualified gRPC service name of the room relay.
const ServiceName = "dojo.room.v1.RoomService"

// SubscribedHeader is sent once a Subscribe stream is attached to the store,
// so callers know later publishes will reach them.
const SubscribedHeader = "dojo-subscribed"

const (
	roomServiceFetchFullMethodName     = "/" + ServiceName + "/Fetch"
	roomServicePublishFullMethodName   = "/" + ServiceName + "/Publish"
	roomServiceSubscribeFullMethodName = "/" + ServiceName + "/Subscribe"
)

// RoomServiceServer is the relay contract. Records travel as JSON inside
// BytesValue messages; room ids travel as StringValue.
type RoomServiceServer interface {
	Fetch(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	Publish(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
	Subscribe(*wrapperspb.StringValue, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
}

// RegisterRoomServiceServer registers srv on s.
func RegisterRoomServiceServer(s grpc.ServiceRegistrar, srv RoomServiceServer) {
	s.RegisterService(&roomServiceDesc, srv)
}

func roomServiceFetchHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RoomServiceServer).Fetch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: roomServiceFetchFullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RoomServiceServer).Fetch(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func roomServicePublishHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RoomServiceServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: roomServicePublishFullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RoomServiceServer).Publish(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func roomServiceSubscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(RoomServiceServer).Subscribe(m, &grpc.GenericServerStream[wrapperspb.StringValue, wrapperspb.BytesValue]{ServerStream: stream})
}

var roomServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RoomServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Fetch", Handler: roomServiceFetchHandler},
		{MethodName: "Publish", Handler: roomServicePublishHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       roomServiceSubscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "dojo/room/v1/room.proto",
}

// RoomService serves a room.Store over gRPC.
type RoomService struct {
	store   room.Store
	logger  *zap.Logger
	metrics *Metrics
}

var _ RoomServiceServer = (*RoomService)(nil)

// NewRoomService creates the gRPC room service.
func NewRoomService(store room.Store, metrics *Metrics, logger *zap.Logger) *RoomService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoomService{store: store, logger: logger, metrics: metrics}
}

// Fetch returns the stored record for a room.
func (s *RoomService) Fetch(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	roomID := req.GetValue()
	if roomID == "" {
		return nil, status.Error(codes.InvalidArgument, "room id is required")
	}
	rec, err := s.store.Fetch(ctx, roomID)
	if err != nil {
		return nil, toStatus(err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode record: %v", err)
	}
	return wrapperspb.Bytes(data), nil
}

// Publish upserts a record.
func (s *RoomService) Publish(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	var rec room.Record
	if err := json.Unmarshal(req.GetValue(), &rec); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode record: %v", err)
	}
	if err := rec.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	err := s.store.Upsert(ctx, rec)
	s.metrics.observePublish("grpc", err)
	if err != nil {
		if !errors.Is(err, room.ErrStale) {
			s.logger.Warn("publish failed",
				zap.String("room_id", rec.RoomID),
				zap.Uint64("revision", rec.Revision),
				zap.Error(err),
			)
		}
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// Subscribe streams every accepted record for a room until the client goes
// away.
func (s *RoomService) Subscribe(req *wrapperspb.StringValue, stream grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	roomID := req.GetValue()
	if roomID == "" {
		return status.Error(codes.InvalidArgument, "room id is required")
	}
	ctx := stream.Context()

	feed, err := s.store.Subscribe(ctx, roomID)
	if err != nil {
		return toStatus(err)
	}
	if err := stream.SendHeader(metadata.Pairs(SubscribedHeader, roomID)); err != nil {
		return err
	}

	s.metrics.subscribed("grpc", 1)
	defer s.metrics.subscribed("grpc", -1)
	s.logger.Debug("grpc subscriber attached", zap.String("room_id", roomID))

	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-feed:
			if !ok {
				return nil
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return status.Errorf(codes.Internal, "encode record: %v", err)
			}
			if err := stream.Send(wrapperspb.Bytes(data)); err != nil {
				return err
			}
		}
	}
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, room.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, room.ErrStale):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
