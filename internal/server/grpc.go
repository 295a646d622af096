package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Krajiyah/firebase-admin-util/internal/record"
)

// NewGRPCServer creates a gRPC server with standard interceptors and
// registers the record service, health and reflection.
func NewGRPCServer(s *Server, authToken string) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			LoggingInterceptor,
			AuthInterceptor(authToken, s.tokens),
		),
	)

	RegisterRecordServiceServer(srv, &recordService{s: s})
	healthpb.RegisterHealthServer(srv, health.NewServer())
	reflection.Register(srv)

	return srv
}

// RecordServiceServer reads records over gRPC. Requests and responses are
// google.protobuf.Struct messages:
//
//	Get     {entity, key}          -> {key, value}
//	Query   {entity, field, value} -> {records: [{key, value}...]}
//	Create  {entity, key?, value}  -> {key, value}
//	Delete  {entity, key}          -> {key, value}
type RecordServiceServer interface {
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Query(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Create(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Delete(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

const recordServiceName = "fbutil.v1.RecordService"

func recordMethod(name string, call func(RecordServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(RecordServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + recordServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(RecordServiceServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var recordServiceDesc = grpc.ServiceDesc{
	ServiceName: recordServiceName,
	HandlerType: (*RecordServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		recordMethod("Get", RecordServiceServer.Get),
		recordMethod("Query", RecordServiceServer.Query),
		recordMethod("Create", RecordServiceServer.Create),
		recordMethod("Delete", RecordServiceServer.Delete),
	},
	Metadata: "fbutil/v1/records.proto",
}

// RegisterRecordServiceServer registers impl on s.
func RegisterRecordServiceServer(s grpc.ServiceRegistrar, impl RecordServiceServer) {
	s.RegisterService(&recordServiceDesc, impl)
}

// RecordServiceClient calls a RecordService.
type RecordServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewRecordServiceClient returns a client over cc.
func NewRecordServiceClient(cc grpc.ClientConnInterface) *RecordServiceClient {
	return &RecordServiceClient{cc: cc}
}

func (c *RecordServiceClient) call(ctx context.Context, method string, in map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+recordServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Get fetches one record.
func (c *RecordServiceClient) Get(ctx context.Context, entity, key string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, "Get", map[string]any{"entity": entity, "key": key}, opts...)
}

// Query fetches the records whose field loosely equals value. An empty
// field returns every record.
func (c *RecordServiceClient) Query(ctx context.Context, entity, field string, value any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, "Query", map[string]any{"entity": entity, "field": field, "value": value}, opts...)
}

// Create stores a record under key, or under a generated key when key is
// empty.
func (c *RecordServiceClient) Create(ctx context.Context, entity, key string, value map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, "Create", map[string]any{"entity": entity, "key": key, "value": value}, opts...)
}

// Delete removes a record and returns its last value.
func (c *RecordServiceClient) Delete(ctx context.Context, entity, key string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, "Delete", map[string]any{"entity": entity, "key": key}, opts...)
}

type recordService struct {
	s *Server
}

func (rs *recordService) Get(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	m, err := rs.s.reg.Get(stringField(in, "entity"))
	if err != nil {
		return nil, grpcError(err)
	}
	e, err := m.GetByKey(ctx, stringField(in, "key"))
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(e)
}

func (rs *recordService) Query(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	m, err := rs.s.reg.Get(stringField(in, "entity"))
	if err != nil {
		return nil, grpcError(err)
	}
	field := stringField(in, "field")
	var value any
	if v, ok := in.GetFields()["value"]; ok {
		value = v.AsInterface()
	}
	if field == "" || value == nil {
		all, err := m.GetAll(ctx)
		if err != nil {
			return nil, grpcError(err)
		}
		return toStruct(map[string]any{"records": all})
	}
	found, err := m.GetAllByFields(ctx, record.Eq{Field: field, Value: value})
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(map[string]any{"records": found})
}

func (rs *recordService) Create(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	m, err := rs.s.reg.Get(stringField(in, "entity"))
	if err != nil {
		return nil, grpcError(err)
	}
	fields := in.GetFields()["value"].GetStructValue().AsMap()
	if key := stringField(in, "key"); key != "" {
		e, err := m.CreateByManualKey(ctx, key, fields)
		if err != nil {
			return nil, grpcError(err)
		}
		return toStruct(e)
	}
	e, err := m.CreateByAutoKey(ctx, fields)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(e)
}

func (rs *recordService) Delete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	m, err := rs.s.reg.Get(stringField(in, "entity"))
	if err != nil {
		return nil, grpcError(err)
	}
	e, err := m.DeleteByKey(ctx, stringField(in, "key"))
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(e)
}

func stringField(in *structpb.Struct, name string) string {
	return in.GetFields()[name].GetStringValue()
}

// toStruct converts v to a Struct through its JSON encoding.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// grpcError converts a record layer error to a status error, using the
// same classification as the HTTP API.
func grpcError(err error) error {
	var code codes.Code
	switch statusFor(err) {
	case http.StatusBadRequest:
		code = codes.InvalidArgument
	case http.StatusNotFound:
		code = codes.NotFound
	case http.StatusConflict:
		code = codes.AlreadyExists
	case http.StatusUnauthorized:
		code = codes.Unauthenticated
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
