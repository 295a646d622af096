package client

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Krajiyah/firebase-admin-util/internal/record"
	"github.com/Krajiyah/firebase-admin-util/internal/server"
)

// GRPCClient implements Client using the gRPC transport.
type GRPCClient struct {
	conn    *grpc.ClientConn
	records *server.RecordServiceClient
	health  healthpb.HealthClient
}

// NewGRPCClient connects to the given gRPC address and returns a client.
// When token is non-empty it is sent as a Bearer token on every call.
func NewGRPCClient(addr, token string, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	if token != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(bearer(token)))
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCClient{
		conn:    conn,
		records: server.NewRecordServiceClient(conn),
		health:  healthpb.NewHealthClient(conn),
	}, nil
}

func bearer(token string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

// fromStruct decodes a Struct through its JSON encoding.
func fromStruct(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func document(s *structpb.Struct, err error) (*record.Document, error) {
	if err != nil {
		return nil, err
	}
	var doc record.Document
	if err := fromStruct(s, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *GRPCClient) Get(ctx context.Context, entity, key string) (*record.Document, error) {
	return document(c.records.Get(ctx, entity, key))
}

// List supports the zero Query and Field/Value queries; the record service
// has no key, prefix or range selectors.
func (c *GRPCClient) List(ctx context.Context, entity string, q *Query) ([]record.Document, error) {
	var field string
	var value any
	if q != nil {
		if len(q.Keys) > 0 || q.Prefix != "" || q.Lo != nil || q.Hi != nil {
			return nil, fmt.Errorf("list %s: only field/value queries are supported over gRPC", entity)
		}
		field, value = q.Field, q.Value
	}
	s, err := c.records.Query(ctx, entity, field, value)
	if err != nil {
		return nil, err
	}
	var resp ListResponse
	if err := fromStruct(s, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (c *GRPCClient) Create(ctx context.Context, entity, key string, fields map[string]any) (*record.Document, error) {
	return document(c.records.Create(ctx, entity, key, fields))
}

func (c *GRPCClient) Delete(ctx context.Context, entity, key string) (*record.Document, error) {
	return document(c.records.Delete(ctx, entity, key))
}

func (c *GRPCClient) Health(ctx context.Context) (string, error) {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return "", err
	}
	if resp.Status == healthpb.HealthCheckResponse_SERVING {
		return "ok", nil
	}
	return resp.Status.String(), nil
}
