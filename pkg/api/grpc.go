package api

import (
	"context"
	"github.com/andreikom/ac-observator/pkg/models"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"math"
	"net/http"
	"time"
)

const grpcSource = "grpc"

const observatorServiceName = "observator.v1.Observator"

// ObservatorServer carries its payloads as google.protobuf.Struct so the
// service needs no generated code.
type ObservatorServer interface {
	ListSensorTypes(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	SubmitReading(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetDailyStats(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

func RegisterObservatorServer(s grpc.ServiceRegistrar, srv ObservatorServer) {
	s.RegisterService(&observatorServiceDesc, srv)
}

var observatorServiceDesc = grpc.ServiceDesc{
	ServiceName: observatorServiceName,
	HandlerType: (*ObservatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListSensorTypes", Handler: unaryHandler("ListSensorTypes", ObservatorServer.ListSensorTypes)},
		{MethodName: "SubmitReading", Handler: unaryHandler("SubmitReading", ObservatorServer.SubmitReading)},
		{MethodName: "GetDailyStats", Handler: unaryHandler("GetDailyStats", ObservatorServer.GetDailyStats)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "observator/v1/observator.proto",
}

type unaryMethod func(ObservatorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, method unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + observatorServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return method(srv.(ObservatorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return method(srv.(ObservatorServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

type ObservatorClient struct {
	cc grpc.ClientConnInterface
}

func NewObservatorClient(cc grpc.ClientConnInterface) *ObservatorClient {
	return &ObservatorClient{cc: cc}
}

func (c *ObservatorClient) call(ctx context.Context, name string, in *structpb.Struct) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+observatorServiceName+"/"+name, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ObservatorClient) ListSensorTypes(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return c.call(ctx, "ListSensorTypes", in)
}

func (c *ObservatorClient) SubmitReading(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return c.call(ctx, "SubmitReading", in)
}

func (c *ObservatorClient) GetDailyStats(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return c.call(ctx, "GetDailyStats", in)
}

type observatorGrpc struct {
	service observationService
}

func (o *observatorGrpc) ListSensorTypes(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	types := o.service.SensorTypes()
	list := make([]any, len(types))
	for i, t := range types {
		list[i] = map[string]any{
			"id":        t.Id,
			"createdAt": t.CreatedAt.Format(time.RFC3339Nano),
			"name":      string(t.Name),
			"unit":      t.Unit,
		}
	}
	out, err := structpb.NewStruct(map[string]any{"sensorTypes": list})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (o *observatorGrpc) SubmitReading(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sensorTypeId, err := intField(in, "sensorTypeId")
	if err != nil {
		return nil, grpcError(err)
	}
	valueField, ok := in.GetFields()["value"]
	if !ok {
		return nil, grpcError(errors.Wrap(models.ErrValidation, "value is required"))
	}
	if _, isNumber := valueField.GetKind().(*structpb.Value_NumberValue); !isNumber {
		return nil, grpcError(errors.Wrap(models.ErrValidation, "value must be a number"))
	}
	value := valueField.GetNumberValue()
	reading := models.Reading{SensorTypeId: sensorTypeId, Value: &value}
	if createdAt := in.GetFields()["createdAt"].GetStringValue(); createdAt != "" {
		reading.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, grpcError(errors.Wrap(models.ErrValidation, "createdAt must be RFC3339"))
		}
	}
	if err := o.service.Submit(ctx, grpcSource, reading); err != nil {
		return nil, grpcError(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"accepted": structpb.NewBoolValue(true),
	}}, nil
}

func (o *observatorGrpc) GetDailyStats(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sensorTypeId, err := intField(in, "sensorTypeId")
	if err != nil {
		return nil, grpcError(err)
	}
	stats, err := o.service.DailyStats(sensorTypeId, in.GetFields()["date"].GetStringValue())
	if err != nil {
		return nil, grpcError(err)
	}
	out, err := structpb.NewStruct(map[string]any{
		"sensorTypeId": stats.SensorTypeId,
		"count":        stats.Count,
		"min":          stats.Min,
		"max":          stats.Max,
		"avg":          stats.Avg,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func intField(in *structpb.Struct, name string) (int64, error) {
	v, ok := in.GetFields()[name]
	if !ok {
		return 0, errors.Wrapf(models.ErrValidation, "%s is required", name)
	}
	n := v.GetNumberValue()
	if n != math.Trunc(n) || n < 1 || n >= math.MaxInt64 {
		return 0, errors.Wrapf(models.ErrValidation, "%s must be a positive integer", name)
	}
	return int64(n), nil
}

func grpcError(err error) error {
	switch statusFor(err) {
	case http.StatusBadRequest:
		return status.Error(codes.InvalidArgument, err.Error())
	case http.StatusNotFound:
		return status.Error(codes.NotFound, err.Error())
	case http.StatusConflict:
		return status.Error(codes.AlreadyExists, err.Error())
	case http.StatusUnprocessableEntity:
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
