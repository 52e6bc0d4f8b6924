package grpc

// proto.go defines the gRPC server interface of bib.reconciliation.v1.AllocationService.
// Messages travel with the JSON codec registered in json_codec.go until the
// service has generated protobuf bindings.

import (
	"context"

	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const serviceName = "bib.reconciliation.v1.AllocationService"

// AllocationServiceServer is the server API for AllocationService.
type AllocationServiceServer interface {
	RegisterPayable(context.Context, *RegisterPayableMsg) (*PayableMsg, error)
	Allocate(context.Context, *AllocateMsg) (*AllocationEntryMsg, error)
	EditAllocation(context.Context, *EditAllocationMsg) (*AllocationEntryMsg, error)
	ReverseAllocation(context.Context, *ReverseAllocationMsg) (*ReverseAllocationResponseMsg, error)
	ReversePayableAllocations(context.Context, *ReversePayablesMsg) (*ReversePayablesResponseMsg, error)
	ListPayableAllocations(context.Context, *ListPayableAllocationsMsg) (*ListPayableAllocationsResponseMsg, error)
	CreatePayment(context.Context, *CreatePaymentMsg) (*PaymentMsg, error)
	UpdatePayment(context.Context, *UpdatePaymentMsg) (*PaymentMsg, error)
	DeletePayment(context.Context, *DeletePaymentMsg) (*DeletePaymentResponseMsg, error)
	ImportPayments(context.Context, *ImportPaymentsMsg) (*ImportPaymentsResponseMsg, error)
	ImportStatement(context.Context, *ImportStatementMsg) (*ImportStatementResponseMsg, error)
	GetPayment(context.Context, *GetPaymentMsg) (*PaymentMsg, error)
	mustEmbedUnimplementedAllocationServiceServer()
}

// UnimplementedAllocationServiceServer provides forward-compatible default implementations.
type UnimplementedAllocationServiceServer struct{}

func (UnimplementedAllocationServiceServer) RegisterPayable(context.Context, *RegisterPayableMsg) (*PayableMsg, error) {
	return nil, status.Errorf(codes.Unimplemented, "method RegisterPayable not implemented")
}
func (UnimplementedAllocationServiceServer) Allocate(context.Context, *AllocateMsg) (*AllocationEntryMsg, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Allocate not implemented")
}
func (UnimplementedAllocationServiceServer) EditAllocation(context.Context, *EditAllocationMsg) (*AllocationEntryMsg, error) {
	return nil, status.Errorf(codes.Unimplemented, "method EditAllocation not implemented")
}
func (UnimplementedAllocationServiceServer) ReverseAllocation(context.Context, *ReverseAllocationMsg) (*ReverseAllocationResponseMsg, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ReverseAllocation not implemented")
}
func (UnimplementedAllocationServiceServer) ReversePayableAllocations(context.Context, *ReversePayablesMsg) (*ReversePayablesResponseMsg, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ReversePayableAllocations not implemented")
}
func (UnimplementedAllocationServiceServer) ListPayableAllocations(context.Context, *ListPayableAllocationsMsg) (*ListPayableAllocationsResponseMsg, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ListPayableAllocations not implemented")
}
func (UnimplementedAllocationServiceServer) CreatePayment(context.Context, *CreatePaymentMsg) (*PaymentMsg, error) {
	return nil, status.Errorf(codes.Unimplemented, "method CreatePayment not implemented")
}
func (UnimplementedAllocationServiceServer) UpdatePayment(context.Context, *UpdatePaymentMsg) (*PaymentMsg, error) {
	return nil, status.Errorf(codes.Unimplemented, "method UpdatePayment not implemented")
}
func (UnimplementedAllocationServiceServer) DeletePayment(context.Context, *DeletePaymentMsg) (*DeletePaymentResponseMsg, error) {
	return nil, status.Errorf(codes.Unimplemented, "method DeletePayment not implemented")
}
func (UnimplementedAllocationServiceServer) ImportPayments(context.Context, *ImportPaymentsMsg) (*ImportPaymentsResponseMsg, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ImportPayments not implemented")
}
func (UnimplementedAllocationServiceServer) ImportStatement(context.Context, *ImportStatementMsg) (*ImportStatementResponseMsg, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ImportStatement not implemented")
}
func (UnimplementedAllocationServiceServer) GetPayment(context.Context, *GetPaymentMsg) (*PaymentMsg, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetPayment not implemented")
}
func (UnimplementedAllocationServiceServer) mustEmbedUnimplementedAllocationServiceServer() {}

// RegisterAllocationServiceServer registers the AllocationServiceServer with the gRPC server.
func RegisterAllocationServiceServer(s grpclib.ServiceRegistrar, srv AllocationServiceServer) {
	s.RegisterService(&_AllocationService_serviceDesc, srv)
}

var _AllocationService_serviceDesc = grpclib.ServiceDesc{ //nolint:revive
	ServiceName: serviceName,
	HandlerType: (*AllocationServiceServer)(nil),
	Methods: []grpclib.MethodDesc{
		{MethodName: "RegisterPayable", Handler: unaryHandler("RegisterPayable", AllocationServiceServer.RegisterPayable)},
		{MethodName: "Allocate", Handler: unaryHandler("Allocate", AllocationServiceServer.Allocate)},
		{MethodName: "EditAllocation", Handler: unaryHandler("EditAllocation", AllocationServiceServer.EditAllocation)},
		{MethodName: "ReverseAllocation", Handler: unaryHandler("ReverseAllocation", AllocationServiceServer.ReverseAllocation)},
		{MethodName: "ReversePayableAllocations", Handler: unaryHandler("ReversePayableAllocations", AllocationServiceServer.ReversePayableAllocations)},
		{MethodName: "ListPayableAllocations", Handler: unaryHandler("ListPayableAllocations", AllocationServiceServer.ListPayableAllocations)},
		{MethodName: "CreatePayment", Handler: unaryHandler("CreatePayment", AllocationServiceServer.CreatePayment)},
		{MethodName: "UpdatePayment", Handler: unaryHandler("UpdatePayment", AllocationServiceServer.UpdatePayment)},
		{MethodName: "DeletePayment", Handler: unaryHandler("DeletePayment", AllocationServiceServer.DeletePayment)},
		{MethodName: "ImportPayments", Handler: unaryHandler("ImportPayments", AllocationServiceServer.ImportPayments)},
		{MethodName: "ImportStatement", Handler: unaryHandler("ImportStatement", AllocationServiceServer.ImportStatement)},
		{MethodName: "GetPayment", Handler: unaryHandler("GetPayment", AllocationServiceServer.GetPayment)},
	},
	Streams: []grpclib.StreamDesc{},
}

// unaryHandler builds the method handler generated code would emit for one RPC.
func unaryHandler[Req, Resp any](method string, call func(AllocationServiceServer, context.Context, *Req) (*Resp, error)) grpclib.MethodHandler {
	fullMethod := "/" + serviceName + "/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpclib.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AllocationServiceServer), ctx, in)
		}
		info := &grpclib.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(AllocationServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
