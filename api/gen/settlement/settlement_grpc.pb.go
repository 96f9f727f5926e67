package settlement

import (
	context "context"
	grpc "google.golang.org/grpc"
)

type SettlementServiceClient interface {
	SubmitIntent(ctx context.Context, in *SubmitIntentRequest, opts ...grpc.CallOption) (*SubmitIntentResponse, error)
	CancelIntent(ctx context.Context, in *CancelIntentRequest, opts ...grpc.CallOption) (*CancelIntentResponse, error)
	GetInclusionProof(ctx context.Context, in *GetInclusionProofRequest, opts ...grpc.CallOption) (*GetInclusionProofResponse, error)
	GetBatch(ctx context.Context, in *GetBatchRequest, opts ...grpc.CallOption) (*GetBatchResponse, error)
	StreamEvents(ctx context.Context, in *StreamEventsRequest, opts ...grpc.CallOption) (SettlementService_StreamEventsClient, error)
}

type settlementServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSettlementServiceClient(cc grpc.ClientConnInterface) SettlementServiceClient {
	return &settlementServiceClient{cc: cc}
}

func (c *settlementServiceClient) SubmitIntent(ctx context.Context, in *SubmitIntentRequest, opts ...grpc.CallOption) (*SubmitIntentResponse, error) {
	out := new(SubmitIntentResponse)
	err := c.cc.Invoke(ctx, "/settlement.SettlementService/SubmitIntent", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *settlementServiceClient) CancelIntent(ctx context.Context, in *CancelIntentRequest, opts ...grpc.CallOption) (*CancelIntentResponse, error) {
	out := new(CancelIntentResponse)
	err := c.cc.Invoke(ctx, "/settlement.SettlementService/CancelIntent", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *settlementServiceClient) GetInclusionProof(ctx context.Context, in *GetInclusionProofRequest, opts ...grpc.CallOption) (*GetInclusionProofResponse, error) {
	out := new(GetInclusionProofResponse)
	err := c.cc.Invoke(ctx, "/settlement.SettlementService/GetInclusionProof", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *settlementServiceClient) GetBatch(ctx context.Context, in *GetBatchRequest, opts ...grpc.CallOption) (*GetBatchResponse, error) {
	out := new(GetBatchResponse)
	err := c.cc.Invoke(ctx, "/settlement.SettlementService/GetBatch", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *settlementServiceClient) StreamEvents(ctx context.Context, in *StreamEventsRequest, opts ...grpc.CallOption) (SettlementService_StreamEventsClient, error) {
	desc := &grpc.StreamDesc{StreamName: "StreamEvents", ServerStreams: true}
	stream, err := c.cc.NewStream(ctx, desc, "/settlement.SettlementService/StreamEvents", opts...)
	if err != nil {
		return nil, err
	}
	x := &settlementServiceStreamEventsClient{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type SettlementService_StreamEventsClient interface {
	Recv() (*SettlementEvent, error)
	grpc.ClientStream
}

type settlementServiceStreamEventsClient struct {
	grpc.ClientStream
}

func (x *settlementServiceStreamEventsClient) Recv() (*SettlementEvent, error) {
	m := new(SettlementEvent)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

type SettlementServiceServer interface {
	SubmitIntent(context.Context, *SubmitIntentRequest) (*SubmitIntentResponse, error)
	CancelIntent(context.Context, *CancelIntentRequest) (*CancelIntentResponse, error)
	GetInclusionProof(context.Context, *GetInclusionProofRequest) (*GetInclusionProofResponse, error)
	GetBatch(context.Context, *GetBatchRequest) (*GetBatchResponse, error)
	StreamEvents(*StreamEventsRequest, SettlementService_StreamEventsServer) error
	MustEmbedUnimplementedSettlementServiceServer()
}

type SettlementService_StreamEventsServer interface {
	Send(*SettlementEvent) error
	grpc.ServerStream
}

type UnimplementedSettlementServiceServer struct{}

func (UnimplementedSettlementServiceServer) SubmitIntent(context.Context, *SubmitIntentRequest) (*SubmitIntentResponse, error) {
	return nil, nil
}
func (UnimplementedSettlementServiceServer) CancelIntent(context.Context, *CancelIntentRequest) (*CancelIntentResponse, error) {
	return nil, nil
}
func (UnimplementedSettlementServiceServer) GetInclusionProof(context.Context, *GetInclusionProofRequest) (*GetInclusionProofResponse, error) {
	return nil, nil
}
func (UnimplementedSettlementServiceServer) GetBatch(context.Context, *GetBatchRequest) (*GetBatchResponse, error) {
	return nil, nil
}
func (UnimplementedSettlementServiceServer) StreamEvents(*StreamEventsRequest, SettlementService_StreamEventsServer) error {
	return nil
}
func (UnimplementedSettlementServiceServer) MustEmbedUnimplementedSettlementServiceServer() {}

type UnsafeSettlementServiceServer interface {
	MustEmbedUnimplementedSettlementServiceServer()
}

func RegisterSettlementServiceServer(s grpc.ServiceRegistrar, srv SettlementServiceServer) {
	_ = srv
	_ = s
}
