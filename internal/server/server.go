package server

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pb "github.com/example/netsettle/api/gen/settlement"
	"github.com/example/netsettle/internal/archive"
	"github.com/example/netsettle/internal/engine"
	"github.com/example/netsettle/internal/intent"
	"github.com/example/netsettle/internal/metrics"
	"github.com/example/netsettle/pkg/logger"
)

// SettlementServer exposes the engine over gRPC.
type SettlementServer struct {
	pb.UnimplementedSettlementServiceServer

	engine  *engine.Engine
	archive archive.Store
	limiter *RedisTokenBucket
	events  *EventHub
}

// New creates the gRPC service. The limiter and hub may be nil.
func New(eng *engine.Engine, store archive.Store, limiter *RedisTokenBucket, hub *EventHub) *SettlementServer {
	if limiter == nil {
		limiter = &RedisTokenBucket{}
	}
	if hub == nil {
		hub = NewEventHub()
	}
	return &SettlementServer{engine: eng, archive: store, limiter: limiter, events: hub}
}

// SubmitIntent validates and admits one intent.
func (s *SettlementServer) SubmitIntent(ctx context.Context, req *pb.SubmitIntentRequest) (*pb.SubmitIntentResponse, error) {
	allowed, _, err := s.limiter.Allow(ctx, req.SessionKey)
	if err != nil {
		return nil, status.Error(codes.Unavailable, "rate limiter unavailable")
	}
	if !allowed {
		return nil, status.Error(codes.ResourceExhausted, "session rate limited")
	}

	in := &intent.Intent{
		Market:     req.Market,
		Sender:     req.Sender,
		Recipient:  req.Recipient,
		Kind:       intent.Kind(req.Kind),
		Amount:     req.Amount,
		ItemID:     req.ItemId,
		Quantity:   req.Quantity,
		GrossPrice: req.GrossPrice,
		Creator:    req.Creator,
		RoyaltyBps: uint16(req.RoyaltyBps),
		Sale:       intent.SaleKind(req.Sale),
		Nonce:      req.Nonce,
		SessionKey: req.SessionKey,
		Signature:  req.Signature,
		CreatedAt:  time.Unix(req.CreatedAt, 0).UTC(),
		TTL:        time.Duration(req.TtlSeconds) * time.Second,
	}

	id, err := s.engine.Submit(ctx, in)
	if err != nil {
		var rej *intent.Rejection
		if errors.As(err, &rej) {
			metrics.IntentRejected(string(rej.Code))
			return nil, status.Error(rejectionCode(rej.Code), rej.Error())
		}
		logger.WithMarket(req.Market).WithError(err).
			WithField("correlation_id", CorrelationIDFromContext(ctx)).
			Error("intent submission failed")
		return nil, status.Error(codes.Internal, "submission failed")
	}
	return &pb.SubmitIntentResponse{IntentId: id}, nil
}

// CancelIntent withdraws a pending intent. Once the intent has been flushed
// into a batch the cancellation is refused.
func (s *SettlementServer) CancelIntent(ctx context.Context, req *pb.CancelIntentRequest) (*pb.CancelIntentResponse, error) {
	err := s.engine.Cancel(ctx, req.Market, req.IntentId)
	switch {
	case err == nil:
		return &pb.CancelIntentResponse{Cancelled: true}, nil
	case errors.Is(err, engine.ErrAlreadyFlushed):
		return &pb.CancelIntentResponse{Cancelled: false, Reason: "already flushed"}, nil
	case errors.Is(err, engine.ErrUnknownIntent):
		return nil, status.Error(codes.NotFound, "intent not found")
	default:
		return nil, status.Error(codes.Internal, "cancel failed")
	}
}

// GetInclusionProof returns the Merkle proof for a wallet's entry in a
// recent batch.
func (s *SettlementServer) GetInclusionProof(ctx context.Context, req *pb.GetInclusionProofRequest) (*pb.GetInclusionProofResponse, error) {
	proof, root, err := s.engine.Proof(ctx, req.Market, req.BatchId, req.Wallet)
	if err != nil {
		return nil, status.Error(codes.NotFound, err.Error())
	}
	siblings := make([][]byte, len(proof.Siblings))
	for i, sib := range proof.Siblings {
		cp := sib
		siblings[i] = cp[:]
	}
	return &pb.GetInclusionProofResponse{
		MerkleRoot: root[:],
		LeafIndex:  proof.Index,
		Siblings:   siblings,
	}, nil
}

// GetBatch returns the archived summary of a settled batch.
func (s *SettlementServer) GetBatch(ctx context.Context, req *pb.GetBatchRequest) (*pb.GetBatchResponse, error) {
	rec, err := s.archive.GetBatch(ctx, req.Market, req.BatchId)
	if err != nil {
		return nil, status.Error(codes.NotFound, err.Error())
	}
	return &pb.GetBatchResponse{
		BatchId:      rec.BatchID,
		Market:       rec.Market,
		MerkleRoot:   rec.MerkleRoot,
		BatchHash:    rec.BatchHash,
		NumWallets:   int32(rec.NumWallets),
		NumItems:     int32(rec.NumItems),
		AnonymitySet: int32(rec.AnonymitySet),
		Fee:          rec.Fee,
		AppliedAt:    rec.AppliedAt.UTC().Format(time.RFC3339),
	}, nil
}

func rejectionCode(code intent.RejectCode) codes.Code {
	switch code {
	case intent.RejectBadSignature:
		return codes.Unauthenticated
	case intent.RejectNonceReused:
		return codes.AlreadyExists
	case intent.RejectVolumeExceeded:
		return codes.ResourceExhausted
	case intent.RejectExpired:
		return codes.DeadlineExceeded
	default:
		return codes.InvalidArgument
	}
}
