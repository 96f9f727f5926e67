package server

import (
	"sync"

	pb "github.com/example/netsettle/api/gen/settlement"
	"github.com/example/netsettle/internal/chain"
)

// EventHub fans settlement events out to stream subscribers. Publish is
// called from the chain event sink, which runs inside the market lock, so
// delivery is non-blocking: a subscriber that falls behind loses events
// rather than stalling settlement.
type EventHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*eventSub
}

type eventSub struct {
	market string // empty subscribes to all markets
	ch     chan *pb.SettlementEvent
}

func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[int]*eventSub)}
}

// Publish delivers an applied-batch event to every matching subscriber.
func (h *EventHub) Publish(ev chain.Event) {
	msg := &pb.SettlementEvent{
		BatchId:    ev.BatchID,
		Market:     ev.Market,
		MerkleRoot: ev.MerkleRoot[:],
		NumWallets: int32(ev.NumWallets),
		NumItems:   int32(ev.NumItems),
		TotalFee:   ev.TotalFee,
		Timestamp:  ev.Timestamp.Unix(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if sub.market != "" && sub.market != ev.Market {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
		}
	}
}

// Subscribe registers a listener for one market, or all markets when market
// is empty. The caller must invoke cancel to release the subscription.
func (h *EventHub) Subscribe(market string) (<-chan *pb.SettlementEvent, func()) {
	sub := &eventSub{market: market, ch: make(chan *pb.SettlementEvent, 16)}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
	return sub.ch, cancel
}

// StreamEvents pushes applied-batch events to the client until it
// disconnects.
func (s *SettlementServer) StreamEvents(req *pb.StreamEventsRequest, stream pb.SettlementService_StreamEventsServer) error {
	events, cancel := s.events.Subscribe(req.Market)
	defer cancel()

	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case ev := <-events:
			if err := stream.Send(ev); err != nil {
				return err
			}
		}
	}
}
