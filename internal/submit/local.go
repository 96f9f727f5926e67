package submit

import (
	"context"

	"github.com/example/netsettle/internal/chain"
)

// LocalClient adapts an in-process state machine to the ChainClient
// interface. Single-operator deployments run this; remote deployments swap
// in a transport-backed client.
type LocalClient struct {
	sm *chain.StateMachine
}

func NewLocalClient(sm *chain.StateMachine) *LocalClient {
	return &LocalClient{sm: sm}
}

func (c *LocalClient) Submit(ctx context.Context, tx *chain.SettlementTx) (*chain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.sm.Apply(tx)
}

func (c *LocalClient) LastApplied(ctx context.Context, market string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.sm.LastApplied(market), nil
}
