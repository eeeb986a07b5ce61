package dispatch

import (
	"context"
	"fmt"

	"github.com/mllp-protocol/mllp-go/pkg/hl7"
)

// Transaction is one registered message-type handler: a capability object
// whose hooks are composed by a single fixed orchestration in Handle.
//
// Instances are registered once and invoked concurrently across many
// connections. Hooks must keep all call state local to the invocation; the
// registry they live in is long-lived and read-only.
type Transaction struct {
	// Version is the HL7 version this transaction serves (e.g. "2.5").
	Version string

	// Structure is the message structure name it handles (e.g. "ADT_A01").
	Structure string

	// Verify inspects the inbound message and may reject it with a canned
	// response that short-circuits Execute. Nil accepts unconditionally.
	Verify func(msg *hl7.Message) (accepted bool, rejection *hl7.Message)

	// Execute produces the domain response. Required. Invoked only when
	// Verify accepts.
	Execute func(ctx context.Context, msg *hl7.Message) (*hl7.Message, error)

	// FinalizeHeaders stamps header fields on the response, whether it came
	// from rejection or from Execute. Nil is a passthrough.
	FinalizeHeaders func(resp *hl7.Message) *hl7.Message
}

// Handle runs verify, then execute unless verify rejected, then finalize.
// FinalizeHeaders runs exactly once per invocation, on the canned rejection
// response or on the Execute result.
func (t *Transaction) Handle(ctx context.Context, msg *hl7.Message) (*hl7.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var resp *hl7.Message
	if t.Verify != nil {
		accepted, rejection := t.Verify(msg)
		if !accepted {
			if rejection == nil {
				return nil, fmt.Errorf("transaction %s/%s rejected message without a response", t.Version, t.Structure)
			}
			resp = rejection
		}
	}

	if resp == nil {
		result, err := t.Execute(ctx, msg)
		if err != nil {
			return nil, err
		}
		resp = result
	}

	if t.FinalizeHeaders != nil {
		resp = t.FinalizeHeaders(resp)
	}
	return resp, nil
}

// key returns the registry key for this transaction.
func (t *Transaction) key() Key {
	return Key{Version: t.Version, Structure: t.Structure}
}
