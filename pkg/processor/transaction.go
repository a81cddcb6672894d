package processor

import (
	"context"

	"github.com/google/uuid"

	"github.com/polisai/polis-gateway/pkg/execution"
)

// Correlation headers set on requests and responses.
const (
	HeaderRequestID     = "X-Request-Id"
	HeaderTransactionID = "X-Transaction-Id"
)

const transactionID = "transaction"

// Transaction assigns the request id and propagates a client supplied
// transaction id, or the request id when the client sent none. Both are
// forwarded to the backend and returned to the client.
type Transaction struct{}

func (Transaction) ID() string { return transactionID }

func (Transaction) Execute(_ context.Context, ec *execution.Context) error {
	req := ec.Request()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.TransactionID == "" {
		req.TransactionID = req.Headers.Get(HeaderTransactionID)
	}
	if req.TransactionID == "" {
		req.TransactionID = req.ID
	}

	req.Headers.Set(HeaderRequestID, req.ID)
	req.Headers.Set(HeaderTransactionID, req.TransactionID)
	resp := ec.Response()
	resp.Headers.Set(HeaderRequestID, req.ID)
	resp.Headers.Set(HeaderTransactionID, req.TransactionID)
	return nil
}
