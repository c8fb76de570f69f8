package port

import "context"

// GatewayMessage is one entry of a bulk-send RPC request.
type GatewayMessage struct {
	Destination string `json:"to"`
	SenderID    string `json:"from"`
	Text        string `json:"text"`
	// Ref is the caller's tracking ID, echoed back by delivery reports.
	Ref string `json:"ref"`
}

// GatewayResult is the per-message outcome of a bulk-send RPC, aligned by
// position with the request. An empty MessageID means the gateway rejected
// that message.
type GatewayResult struct {
	MessageID string `json:"messageId"`
}

// LookupResult is the gateway's answer to a status lookup. MessageID is the
// gateway's identifier for the message, useful when the original send
// response carrying it was lost.
type LookupResult struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// SMSGateway is the upstream transport. The platform does not implement its
// own transport; batch size and rate limits of the gateway are treated as a
// black box.
type SMSGateway interface {
	// SendBulk submits the whole batch in one RPC. The returned slice has
	// the same length and order as the input. An error means the RPC as a
	// whole failed and nothing was accepted.
	SendBulk(ctx context.Context, msgs []GatewayMessage) ([]GatewayResult, error)

	// LookupStatus resolves the current delivery status of a message by the
	// caller reference submitted with it.
	LookupStatus(ctx context.Context, ref string) (LookupResult, error)
}
