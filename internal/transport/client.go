// Package transport carries league.v2 envelopes between agents as JSON-RPC
// 2.0 tools/call requests over HTTP POST. Each agent runs one Server and
// one shared Client; the client keeps a small idle-connection pool per peer.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"league-platform/internal/protocol"

	"github.com/google/uuid"
)

const (
	// MCPPath is the single JSON-RPC endpoint every agent exposes.
	MCPPath = "/mcp"

	defaultIdleTimeout    = 60 * time.Second
	defaultMaxIdlePerPeer = 4
	defaultDialTimeout    = 3 * time.Second
)

// rpcRequest is the JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      string    `json:"id"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
}

type rpcParams struct {
	Name      string             `json:"name"`
	Arguments *protocol.Envelope `json:"arguments"`
}

// rpcResponse is the JSON-RPC 2.0 response envelope. Unknown fields are
// ignored when decoding.
type rpcResponse struct {
	JSONRPC string             `json:"jsonrpc"`
	ID      string             `json:"id"`
	Result  *protocol.Envelope `json:"result,omitempty"`
	Error   *RemoteError       `json:"error,omitempty"`
}

// Client issues league.v2 calls to peers. Safe for concurrent use; retries
// are the responsibility of the callers, never of this layer.
type Client struct {
	http *http.Client
}

// NewClient builds a client with a pooled transport. idleTimeout bounds how
// long idle connections to a peer are kept open; zero means the default.
func NewClient(idleTimeout time.Duration) *Client {
	if idleTimeout == 0 {
		idleTimeout = defaultIdleTimeout
	}
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: defaultDialTimeout,
				}).DialContext,
				MaxIdleConnsPerHost: defaultMaxIdlePerPeer,
				IdleConnTimeout:     idleTimeout,
			},
		},
	}
}

// Call POSTs one envelope to endpoint and waits for the correlated response
// up to timeout. The returned error is one of ErrConnect, ErrTimeout,
// ErrProtocol or a *RemoteError.
func (c *Client) Call(ctx context.Context, endpoint string, env *protocol.Envelope, timeout time.Duration) (*protocol.Envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqID := uuid.New().String()
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "tools/call",
		Params:  rpcParams{Name: env.MessageType, Arguments: env},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrProtocol, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+MCPPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: decode response: %v", ErrProtocol, err)
	}

	if rpcResp.ID == "" {
		return nil, fmt.Errorf("%w: response missing id", ErrProtocol)
	}
	if rpcResp.ID != reqID {
		return nil, fmt.Errorf("%w: response id mismatch: sent %s, got %s", ErrProtocol, reqID, rpcResp.ID)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	if rpcResp.Result == nil {
		return nil, fmt.Errorf("%w: response has neither result nor error", ErrProtocol)
	}
	return rpcResp.Result, nil
}
