package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-marketplace/backend/internal/errs"
)

// Connection is the RPC surface the program client needs. Kept narrow
// so tests can stub it.
type Connection interface {
	GetLatestBlockhash(ctx context.Context) (string, error)
	SendTransaction(ctx context.Context, txBase64 string) (string, error)
	// GetSignatureStatus reports whether the transaction reached
	// confirmed commitment; txErr carries the on-chain failure if the
	// transaction was processed and reverted.
	GetSignatureStatus(ctx context.Context, signature string) (confirmed bool, txErr error, err error)
	// GetAccountInfo returns the raw account data, or nil when the
	// account does not exist.
	GetAccountInfo(ctx context.Context, address string) ([]byte, error)
}

// RPCConnection talks JSON-RPC to a chain node over HTTP.
type RPCConnection struct {
	url  string
	http *http.Client
	log  *zap.Logger
}

func NewRPCConnection(url string, log *zap.Logger) *RPCConnection {
	return &RPCConnection{
		url:  url,
		http: &http.Client{Timeout: 30 * time.Second},
		log:  log,
	}
}

type rpcRequest struct {
	Jsonrpc string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error,omitempty"`
}

func (c *RPCConnection) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{Jsonrpc: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("rpc %s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc %s: node error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("rpc %s: decode result: %w", method, err)
		}
	}
	return nil
}

func (c *RPCConnection) GetLatestBlockhash(ctx context.Context) (string, error) {
	var result struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getLatestBlockhash", nil, &result); err != nil {
		return "", err
	}
	return result.Value.Blockhash, nil
}

func (c *RPCConnection) SendTransaction(ctx context.Context, txBase64 string) (string, error) {
	var signature string
	params := []any{txBase64, map[string]any{"encoding": "base64", "preflightCommitment": "confirmed"}}
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", errs.Transactionf("send transaction: %v", err)
	}
	return signature, nil
}

func (c *RPCConnection) GetSignatureStatus(ctx context.Context, signature string) (bool, error, error) {
	var result struct {
		Value []*struct {
			ConfirmationStatus string          `json:"confirmationStatus"`
			Err                json.RawMessage `json:"err"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getSignatureStatuses", []any{[]string{signature}}, &result); err != nil {
		return false, nil, err
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return false, nil, nil
	}
	st := result.Value[0]
	if len(st.Err) > 0 && string(st.Err) != "null" {
		return false, errs.Transactionf("transaction %s reverted: %s", signature, st.Err), nil
	}
	switch st.ConfirmationStatus {
	case "confirmed", "finalized":
		return true, nil, nil
	}
	return false, nil, nil
}

func (c *RPCConnection) GetAccountInfo(ctx context.Context, address string) ([]byte, error) {
	var result struct {
		Value *struct {
			Data []string `json:"data"` // [base64, "base64"]
		} `json:"value"`
	}
	params := []any{address, map[string]any{"encoding": "base64", "commitment": "confirmed"}}
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		return nil, err
	}
	if result.Value == nil || len(result.Value.Data) == 0 {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(result.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("decode account data for %s: %w", address, err)
	}
	return data, nil
}
