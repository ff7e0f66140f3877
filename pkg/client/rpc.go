package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/cin-tie/remote-shell/internal/logger"
	"github.com/cin-tie/remote-shell/pkg/adapter/rpc"
	"github.com/cin-tie/remote-shell/pkg/protocol"
	"github.com/cin-tie/remote-shell/pkg/session"
)

// rpcTransport posts each command to the call endpoint. The session is
// identified by a random token sent on every call; server notices come back
// in response headers.
type rpcTransport struct {
	baseURL  string
	token    string
	http     *http.Client
	onNotice func(*protocol.Disconnect)
}

// DialRPC prepares a call transport for baseURL, e.g. http://host:1099, and
// checks that the server answers its ping endpoint.
func DialRPC(ctx context.Context, baseURL string, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	c := newClient()
	t := &rpcTransport{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    uuid.NewString(),
		http:     httpClient,
		onNotice: c.notice,
	}
	if err := t.ping(ctx); err != nil {
		return nil, err
	}
	c.t = t

	logger.Debug("RPC transport ready", logger.KeyAddress, t.baseURL)
	return c, nil
}

func (t *rpcTransport) name() string { return session.TransportRPC }

func (t *rpcTransport) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+rpc.PingPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("ping %s: %w", t.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping %s: unexpected status %s", t.baseURL, resp.Status)
	}
	return nil
}

func (t *rpcTransport) call(ctx context.Context, msg protocol.Message) (protocol.Result, error) {
	body, err := protocol.Encode(msg)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+rpc.CallPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", rpc.ContentType)
	req.Header.Set(rpc.HeaderSessionToken, t.token)

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	t.notices(resp.Header.Values(rpc.HeaderSessionNotice))

	decoded, err := protocol.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	res, ok := decoded.(protocol.Result)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedResult, decoded.Tag())
	}
	return res, nil
}

func (t *rpcTransport) notices(values []string) {
	for _, v := range values {
		m, err := rpc.DecodeNotice(v)
		if err != nil {
			logger.Debug("Dropping malformed notice", logger.Err(err))
			continue
		}
		if d, ok := m.(*protocol.Disconnect); ok {
			t.onNotice(d)
		}
	}
}

func (t *rpcTransport) close() error {
	t.http.CloseIdleConnections()
	return nil
}
