package clusterserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"connectrpc.com/connect"

	"github.com/yndnr/cloudlock-go/internal/keydist"
)

// DefaultRequestTimeout bounds a single node RPC.
const DefaultRequestTimeout = 30 * time.Second

// ClientConfig configures a Client.
type ClientConfig struct {
	// Secret is the shared cluster secret used to sign requests.
	Secret []byte

	// TLS enables https to peers. Nil uses plain http.
	TLS *tls.Config

	// Timeout bounds each request. Zero means DefaultRequestTimeout.
	Timeout time.Duration

	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Client calls the KeyService of other nodes. It keeps one Connect client
// per peer address.
type Client struct {
	http    *http.Client
	scheme  string
	timeout time.Duration
	opts    []connect.ClientOption

	mu    sync.Mutex
	peers map[string]*peerClient
}

type peerClient struct {
	updateKey  *connect.Client[keydist.UpdateKeyRequest, keydist.NodeResponse]
	nodeStatus *connect.Client[NodeStatusRequest, NodeStatus]
}

var _ keydist.NodeClient = (*Client)(nil)

// NewClient creates a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("clusterserver: cluster secret is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	scheme := "http"
	hc := cfg.HTTPClient
	if hc == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.TLS != nil {
			tr.TLSClientConfig = cfg.TLS
		}
		hc = &http.Client{Transport: tr}
	}
	if cfg.TLS != nil {
		scheme = "https"
	}
	return &Client{
		http:    hc,
		scheme:  scheme,
		timeout: cfg.Timeout,
		opts: []connect.ClientOption{
			connect.WithCodec(jsonCodec{}),
			connect.WithInterceptors(
				NewTokenInterceptor(cfg.Secret, cfg.Logger),
				NewLoggingInterceptor(cfg.Logger),
			),
		},
		peers: make(map[string]*peerClient),
	}, nil
}

func (c *Client) peer(addr string) *peerClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.peers[addr]; ok {
		return p
	}
	base := c.scheme + "://" + addr
	p := &peerClient{
		updateKey: connect.NewClient[keydist.UpdateKeyRequest, keydist.NodeResponse](
			c.http, base+UpdateKeyProcedure, c.opts...),
		nodeStatus: connect.NewClient[NodeStatusRequest, NodeStatus](
			c.http, base+NodeStatusProcedure, c.opts...),
	}
	c.peers[addr] = p
	return p
}

// Forget drops the cached client of a peer that left.
func (c *Client) Forget(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.peers, addr)
}

// UpdateKey delivers a sealed hierarchy to node.
func (c *Client) UpdateKey(ctx context.Context, node keydist.Node, req *keydist.UpdateKeyRequest) (*keydist.NodeResponse, error) {
	if node.Addr == "" {
		return nil, fmt.Errorf("clusterserver: node %s has no rpc address", node.ID)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.peer(node.Addr).updateKey.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, fmt.Errorf("clusterserver: update key on %s: %w", node.ID, err)
	}
	return resp.Msg, nil
}

// NodeStatus queries the key status of node.
func (c *Client) NodeStatus(ctx context.Context, node keydist.Node) (*NodeStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.peer(node.Addr).nodeStatus.CallUnary(ctx, connect.NewRequest(&NodeStatusRequest{}))
	if err != nil {
		return nil, fmt.Errorf("clusterserver: node status of %s: %w", node.ID, err)
	}
	return resp.Msg, nil
}
