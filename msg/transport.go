package msg

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/valyala/fasthttp"

	"github.com/taskmesh/taskmesh/cmn/nlog"
)

// NodeTable maps a node id to the host:port its msg.Server listens on; it
// implements xfer.NodeResolver so the xfer package's RemoteWriteChannel
// can resolve destinations without depending on this package.
type NodeTable struct {
	mu    sync.RWMutex
	addrs map[uint16]string
}

func NewNodeTable() *NodeTable { return &NodeTable{addrs: make(map[uint16]string)} }

func (t *NodeTable) Set(node uint16, addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addrs[node] = addr
}

func (t *NodeTable) AddressFor(node uint16) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	addr, ok := t.addrs[node]
	if !ok {
		return "", fmt.Errorf("msg: no known address for node %d", node)
	}
	return addr, nil
}

const (
	pathXferCtl  = "/xfer/ctl"
	pathReplCtl  = "/repl/ctl"
	pathCtxCtl   = "/ctx/ctl"
	jwtAuthor    = "taskmesh-shardmgr"
	jwtHeaderKey = "Authorization"
)

// replClaims authenticates a ReplicateLaunch/lifecycle message as having
// originated from a shard manager holding the cluster's shared secret,
// the same HS256 bearer-token pattern the corpus uses to authenticate its
// own internal node-to-node calls.
type replClaims struct {
	jwt.RegisteredClaims
	ReplID uint64 `json:"repl_id"`
}

func signReplToken(secret []byte, replID uint64) (string, error) {
	claims := replClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    jwtAuthor,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		ReplID: replID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func verifyReplToken(secret []byte, tokenString string) (uint64, error) {
	claims := &replClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("msg: unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("msg: verify repl token: %w", err)
	}
	if !token.Valid {
		return 0, fmt.Errorf("msg: repl token invalid")
	}
	return claims.ReplID, nil
}

// Client sends wire envelopes to other nodes' msg.Server endpoints over
// fasthttp, mirroring the same client the corpus's internal RPCs use.
type Client struct {
	http      *fasthttp.Client
	nodes     *NodeTable
	jwtSecret []byte
}

func NewClient(nodes *NodeTable, jwtSecret []byte) *Client {
	return &Client{
		http:      &fasthttp.Client{Name: "taskmesh-msg"},
		nodes:     nodes,
		jwtSecret: jwtSecret,
	}
}

func (c *Client) post(node uint16, path string, body []byte, authReplID uint64, sign bool) error {
	addr, err := c.nodes.AddressFor(node)
	if err != nil {
		return err
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://" + addr + path)
	req.Header.SetMethod(fasthttp.MethodPost)
	if sign {
		tok, err := signReplToken(c.jwtSecret, authReplID)
		if err != nil {
			return fmt.Errorf("msg: sign token: %w", err)
		}
		req.Header.Set(jwtHeaderKey, "Bearer "+tok)
	}
	req.SetBody(body)

	if err := c.http.Do(req, resp); err != nil {
		return fmt.Errorf("msg: post to node %d (%s): %w", node, addr, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return fmt.Errorf("msg: post to node %d (%s): status %d", node, addr, resp.StatusCode())
	}
	return nil
}

// Send encodes env under kind and posts it to node's transport path,
// signing it with a repl token when signReplID is non-zero (used for
// ReplicateLaunch and the bare-repl_id lifecycle messages, which must
// carry proof of shard-manager origin; XferDes progress messages on the
// data path are left unsigned to keep the hot path cheap).
func (c *Client) Send(node uint16, path string, kind MsgType, env Envelope, signReplID uint64) {
	body, err := Encode(kind, env)
	if err != nil {
		nlog.Warningf("msg: encode %v for node %d: %v", kind, node, err)
		return
	}
	if err := c.post(node, path, body, signReplID, signReplID != 0); err != nil {
		nlog.Warningf("msg: send %v: %v", kind, err)
	}
}
