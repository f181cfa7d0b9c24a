package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// errConnLost is returned to callers waiting on a connection that died.
var errConnLost = errors.New("websocket connection lost")

// client is an outbound JSON-RPC connection to one remote endpoint.
// Calls are multiplexed over the connection and matched by id.
type client struct {
	url  string
	conn *websocket.Conn

	writeMu      sync.Mutex
	writeTimeout time.Duration

	mu      sync.Mutex
	pending map[string]chan *reply
	err     error

	nextID atomic.Uint64
	done   chan struct{}
}

func dial(ctx context.Context, dialer *websocket.Dialer, url string, writeTimeout time.Duration) (*client, error) {
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, errors.New("dial " + url + ": " + resp.Status)
		}
		return nil, err
	}

	c := &client{
		url:          url,
		conn:         conn,
		writeTimeout: writeTimeout,
		pending:      make(map[string]chan *reply),
		done:         make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// call sends one request and waits for its response or ctx.
func (c *client) call(ctx context.Context, method string, params json.RawMessage) (*reply, error) {
	id := strconv.FormatUint(c.nextID.Add(1), 10)
	ch := make(chan *reply, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	data, err := json.Marshal(Request{JSONRPC: Version, ID: id, Method: method, Params: params})
	if err != nil {
		forget()
		return nil, err
	}
	if err := c.write(data); err != nil {
		forget()
		c.fail(err)
		return nil, err
	}

	select {
	case r := <-ch:
		return r, nil
	case <-c.done:
		forget()
		return nil, c.failure()
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	}
}

func (c *client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		var r reply
		if err := json.Unmarshal(data, &r); err != nil || r.ID == "" {
			// Unsolicited or id-less (parse error) frames have no waiter.
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[r.ID]
		delete(c.pending, r.ID)
		c.mu.Unlock()
		if ok {
			ch <- &r
		}
	}
}

// fail marks the connection dead and releases every waiter.
func (c *client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	if err == nil {
		err = errConnLost
	}
	c.err = err
	close(c.done)
	c.conn.Close()
}

func (c *client) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *client) alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *client) close() {
	c.writeMu.Lock()
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	c.fail(ErrClosed)
}
