package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Start requests the daemon to start processing.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.client.Call("Caster.Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop processing.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Caster.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Caster.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RecordingList returns recordings optionally filtered by statuses.
func (c *Client) RecordingList(statuses []string) (*RecordingListResponse, error) {
	var resp RecordingListResponse
	req := RecordingListRequest{Statuses: statuses}
	if err := c.client.Call("Caster.RecordingList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RecordingDescribe returns details for a single recording.
func (c *Client) RecordingDescribe(id int64) (*RecordingDescribeResponse, error) {
	var resp RecordingDescribeResponse
	req := RecordingDescribeRequest{ID: id}
	if err := c.client.Call("Caster.RecordingDescribe", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Retry re-opens failed recordings.
func (c *Client) Retry(ids []int64) (*RetryResponse, error) {
	var resp RetryResponse
	req := RetryRequest{IDs: ids}
	if err := c.client.Call("Caster.Retry", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Remove deletes a recording.
func (c *Client) Remove(id int64) (*RemoveResponse, error) {
	var resp RemoveResponse
	req := RemoveRequest{ID: id}
	if err := c.client.Call("Caster.Remove", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueHealth returns aggregate queue diagnostics.
func (c *Client) QueueHealth() (*QueueHealthResponse, error) {
	var resp QueueHealthResponse
	if err := c.client.Call("Caster.QueueHealth", QueueHealthRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.client.Call("Caster.LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Caster.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
