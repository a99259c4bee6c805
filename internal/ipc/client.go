package ipc

import (
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

const dialTimeout = 2 * time.Second

// Client talks to a running daemon over its Unix socket.
type Client struct {
	rpcClient *rpc.Client
}

// Dial connects to the daemon socket at the given path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon socket %s: %w (is the daemon running?)", path, err)
	}
	return &Client{rpcClient: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.rpcClient.Close()
}

func (c *Client) Submit(req SubmitRequest) (SubmitResponse, error) {
	var resp SubmitResponse
	err := c.rpcClient.Call("Lectern.Submit", req, &resp)
	return resp, err
}

func (c *Client) Status(id int64) (StatusResponse, error) {
	var resp StatusResponse
	err := c.rpcClient.Call("Lectern.Status", StatusRequest{ID: id}, &resp)
	return resp, err
}

func (c *Client) Result(id int64) (ResultResponse, error) {
	var resp ResultResponse
	err := c.rpcClient.Call("Lectern.Result", ResultRequest{ID: id}, &resp)
	return resp, err
}

func (c *Client) Resolve(id int64, choice, newKey string) (ResolveResponse, error) {
	var resp ResolveResponse
	err := c.rpcClient.Call("Lectern.Resolve", ResolveRequest{ID: id, Choice: choice, NewKey: newKey}, &resp)
	return resp, err
}

func (c *Client) Cancel(id int64) (CancelResponse, error) {
	var resp CancelResponse
	err := c.rpcClient.Call("Lectern.Cancel", CancelRequest{ID: id}, &resp)
	return resp, err
}

func (c *Client) QueueList(statuses []string) (QueueListResponse, error) {
	var resp QueueListResponse
	err := c.rpcClient.Call("Lectern.QueueList", QueueListRequest{Statuses: statuses}, &resp)
	return resp, err
}

func (c *Client) QueueRetry(ids []int64) (QueueRetryResponse, error) {
	var resp QueueRetryResponse
	err := c.rpcClient.Call("Lectern.QueueRetry", QueueRetryRequest{IDs: ids}, &resp)
	return resp, err
}

func (c *Client) QueueClear(scope string) (QueueClearResponse, error) {
	var resp QueueClearResponse
	err := c.rpcClient.Call("Lectern.QueueClear", QueueClearRequest{Scope: scope}, &resp)
	return resp, err
}

func (c *Client) Stats() (StatsResponse, error) {
	var resp StatsResponse
	err := c.rpcClient.Call("Lectern.Stats", StatsRequest{}, &resp)
	return resp, err
}

func (c *Client) DaemonStatus() (DaemonStatusResponse, error) {
	var resp DaemonStatusResponse
	err := c.rpcClient.Call("Lectern.DaemonStatus", DaemonStatusRequest{}, &resp)
	return resp, err
}

func (c *Client) Stop() (StopResponse, error) {
	var resp StopResponse
	err := c.rpcClient.Call("Lectern.Stop", StopRequest{}, &resp)
	return resp, err
}

func (c *Client) KeysAdd(principal, key string) (KeysAddResponse, error) {
	var resp KeysAddResponse
	err := c.rpcClient.Call("Lectern.KeysAdd", KeysAddRequest{Principal: principal, Key: key}, &resp)
	return resp, err
}

func (c *Client) KeysRemove(principal, ref string) (KeysRemoveResponse, error) {
	var resp KeysRemoveResponse
	err := c.rpcClient.Call("Lectern.KeysRemove", KeysRemoveRequest{Principal: principal, Ref: ref}, &resp)
	return resp, err
}

func (c *Client) KeysList(principal string) (KeysListResponse, error) {
	var resp KeysListResponse
	err := c.rpcClient.Call("Lectern.KeysList", KeysListRequest{Principal: principal}, &resp)
	return resp, err
}
