package connect

import (
	"context"
	"slices"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
)

// Client is a client for the player service.
type Client struct {
	connect         *connect.Client[emptypb.Empty, Status]
	release         *connect.Client[emptypb.Empty, Status]
	submit          *connect.Client[Command, SubmitResponse]
	getQueue        *connect.Client[emptypb.Empty, Queue]
	getStatus       *connect.Client[emptypb.Empty, Status]
	subscribe       *connect.Client[emptypb.Empty, Snapshot]
	subscribeEvents *connect.Client[emptypb.Empty, Event]
}

// NewClient creates a client for the service at baseURL. A non-empty token
// is sent with every control request.
func NewClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append(slices.Clone(opts),
		connect.WithCodec(Codec{}),
		connect.WithInterceptors(withControlToken(token)),
	)

	return &Client{
		connect:         connect.NewClient[emptypb.Empty, Status](httpClient, baseURL+ConnectProcedure, opts...),
		release:         connect.NewClient[emptypb.Empty, Status](httpClient, baseURL+ReleaseProcedure, opts...),
		submit:          connect.NewClient[Command, SubmitResponse](httpClient, baseURL+SubmitProcedure, opts...),
		getQueue:        connect.NewClient[emptypb.Empty, Queue](httpClient, baseURL+GetQueueProcedure, opts...),
		getStatus:       connect.NewClient[emptypb.Empty, Status](httpClient, baseURL+GetStatusProcedure, opts...),
		subscribe:       connect.NewClient[emptypb.Empty, Snapshot](httpClient, baseURL+SubscribeProcedure, opts...),
		subscribeEvents: connect.NewClient[emptypb.Empty, Event](httpClient, baseURL+SubscribeEventsProcedure, opts...),
	}
}

// Connect connects the engine and returns the resulting status.
func (c *Client) Connect(ctx context.Context) (*Status, error) {
	resp, err := c.connect.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Release releases the engine.
func (c *Client) Release(ctx context.Context) (*Status, error) {
	resp, err := c.release.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Submit submits cmd and returns its ID.
func (c *Client) Submit(ctx context.Context, cmd *Command) (string, error) {
	resp, err := c.submit.CallUnary(ctx, connect.NewRequest(cmd))
	if err != nil {
		return "", err
	}
	return resp.Msg.CommandID, nil
}

// GetQueue returns the play queue.
func (c *Client) GetQueue(ctx context.Context) (*Queue, error) {
	resp, err := c.getQueue.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// GetStatus returns the coordinator status.
func (c *Client) GetStatus(ctx context.Context) (*Status, error) {
	resp, err := c.getStatus.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Subscribe opens a snapshot stream. The first message is the latest snapshot.
func (c *Client) Subscribe(ctx context.Context) (*connect.ServerStreamForClient[Snapshot], error) {
	return c.subscribe.CallServerStream(ctx, connect.NewRequest(&emptypb.Empty{}))
}

// SubscribeEvents opens a history event stream.
func (c *Client) SubscribeEvents(ctx context.Context) (*connect.ServerStreamForClient[Event], error) {
	return c.subscribeEvents.CallServerStream(ctx, connect.NewRequest(&emptypb.Empty{}))
}
