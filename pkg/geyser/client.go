package geyser

import (
	"context"
	"crypto/tls"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// Client errors.
var (
	ErrClosed          = errors.New("geyser client closed")
	ErrSubscribeFailed = errors.New("subscribe request failed")
)

var subscribeStreamDesc = &grpc.StreamDesc{
	StreamName:    "Subscribe",
	ServerStreams: true,
}

// Client subscribes to a geyser event stream.
type Client struct {
	log    *logrus.Entry
	config ClientConfig
	conn   *grpc.ClientConn

	wg      sync.WaitGroup
	closed  atomic.Bool
	lastErr atomic.Value
}

// NewClient creates a client for the configured endpoint. Extra dial
// options are appended to the ones derived from config.
func NewClient(config ClientConfig, opts ...grpc.DialOption) (*Client, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	dialOpts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                config.KeepaliveTime,
			Timeout:             config.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
			grpc.CallContentSubtype(codecName),
		),
	}
	if config.UseTLS {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(
			credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12}),
		))
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if config.Token != "" {
		dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(&tokenAuth{
			token:      config.Token,
			requireTLS: config.UseTLS,
		}))
	}

	//nolint:staticcheck // grpc.NewClient is not available in the pinned grpc version
	conn, err := grpc.Dial(config.Endpoint, append(dialOpts, opts...)...)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", config.Endpoint)
	}

	return &Client{
		log:    logrus.StandardLogger().WithField("type", "geyser-client"),
		config: config,
		conn:   conn,
	}, nil
}

// Subscribe opens a stream of events matching filter. The returned
// channel is closed when ctx is done, the server ends the stream or the
// client is closed. Err reports why the last stream ended.
func (c *Client) Subscribe(ctx context.Context, filter Filter) (<-chan *Event, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	stream, err := c.conn.NewStream(ctx, subscribeStreamDesc, subscribeMethod)
	if err != nil {
		return nil, errors.Wrap(err, "open stream")
	}
	if err := stream.SendMsg(&SubscribeRequest{Filter: filter}); err != nil {
		return nil, errors.Wrap(ErrSubscribeFailed, err.Error())
	}
	if err := stream.CloseSend(); err != nil {
		return nil, errors.Wrap(ErrSubscribeFailed, err.Error())
	}

	// The server sends headers once the subscription is registered. A
	// stream that ends without headers carries the rejection as its status.
	md, err := stream.Header()
	if err != nil {
		return nil, errors.Wrap(ErrSubscribeFailed, err.Error())
	}
	if md == nil {
		err := stream.RecvMsg(new(Event))
		if err == nil || errors.Is(err, io.EOF) {
			return nil, errors.Wrap(ErrSubscribeFailed, "stream ended before subscribing")
		}
		return nil, errors.Wrap(ErrSubscribeFailed, err.Error())
	}

	events := make(chan *Event, c.config.BufferSize)
	c.wg.Add(1)
	go c.receiveLoop(ctx, stream, events)
	return events, nil
}

func (c *Client) receiveLoop(ctx context.Context, stream grpc.ClientStream, events chan<- *Event) {
	defer c.wg.Done()
	defer close(events)

	for {
		ev := new(Event)
		if err := stream.RecvMsg(ev); err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				c.lastErr.Store(err)
				c.log.WithError(err).Warn("event stream ended")
			}
			return
		}

		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// Err returns the error that ended the most recent stream, if any.
func (c *Client) Err() error {
	err, _ := c.lastErr.Load().(error)
	return err
}

// Close tears down the connection. Open subscriptions end.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.conn.Close()
	c.wg.Wait()
	return err
}

// tokenAuth implements grpc.PerRPCCredentials for token authentication.
type tokenAuth struct {
	token      string
	requireTLS bool
}

// GetRequestMetadata returns the authentication metadata.
func (t *tokenAuth) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{
		tokenMetadataKey: t.token,
	}, nil
}

// RequireTransportSecurity returns whether TLS is required.
func (t *tokenAuth) RequireTransportSecurity() bool {
	return t.requireTLS
}
