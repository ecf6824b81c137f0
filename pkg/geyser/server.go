// Package geyser streams ledger events over gRPC.
//
// The server is a bank listener. Every committed account write and every
// transaction status is turned into an Event and fanned out to the
// subscribers whose filter matches. Publishing never blocks the bank: each
// subscriber has a bounded queue and is disconnected when it falls behind.
//
// The service is geyser.Events with a single server streaming method,
// Subscribe. Messages are JSON encoded (content subtype "json"), so the
// service is described by hand instead of generated from protobuf.
package geyser

import (
	"context"
	"crypto/subtle"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/fortiblox/x1-sale/pkg/bank"
)

const (
	serviceName      = "geyser.Events"
	subscribeMethod  = "/geyser.Events/Subscribe"
	tokenMetadataKey = "x-token"

	subscriberMetadataKey = "x-subscriber-id"
)

// ErrServerClosed is returned by Serve after Stop.
var ErrServerClosed = errors.New("geyser server closed")

type eventsService interface {
	subscribe(req *SubscribeRequest, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*eventsService)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "geyser.proto",
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := new(SubscribeRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(eventsService).subscribe(req, stream)
}

// Stats are counters over the server's lifetime.
type Stats struct {
	Subscribers int
	Published   uint64
	Delivered   uint64
	Dropped     uint64
}

type subscriber struct {
	id      uint64
	filter  Filter
	events  chan *Event
	dropped chan struct{}
}

// Server publishes ledger events to gRPC subscribers.
type Server struct {
	log    *logrus.Entry
	config ServerConfig
	grpc   *grpc.Server

	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64

	done     chan struct{}
	stopOnce sync.Once

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

var _ bank.Listener = (*Server)(nil)

// NewServer creates a stream server. It does not listen until Serve.
func NewServer(config ServerConfig) (*Server, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		log:    logrus.StandardLogger().WithField("type", "geyser"),
		config: config,
		subs:   make(map[uint64]*subscriber),
		done:   make(chan struct{}),
	}
	s.grpc = grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    config.KeepaliveTime,
			Timeout: config.KeepaliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             config.KeepaliveTime / 2,
			PermitWithoutStream: true,
		}),
	)
	s.grpc.RegisterService(&serviceDesc, s)
	return s, nil
}

// Serve accepts subscribers on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.log.WithField("addr", lis.Addr().String()).Info("event stream listening")
	err := s.grpc.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return ErrServerClosed
	}
	select {
	case <-s.done:
		return ErrServerClosed
	default:
		return err
	}
}

// ListenAndServe listens on the configured address and serves.
func (s *Server) ListenAndServe() error {
	lis, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", s.config.Addr)
	}
	return s.Serve(lis)
}

// Stop ends every subscription and shuts the server down.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.grpc.GracefulStop()
	})
}

// OnTransaction implements bank.Listener.
func (s *Server) OnTransaction(status *bank.TransactionStatus) {
	for _, ev := range EventsFromStatus(status) {
		s.Publish(ev)
	}
}

// Publish queues ev for every matching subscriber. A subscriber whose
// queue is full is disconnected.
func (s *Server) Publish(ev *Event) {
	s.published.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sub := range s.subs {
		if !sub.filter.Matches(ev) {
			continue
		}
		select {
		case sub.events <- ev:
			s.delivered.Add(1)
		default:
			delete(s.subs, id)
			close(sub.dropped)
			s.dropped.Add(1)
			s.log.WithField("subscriber", id).Warn("dropping slow subscriber")
		}
	}
}

// Stats returns the server counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	n := len(s.subs)
	s.mu.Unlock()

	return Stats{
		Subscribers: n,
		Published:   s.published.Load(),
		Delivered:   s.delivered.Load(),
		Dropped:     s.dropped.Load(),
	}
}

func (s *Server) subscribe(req *SubscribeRequest, stream grpc.ServerStream) error {
	ctx := stream.Context()
	if err := s.authorize(ctx); err != nil {
		return err
	}

	sub, err := s.register(req.Filter)
	if err != nil {
		return err
	}
	defer s.unregister(sub)

	if err := stream.SendHeader(metadata.Pairs(subscriberMetadataKey, strconv.FormatUint(sub.id, 10))); err != nil {
		return err
	}

	log := s.log.WithField("subscriber", sub.id)
	log.WithField("accounts", len(req.Filter.Accounts)).Debug("subscriber connected")

	for {
		select {
		case ev := <-sub.events:
			if err := stream.SendMsg(ev); err != nil {
				log.WithError(err).Debug("subscriber send failed")
				return err
			}
		case <-sub.dropped:
			return status.Error(codes.ResourceExhausted, "subscriber fell behind")
		case <-s.done:
			return nil
		case <-ctx.Done():
			log.Debug("subscriber disconnected")
			return nil
		}
	}
}

func (s *Server) authorize(ctx context.Context) error {
	if s.config.Token == "" {
		return nil
	}
	md, _ := metadata.FromIncomingContext(ctx)
	tokens := md.Get(tokenMetadataKey)
	if len(tokens) == 0 || subtle.ConstantTimeCompare([]byte(tokens[0]), []byte(s.config.Token)) != 1 {
		return status.Error(codes.Unauthenticated, "invalid token")
	}
	return nil
}

func (s *Server) register(filter Filter) (*subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.MaxSubscribers > 0 && len(s.subs) >= s.config.MaxSubscribers {
		return nil, status.Error(codes.ResourceExhausted, "too many subscribers")
	}

	s.nextID++
	sub := &subscriber{
		id:      s.nextID,
		filter:  filter,
		events:  make(chan *Event, s.config.BufferSize),
		dropped: make(chan struct{}),
	}
	s.subs[sub.id] = sub
	return sub, nil
}

func (s *Server) unregister(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub.id)
}
