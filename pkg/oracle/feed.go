package oracle

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/solcino/raffle-engine/internal/types"
	"github.com/solcino/raffle-engine/pkg/runtime/programs/vrf"
)

// Feed client errors.
var (
	ErrNotConnected     = errors.New("oracle feed not connected")
	ErrAlreadyConnected = errors.New("oracle feed already connected")
	ErrClosed           = errors.New("oracle feed closed")
	ErrStreamClosed     = errors.New("oracle feed stream closed")
	ErrMaxReconnects    = errors.New("max reconnection attempts reached")
)

// AccountUpdate is one account change received from the feed.
type AccountUpdate struct {
	Pubkey     types.Pubkey
	Lamports   uint64
	Owner      types.Pubkey
	Data       []byte
	Slot       uint64
	ReceivedAt time.Time
}

// PendingVrfState decodes the update as a vrf state account and reports
// whether it is a pending request. Non-state accounts return nil, false.
func (u *AccountUpdate) PendingVrfState() (*vrf.State, bool) {
	if u.Owner != vrf.ProgramID {
		return nil, false
	}
	state, err := vrf.DecodeState(u.Data)
	if err != nil || !state.Initialized {
		return nil, false
	}
	return state, state.Status == vrf.StatusPending
}

// FeedHealth describes the current state of the feed connection.
type FeedHealth struct {
	Connected      bool
	LastSlot       uint64
	LastUpdate     time.Time
	Endpoint       string
	ReconnectCount int
	LastError      error
}

// Feed is a gRPC client streaming account updates from a remote node. It
// subscribes to accounts owned by the vrf program so an out-of-process
// oracle can react to pending requests without polling. The feed
// automatically reconnects on connection loss with exponential backoff.
type Feed struct {
	config FeedConfig

	conn   *grpc.ClientConn
	stream *feedStream

	updates chan *AccountUpdate

	mu             sync.RWMutex
	connected      atomic.Bool
	closed         atomic.Bool
	lastSlot       atomic.Uint64
	lastUpdate     atomic.Int64 // Unix nano timestamp
	reconnectCount atomic.Int32
	pingID         atomic.Int32
	cancelFunc     context.CancelFunc
	wg             sync.WaitGroup
	lastError      error
	lastErrorMu    sync.RWMutex

	ctx context.Context
}

// feedStream wraps a gRPC bidirectional stream for feed subscriptions.
type feedStream struct {
	stream grpc.ClientStream
}

func (s *feedStream) Send(req *subscribeRequest) error {
	return s.stream.SendMsg(req)
}

func (s *feedStream) Recv() (*subscribeUpdate, error) {
	update := &subscribeUpdate{}
	if err := s.stream.RecvMsg(update); err != nil {
		return nil, err
	}
	return update, nil
}

func (s *feedStream) CloseSend() error {
	return s.stream.CloseSend()
}

// subscribeRequest is the wire form of the feed SubscribeRequest message.
// Defined by hand to avoid a proto generation step; the tags match the
// server's .proto definition.
type subscribeRequest struct {
	Owners   []string     `protobuf:"bytes,1,rep,name=owners"`
	Accounts []string     `protobuf:"bytes,2,rep,name=accounts"`
	FromSlot *uint64      `protobuf:"varint,3,opt,name=from_slot"`
	Ping     *pingRequest `protobuf:"bytes,4,opt,name=ping"`
}

func (x *subscribeRequest) Reset()         { *x = subscribeRequest{} }
func (x *subscribeRequest) String() string { return fmt.Sprintf("%+v", *x) }
func (x *subscribeRequest) ProtoMessage()  {}

type pingRequest struct {
	ID int32 `protobuf:"varint,1,opt,name=id"`
}

// subscribeUpdate is the wire form of the feed SubscribeUpdate message.
type subscribeUpdate struct {
	Account *accountUpdate `protobuf:"bytes,1,opt,name=account"`
	Slot    *slotUpdate    `protobuf:"bytes,2,opt,name=slot"`
	Pong    *pongUpdate    `protobuf:"bytes,3,opt,name=pong"`
}

func (x *subscribeUpdate) Reset()         { *x = subscribeUpdate{} }
func (x *subscribeUpdate) String() string { return fmt.Sprintf("%+v", *x) }
func (x *subscribeUpdate) ProtoMessage()  {}

type accountUpdate struct {
	Pubkey   []byte `protobuf:"bytes,1,opt,name=pubkey"`
	Lamports uint64 `protobuf:"varint,2,opt,name=lamports"`
	Owner    []byte `protobuf:"bytes,3,opt,name=owner"`
	Data     []byte `protobuf:"bytes,4,opt,name=data"`
	Slot     uint64 `protobuf:"varint,5,opt,name=slot"`
}

type slotUpdate struct {
	Slot uint64 `protobuf:"varint,1,opt,name=slot"`
}

type pongUpdate struct {
	ID int32 `protobuf:"varint,1,opt,name=id"`
}

// NewFeed creates a new feed client with the given configuration.
// The client is not connected until Connect() is called.
func NewFeed(config FeedConfig) (*Feed, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Feed{
		config:  config,
		updates: make(chan *AccountUpdate, config.UpdateChannelSize),
	}, nil
}

// Connect establishes the gRPC connection and starts the subscription.
func (f *Feed) Connect(ctx context.Context) error {
	if f.closed.Load() {
		return ErrClosed
	}
	if f.connected.Load() {
		return ErrAlreadyConnected
	}

	ctx, cancel := context.WithCancel(ctx)
	f.cancelFunc = cancel
	f.ctx = ctx

	if err := f.connect(ctx); err != nil {
		cancel()
		return err
	}

	f.wg.Add(3)
	go f.receiveLoop()
	go f.pingLoop()
	go f.healthCheckLoop()

	f.connected.Store(true)
	f.lastUpdate.Store(time.Now().UnixNano())

	if f.config.OnConnect != nil {
		f.config.OnConnect()
	}
	return nil
}

// connect dials the server and opens the subscription stream.
func (f *Feed) connect(ctx context.Context) error {
	kacp := keepalive.ClientParameters{
		Time:                f.config.KeepaliveTime,
		Timeout:             f.config.KeepaliveTimeout,
		PermitWithoutStream: true,
	}

	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(kacp),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(f.config.MaxMessageSize),
			grpc.MaxCallSendMsgSize(f.config.MaxMessageSize),
		),
	}

	if f.config.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(
			credentials.NewTLS(&tls.Config{
				MinVersion: tls.VersionTLS12,
			}),
		))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	if f.config.Token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(&tokenAuth{
			token:      f.config.ExpandedToken(),
			requireTLS: f.config.UseTLS,
		}))
	}

	//nolint:staticcheck // Using Dial for compatibility with older gRPC versions
	conn, err := grpc.Dial(f.config.Endpoint, opts...)
	if err != nil {
		return fmt.Errorf("failed to dial gRPC: %w", err)
	}
	f.conn = conn

	md := metadata.New(f.config.Headers)
	streamCtx := metadata.NewOutgoingContext(ctx, md)

	streamDesc := &grpc.StreamDesc{
		StreamName:    "Subscribe",
		ServerStreams: true,
		ClientStreams: true,
	}

	stream, err := conn.NewStream(streamCtx, streamDesc, "/rafflefeed.AccountFeed/Subscribe")
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create stream: %w", err)
	}
	f.stream = &feedStream{stream: stream}

	if err := f.sendSubscribeRequest(); err != nil {
		stream.CloseSend()
		conn.Close()
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	return nil
}

// sendSubscribeRequest subscribes to vrf-owned account updates.
func (f *Feed) sendSubscribeRequest() error {
	req := &subscribeRequest{
		Owners: []string{vrf.ProgramID.String()},
	}
	if f.config.FromSlot != nil {
		req.FromSlot = f.config.FromSlot
	}
	return f.stream.Send(req)
}

// receiveLoop continuously receives updates from the gRPC stream.
func (f *Feed) receiveLoop() {
	defer f.wg.Done()

	for {
		select {
		case <-f.ctx.Done():
			return
		default:
		}

		update, err := f.stream.Recv()
		if err != nil {
			if err == io.EOF {
				f.setLastError(ErrStreamClosed)
				f.handleDisconnect(ErrStreamClosed)
				return
			}
			if f.ctx.Err() != nil {
				return
			}
			f.setLastError(err)
			f.handleDisconnect(err)
			return
		}

		f.lastUpdate.Store(time.Now().UnixNano())
		f.processUpdate(update)
	}
}

// processUpdate processes a single update from the stream.
func (f *Feed) processUpdate(update *subscribeUpdate) {
	if update == nil {
		return
	}

	if update.Slot != nil {
		f.lastSlot.Store(update.Slot.Slot)
	}

	if update.Account != nil {
		converted := f.convertAccountUpdate(update.Account)
		f.lastSlot.Store(converted.Slot)

		if f.config.OnUpdate != nil {
			f.config.OnUpdate(converted)
		}

		// Send to channel, dropping the oldest update if full.
		select {
		case f.updates <- converted:
		default:
			select {
			case <-f.updates:
			default:
			}
			f.updates <- converted
		}
	}
}

// convertAccountUpdate converts a wire account update to our type.
func (f *Feed) convertAccountUpdate(pb *accountUpdate) *AccountUpdate {
	update := &AccountUpdate{
		Lamports:   pb.Lamports,
		Data:       pb.Data,
		Slot:       pb.Slot,
		ReceivedAt: time.Now(),
	}
	if len(pb.Pubkey) == types.PubkeySize {
		copy(update.Pubkey[:], pb.Pubkey)
	}
	if len(pb.Owner) == types.PubkeySize {
		copy(update.Owner[:], pb.Owner)
	}
	return update
}

// pingLoop sends periodic ping messages to keep the connection alive.
func (f *Feed) pingLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			if !f.connected.Load() {
				return
			}
			pingID := f.pingID.Add(1)
			req := &subscribeRequest{
				Ping: &pingRequest{ID: pingID},
			}
			if err := f.stream.Send(req); err != nil {
				// Let the health check decide whether to reconnect.
				f.setLastError(err)
			}
		}
	}
}

// healthCheckLoop monitors connection health and triggers reconnection.
func (f *Feed) healthCheckLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			if !f.connected.Load() {
				return
			}
			lastUpdate := time.Unix(0, f.lastUpdate.Load())
			if time.Since(lastUpdate) > f.config.StaleTimeout {
				err := fmt.Errorf("connection stale: no updates for %v", time.Since(lastUpdate))
				f.setLastError(err)
				f.handleDisconnect(err)
				return
			}
		}
	}
}

// handleDisconnect handles disconnection and optionally reconnects.
func (f *Feed) handleDisconnect(err error) {
	if !f.connected.CompareAndSwap(true, false) {
		return
	}

	if f.config.OnDisconnect != nil {
		f.config.OnDisconnect(err)
	}

	if f.stream != nil {
		f.stream.CloseSend()
	}
	if f.conn != nil {
		f.conn.Close()
	}

	if !f.closed.Load() {
		go f.reconnect()
	}
}

// reconnect attempts to reconnect with exponential backoff.
func (f *Feed) reconnect() {
	backoff := f.config.ReconnectMinDelay
	attempt := 0

	for !f.closed.Load() {
		attempt++
		f.reconnectCount.Add(1)

		if f.config.MaxReconnects > 0 && attempt > f.config.MaxReconnects {
			f.setLastError(ErrMaxReconnects)
			return
		}

		select {
		case <-f.ctx.Done():
			return
		case <-time.After(backoff):
		}

		ctx, cancel := context.WithCancel(context.Background())
		f.mu.Lock()
		f.cancelFunc = cancel
		f.ctx = ctx
		f.mu.Unlock()

		if err := f.connect(ctx); err != nil {
			f.setLastError(err)
			backoff = minDuration(backoff*2, f.config.ReconnectMaxDelay)
			continue
		}

		f.connected.Store(true)
		f.lastUpdate.Store(time.Now().UnixNano())

		f.wg.Add(3)
		go f.receiveLoop()
		go f.pingLoop()
		go f.healthCheckLoop()

		if f.config.OnReconnect != nil {
			f.config.OnReconnect(attempt)
		}
		return
	}
}

// Updates returns the channel for receiving account updates.
func (f *Feed) Updates() <-chan *AccountUpdate {
	return f.updates
}

// Health returns the current health status of the feed.
func (f *Feed) Health() FeedHealth {
	return FeedHealth{
		Connected:      f.connected.Load(),
		LastSlot:       f.lastSlot.Load(),
		LastUpdate:     time.Unix(0, f.lastUpdate.Load()),
		Endpoint:       f.config.Endpoint,
		ReconnectCount: int(f.reconnectCount.Load()),
		LastError:      f.getLastError(),
	}
}

// Close closes the feed and releases all resources.
func (f *Feed) Close() error {
	if f.closed.Swap(true) {
		return ErrClosed
	}

	if f.cancelFunc != nil {
		f.cancelFunc()
	}
	f.wg.Wait()

	if f.stream != nil {
		f.stream.CloseSend()
	}
	if f.conn != nil {
		f.conn.Close()
	}

	close(f.updates)
	return nil
}

// setLastError safely sets the last error.
func (f *Feed) setLastError(err error) {
	f.lastErrorMu.Lock()
	f.lastError = err
	f.lastErrorMu.Unlock()
}

// getLastError safely gets the last error.
func (f *Feed) getLastError() error {
	f.lastErrorMu.RLock()
	defer f.lastErrorMu.RUnlock()
	return f.lastError
}

// tokenAuth implements grpc.PerRPCCredentials for token authentication.
type tokenAuth struct {
	token      string
	requireTLS bool
}

func (t *tokenAuth) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{
		"x-token": t.token,
	}, nil
}

func (t *tokenAuth) RequireTransportSecurity() bool {
	return t.requireTLS
}

// isRetryableError returns true if the error should trigger a retry.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
			return true
		}
	}
	return errors.Is(err, io.EOF) || errors.Is(err, ErrStreamClosed)
}

// minDuration returns the minimum of two durations.
func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
