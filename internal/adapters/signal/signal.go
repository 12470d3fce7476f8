package signal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/voice-client/internal/core"
	"github.com/dkeye/voice-client/internal/domain"
	"github.com/dkeye/voice-client/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var errConnClosed = errors.New("connection closed")

type Options struct {
	Dialer       *websocket.Dialer
	ReadLimit    int64
	WriteTimeout time.Duration
	PingPeriod   time.Duration
	SendQueue    int
	// EventQueue is the event backlog above which a warning is logged.
	// Events are never dropped and never hold up responses.
	EventQueue int
}

func (o Options) withDefaults() Options {
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 32
	}
	if o.EventQueue <= 0 {
		o.EventQueue = 64
	}
	return o
}

// Channel multiplexes correlated requests and unsolicited events over one websocket.
type Channel struct {
	opts    Options
	pending *pendingTable
	state   atomic.Int32
	gen     atomic.Uint64

	mu         sync.Mutex
	conn       *WsSignalConn
	dialCancel context.CancelFunc

	open   core.Emitter[struct{}]
	closed core.Emitter[*domain.CloseError]
	errs   core.Emitter[error]
	data   core.Emitter[core.Message]
}

var _ core.Signaling = (*Channel)(nil)

func NewChannel(opts Options) *Channel {
	return &Channel{
		opts:    opts.withDefaults(),
		pending: newPendingTable(),
	}
}

// WsSignalConn is one dialed websocket with its outbound queue.
type WsSignalConn struct {
	conn *websocket.Conn
	gen  uint64
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
	local  *domain.CloseError

	// superseded connections close silently; a newer Connect owns the channel.
	superseded atomic.Bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- f:
	default:
		return domain.ErrBackpressure
	}
	return nil
}

// closeWith sends a close frame with code and drops the socket.
func (c *WsSignalConn) closeWith(code domain.CloseCode, reason string, timeout time.Duration) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.local = &domain.CloseError{Code: code, Reason: reason}
	c.mu.Unlock()

	msg := websocket.FormatCloseMessage(int(code), reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout)); err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("write close frame")
	}
	c.Close()
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *WsSignalConn) localClose() *domain.CloseError {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.local
}

func (ch *Channel) State() core.ChannelState {
	return core.ChannelState(ch.state.Load())
}

func (ch *Channel) setState(s core.ChannelState) {
	ch.state.Store(int32(s))
}

// Connected reports whether the channel is open or still opening.
func (ch *Channel) Connected() bool {
	s := ch.State()
	return s == core.StateConnecting || s == core.StateOpen
}

// Connect dials address, closing any prior connection first. It returns once
// the socket is open, or the dial error.
func (ch *Channel) Connect(ctx context.Context, address string) error {
	if old := ch.current(); old != nil {
		old.superseded.Store(true)
	}
	ch.Disconnect()

	dialCtx, cancel := context.WithCancel(ctx)
	ch.mu.Lock()
	ch.dialCancel = cancel
	ch.mu.Unlock()
	defer cancel()

	ch.setState(core.StateConnecting)
	log.Info().Str("module", "signal").Str("address", address).Msg("connecting")

	ws, _, err := ch.opts.Dialer.DialContext(dialCtx, address, nil)
	if err != nil {
		ch.setState(core.StateClosed)
		metrics.SignalConnectionsTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("module", "signal").Str("address", address).Msg("dial failed")
		ch.errs.Emit(err)
		return fmt.Errorf("signal: dial %s: %w", address, err)
	}
	if ch.opts.ReadLimit > 0 {
		ws.SetReadLimit(ch.opts.ReadLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		gen:  ch.gen.Add(1),
		send: make(chan core.Frame, ch.opts.SendQueue),
	}

	ch.mu.Lock()
	if dialCtx.Err() != nil {
		// Disconnect raced the dial.
		ch.mu.Unlock()
		_ = ws.Close()
		ch.setState(core.StateClosed)
		return fmt.Errorf("signal: dial %s: %w", address, context.Canceled)
	}
	ch.conn = conn
	ch.dialCancel = nil
	ch.mu.Unlock()

	ch.setState(core.StateOpen)
	metrics.SignalConnectionsTotal.WithLabelValues("open").Inc()

	pumpCtx, stop := context.WithCancel(context.Background())
	events := newEventQueue(ch.opts.EventQueue)
	go ch.writePump(pumpCtx, conn)
	go ch.readPump(pumpCtx, stop, conn, events)
	go ch.dispatch(events)

	log.Info().Str("module", "signal").Str("address", address).Uint64("gen", conn.gen).Msg("open")
	ch.open.Emit(struct{}{})
	return nil
}

// Disconnect closes the current connection with a normal close code. Idempotent.
func (ch *Channel) Disconnect() {
	ch.mu.Lock()
	conn := ch.conn
	if ch.dialCancel != nil {
		ch.dialCancel()
		ch.dialCancel = nil
	}
	ch.mu.Unlock()

	if conn == nil || !ch.Connected() {
		return
	}
	ch.setState(core.StateClosing)
	log.Info().Str("module", "signal").Uint64("gen", conn.gen).Msg("disconnect")
	conn.closeWith(domain.CloseNormal, "", ch.opts.WriteTimeout)
}

func (ch *Channel) current() *WsSignalConn {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.conn
}

// Send writes a fire-and-forget frame.
func (ch *Channel) Send(typ domain.CommandType, payload any) error {
	conn := ch.current()
	if conn == nil || ch.State() != core.StateOpen {
		return domain.ErrNotConnected
	}
	frame, err := encodeFrame(nil, typ, payload)
	if err != nil {
		return err
	}
	log.Debug().Str("module", "signal").Str("type", string(typ)).Msg("send")
	return conn.TrySend(frame)
}

// Request sends a correlated frame and waits for the response carrying the same id.
// It fails with domain.ErrNotConnected before allocating an id when the channel is not open.
func (ch *Channel) Request(ctx context.Context, typ domain.CommandType, payload any) (core.Message, error) {
	conn := ch.current()
	if conn == nil || ch.State() != core.StateOpen {
		return nil, domain.ErrNotConnected
	}
	id, wait, err := ch.pending.issue(conn.gen)
	if err != nil {
		return nil, err
	}
	frame, err := encodeFrame(&id, typ, payload)
	if err != nil {
		ch.pending.cancel(id)
		return nil, err
	}
	if err := conn.TrySend(frame); err != nil {
		ch.pending.cancel(id)
		metrics.SignalRequestsTotal.WithLabelValues(string(typ), "send_failed").Inc()
		if errors.Is(err, errConnClosed) {
			return nil, domain.ErrNotConnected
		}
		return nil, err
	}
	log.Debug().Str("module", "signal").Str("type", string(typ)).Uint32("id", id).Msg("request")

	select {
	case res := <-wait:
		if res.err != nil {
			metrics.SignalRequestsTotal.WithLabelValues(string(typ), "closed").Inc()
			return nil, res.err
		}
		if perr := res.msg.protocolError(); perr != nil {
			metrics.SignalRequestsTotal.WithLabelValues(string(typ), "protocol_error").Inc()
			return nil, perr
		}
		metrics.SignalRequestsTotal.WithLabelValues(string(typ), "ok").Inc()
		return res.msg, nil
	case <-ctx.Done():
		ch.pending.cancel(id)
		metrics.SignalRequestsTotal.WithLabelValues(string(typ), "canceled").Inc()
		return nil, ctx.Err()
	}
}

// Pending reports the number of requests awaiting a response.
func (ch *Channel) Pending() int { return ch.pending.len() }

func (ch *Channel) Trickle(t domain.Trickle) error {
	return ch.Send(domain.CommandTrickle, t)
}

func (ch *Channel) OnOpen(fn func(struct{})) (off func())            { return ch.open.On(fn) }
func (ch *Channel) OnClose(fn func(*domain.CloseError)) (off func()) { return ch.closed.On(fn) }
func (ch *Channel) OnError(fn func(error)) (off func())              { return ch.errs.On(fn) }
func (ch *Channel) OnData(fn func(core.Message)) (off func())        { return ch.data.On(fn) }

func closeLabel(c domain.CloseCode) string { return strconv.Itoa(int(c)) }
