package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/voice-client/internal/core"
	"github.com/dkeye/voice-client/internal/domain"
	"github.com/dkeye/voice-client/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// inbound is one item of the ordered dispatch queue: a frame or the final close.
type inbound struct {
	msg    *Message
	closed *domain.CloseError
	silent bool
}

func (ch *Channel) writePump(ctx context.Context, c *WsSignalConn) {
	var ping <-chan time.Time
	if ch.opts.PingPeriod > 0 {
		ticker := time.NewTicker(ch.opts.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ch.opts.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump ping")
				c.Close()
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ch.opts.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

// readPump resolves responses inline and queues everything else for dispatch,
// so a slow event handler never delays a response.
func (ch *Channel) readPump(ctx context.Context, stop context.CancelFunc, c *WsSignalConn, events *eventQueue) {
	var readErr error
	defer func() {
		closeErr := ch.classify(c, readErr)
		n := ch.pending.failAll(c.gen, closeErr)
		c.Close()
		stop()

		ch.mu.Lock()
		if ch.conn == c && !c.superseded.Load() {
			ch.setState(core.StateClosed)
		}
		ch.mu.Unlock()

		metrics.SignalClosesTotal.WithLabelValues(closeLabel(closeErr.Code)).Inc()
		log.Info().
			Str("module", "signal").
			Uint64("gen", c.gen).
			Int("code", int(closeErr.Code)).
			Str("reason", closeErr.Reason).
			Int("rejected", n).
			Msg("readPump closing")
		events.push(inbound{closed: closeErr, silent: c.superseded.Load()})
		events.close()
	}()

	for {
		select {
		case <-ctx.Done():
			readErr = ctx.Err()
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			readErr = err
			return
		}
		for _, line := range splitFrames(data) {
			msg, err := decodeMessage(line)
			if err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("bad json")
				continue
			}
			if id, ok := msg.RequestID(); ok && ch.pending.resolve(id, msg) {
				log.Debug().Str("module", "signal").Uint32("id", id).Msg("response")
				continue
			}
			events.push(inbound{msg: msg})
		}
	}
}

func (ch *Channel) dispatch(events *eventQueue) {
	for {
		ev, ok := events.pop()
		if !ok {
			return
		}
		if ev.closed != nil {
			if !ev.silent {
				ch.closed.Emit(ev.closed)
			}
			continue
		}
		metrics.SignalEventsTotal.WithLabelValues(ev.msg.MessageType()).Inc()
		ch.emitData(ev.msg)
	}
}

// emitData keeps a panicking handler from taking the dispatch loop down with it.
func (ch *Channel) emitData(msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "signal").Str("type", msg.MessageType()).Interface("panic", r).Msg("data handler panic")
		}
	}()
	ch.data.Emit(msg)
}

func (ch *Channel) classify(c *WsSignalConn, err error) *domain.CloseError {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &domain.CloseError{Code: domain.CloseCode(ce.Code), Reason: ce.Text}
	}
	if local := c.localClose(); local != nil {
		return local
	}
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return &domain.CloseError{Code: domain.CloseAbnormal, Reason: reason}
}
