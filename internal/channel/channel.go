package channel

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/prepvoice/internal/observability"
	"github.com/ent0n29/prepvoice/internal/protocol"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultWriteTimeout   = 5 * time.Second
	pongWait              = 60 * time.Second
	pingPeriod            = (pongWait * 9) / 10
)

var (
	ErrClosed          = errors.New("session channel closed")
	ErrConnectTimeout  = errors.New("session channel connect timed out")
	ErrSessionMismatch = errors.New("session channel already joined another session")
)

// State is the connection state of the channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

type Config struct {
	URL            string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	Header         http.Header
}

// Channel is the single persistent connection for one interview session.
// Each inbound event kind has exactly one handler slot.
type Channel struct {
	cfg     Config
	logger  *zap.Logger
	metrics *observability.Metrics
	dialer  *websocket.Dialer

	connectMu sync.Mutex
	writeMu   sync.Mutex

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	done      chan struct{}
	gen       uint64
	sessionID string
	track     string

	onMessage            func(protocol.AIResponse)
	onStreamStart        func()
	onStreamChunk        func(text string)
	onStreamEnd          func()
	onCompletionStarted  func()
	onInterviewCompleted func(protocol.InterviewCompleted)
	onDisconnect         func(err error)
}

func New(cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Channel {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		dialer:  websocket.DefaultDialer,
		state:   StateDisconnected,
	}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the channel, joins the session and waits for the server's acknowledgement.
// It returns immediately when already connected. The attempt is bounded by ConnectTimeout.
func (c *Channel) Connect(ctx context.Context, sessionID, track string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("session id is required")
	}

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.state == StateConnected {
		joined := c.sessionID
		c.mu.Unlock()
		if joined != sessionID {
			return ErrSessionMismatch
		}
		return nil
	}
	c.state = StateConnecting
	gen := c.gen
	c.mu.Unlock()

	conn, pending, err := c.handshake(ctx, sessionID, track)
	if err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		c.logger.Warn("session channel connect failed", zap.String("session_id", sessionID), zap.Error(err))
		return err
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	done := make(chan struct{})
	c.conn = conn
	c.done = done
	c.state = StateConnected
	c.sessionID = sessionID
	c.track = track
	c.mu.Unlock()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.readLoop(conn, pending)
	go c.pingLoop(conn, done)

	c.logger.Info("session channel joined", zap.String("session_id", sessionID), zap.String("track", track))
	return nil
}

func (c *Channel) handshake(ctx context.Context, sessionID, track string) (*websocket.Conn, [][]byte, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(dialCtx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return nil, nil, ErrConnectTimeout
		}
		if resp != nil {
			return nil, nil, fmt.Errorf("dial session channel (status %d): %w", resp.StatusCode, err)
		}
		return nil, nil, fmt.Errorf("dial session channel: %w", err)
	}

	join, err := protocol.Encode(protocol.EventJoin, protocol.Join{SessionID: sessionID, Track: track})
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, join); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("%w: send join: %v", ErrClosed, err)
	}
	c.metrics.ObserveChannelMessage("out", string(protocol.EventJoin))

	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	stop := context.AfterFunc(dialCtx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	// Events that arrive before the acknowledgement are replayed once the reader starts.
	var pending [][]byte
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			switch {
			case errors.Is(dialCtx.Err(), context.DeadlineExceeded):
				return nil, nil, ErrConnectTimeout
			case ctx.Err() != nil:
				return nil, nil, ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, nil, ErrConnectTimeout
			}
			return nil, nil, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		event, msg, err := protocol.ParseServerMessage(data)
		switch {
		case event == protocol.EventJoined:
			c.metrics.ObserveChannelMessage("in", string(event))
			return conn, pending, nil
		case event == protocol.EventError && err == nil:
			_ = conn.Close()
			return nil, nil, fmt.Errorf("join rejected: %s", msg.(protocol.ErrorEvent).Message)
		default:
			pending = append(pending, data)
		}
	}
}

// Disconnect tears down the transport and clears every handler. Safe to call repeatedly.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	c.conn = nil
	c.done = nil
	c.gen++
	c.state = StateDisconnected
	c.sessionID = ""
	c.track = ""
	c.onMessage = nil
	c.onStreamStart = nil
	c.onStreamChunk = nil
	c.onStreamEnd = nil
	c.onCompletionStarted = nil
	c.onInterviewCompleted = nil
	c.onDisconnect = nil
	c.mu.Unlock()

	if done != nil {
		close(done)
	}
	if conn == nil {
		return
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = conn.Close()
	c.logger.Info("session channel disconnected")
}

func (c *Channel) SendTranscript(text string) bool {
	sessionID, track := c.identity()
	return c.send(protocol.EventUserTranscript, protocol.UserTranscript{SessionID: sessionID, Text: text, Track: track})
}

// SendAudioChunk streams one PCM16LE frame.
func (c *Channel) SendAudioChunk(pcm []byte) bool {
	sessionID, _ := c.identity()
	return c.send(protocol.EventAudioChunk, protocol.AudioChunk{
		SessionID: sessionID,
		Chunk:     base64.StdEncoding.EncodeToString(pcm),
	})
}

func (c *Channel) SendCompleteInterview() bool {
	sessionID, _ := c.identity()
	return c.send(protocol.EventCompleteInterview, protocol.CompleteInterview{SessionID: sessionID})
}

func (c *Channel) SendUserStartedSpeaking() bool {
	sessionID, _ := c.identity()
	return c.send(protocol.EventUserStartedSpeaking, protocol.UserStartedSpeaking{SessionID: sessionID})
}

func (c *Channel) identity() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.track
}

func (c *Channel) send(event protocol.EventName, payload any) bool {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		c.metrics.ObserveSendDrop(string(event), "disconnected")
		return false
	}

	raw, err := protocol.Encode(event, payload)
	if err != nil {
		c.logger.Error("encode outbound event", zap.String("event", string(event)), zap.Error(err))
		c.metrics.ObserveSendDrop(string(event), "encode")
		return false
	}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	err = conn.WriteMessage(websocket.TextMessage, raw)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Warn("session channel write failed", zap.String("event", string(event)), zap.Error(err))
		c.metrics.ObserveSendDrop(string(event), "write_error")
		return false
	}
	c.metrics.ObserveChannelMessage("out", string(event))
	return true
}

func (c *Channel) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// readLoop is the only delivery path for inbound events, so handlers observe transport order.
func (c *Channel) readLoop(conn *websocket.Conn, pending [][]byte) {
	for _, data := range pending {
		c.dispatch(data)
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.lost(conn, err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		c.dispatch(data)
	}
}

func (c *Channel) lost(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	done := c.done
	c.conn = nil
	c.done = nil
	c.state = StateDisconnected
	handler := c.onDisconnect
	c.mu.Unlock()

	if done != nil {
		close(done)
	}
	_ = conn.Close()
	c.logger.Warn("session channel lost", zap.Error(err))
	if handler != nil {
		handler(err)
	}
}

func (c *Channel) dispatch(data []byte) {
	event, msg, err := protocol.ParseServerMessage(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnsupportedType) {
			c.logger.Debug("ignoring unsupported channel event", zap.String("event", string(event)))
		} else {
			c.logger.Warn("dropping malformed channel event", zap.String("event", string(event)), zap.Error(err))
		}
		return
	}
	c.metrics.ObserveChannelMessage("in", string(event))

	c.mu.Lock()
	onMessage := c.onMessage
	onStreamStart := c.onStreamStart
	onStreamChunk := c.onStreamChunk
	onStreamEnd := c.onStreamEnd
	onCompletionStarted := c.onCompletionStarted
	onInterviewCompleted := c.onInterviewCompleted
	c.mu.Unlock()

	switch m := msg.(type) {
	case protocol.AIResponse:
		if onMessage != nil {
			onMessage(m)
		}
	case protocol.StreamStart:
		if onStreamStart != nil {
			onStreamStart()
		}
	case protocol.StreamChunk:
		if onStreamChunk != nil {
			onStreamChunk(m.Text)
		}
	case protocol.StreamEnd:
		if onStreamEnd != nil {
			onStreamEnd()
		}
	case protocol.CompletionStarted:
		if onCompletionStarted != nil {
			onCompletionStarted()
		}
	case protocol.InterviewCompleted:
		if onInterviewCompleted != nil {
			onInterviewCompleted(m)
		}
	case protocol.ErrorEvent:
		c.logger.Warn("session channel error event", zap.String("code", m.Code), zap.String("message", m.Message))
	}
}
