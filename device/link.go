package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

const (
	// DefaultKeepAliveInterval sends ping on idle links.
	DefaultKeepAliveInterval = 30 * time.Second
	// DefaultKeepAliveTimeout waits this long for any frame after ping.
	DefaultKeepAliveTimeout = 10 * time.Second
	// DefaultRequestTimeout bounds each command/response exchange.
	DefaultRequestTimeout = 10 * time.Second
	// DefaultInitAttempts retries the self-info handshake on a fresh port.
	DefaultInitAttempts = 3
	// DefaultInitRetryDelay waits between handshake attempts.
	DefaultInitRetryDelay = 2 * time.Second
	// DefaultInitResponseTimeout waits for self_info after asking for it.
	DefaultInitResponseTimeout = 5 * time.Second
)

var defaultReconnectBackoff = []time.Duration{
	0,
	5 * time.Second,
	15 * time.Second,
	60 * time.Second,
}

// LinkState represents the lifecycle state of the companion link.
type LinkState string

const (
	StateConnecting LinkState = "CONNECTING"
	StateReady      LinkState = "READY"
	StateDown       LinkState = "DOWN"
)

// Port is the byte stream to the radio. Satisfied by a serial port and, in
// tests, by an in-memory pipe.
type Port interface {
	io.ReadWriteCloser
}

// OpenSerialPort opens the radio's serial device.
func OpenSerialPort(portName string, baudRate int) (Port, error) {
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("open serial port %q: %w", portName, err)
	}
	return port, nil
}

// Config controls runtime behavior of Link.
type Config struct {
	PortName string
	BaudRate int

	// OpenPort overrides serial port opening, used by tests.
	OpenPort func() (Port, error)

	KeepAliveInterval   time.Duration
	KeepAliveTimeout    time.Duration
	RequestTimeout      time.Duration
	InitAttempts        int
	InitRetryDelay      time.Duration
	InitResponseTimeout time.Duration
	ReconnectBackoff    []time.Duration

	Logger zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.OpenPort == nil {
		portName, baudRate := c.PortName, c.BaudRate
		c.OpenPort = func() (Port, error) {
			return OpenSerialPort(portName, baudRate)
		}
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if c.KeepAliveTimeout <= 0 {
		c.KeepAliveTimeout = DefaultKeepAliveTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.InitAttempts <= 0 {
		c.InitAttempts = DefaultInitAttempts
	}
	if c.InitRetryDelay <= 0 {
		c.InitRetryDelay = DefaultInitRetryDelay
	}
	if c.InitResponseTimeout <= 0 {
		c.InitResponseTimeout = DefaultInitResponseTimeout
	}
	if len(c.ReconnectBackoff) == 0 {
		c.ReconnectBackoff = defaultReconnectBackoff
	}
	return c
}

// Status is a point-in-time snapshot of the link.
type Status struct {
	Running      bool   `json:"running"`
	Connected    bool   `json:"connected"`
	Port         string `json:"port"`
	EventsQueued int    `json:"events_queued"`
}

// Link manages the companion connection: it opens the port, performs the
// self-info handshake, dispatches inbound events, and reconnects with staged
// backoff when the link is lost. A radio that is unplugged at startup is not
// an error; the link keeps retrying until Close.
type Link struct {
	cfg    Config
	logger zerolog.Logger

	events chan Event

	portMu sync.Mutex
	port   Port

	stateMu sync.RWMutex
	state   LinkState

	infoMu   sync.RWMutex
	nodeID   string
	nodeName string

	sendMu    sync.Mutex
	requestMu sync.Mutex

	waitMu sync.Mutex
	waiter chan Event

	lastActivity atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

type rawFrame struct {
	payload []byte
	err     error
}

// Open starts the companion link. The connection itself is established in the
// background; use Status or the event stream to observe it.
func Open(cfg Config) (*Link, error) {
	cfg = cfg.withDefaults()
	if cfg.PortName == "" {
		return nil, errors.New("device: port name is required")
	}

	link := &Link{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "device").Str("port", cfg.PortName).Logger(),
		events: make(chan Event, 64),
		state:  StateConnecting,
		closed: make(chan struct{}),
	}

	link.wg.Add(1)
	go link.run()

	return link, nil
}

// Events returns inbound message and contact events. The channel is closed
// after Close.
func (l *Link) Events() <-chan Event {
	return l.events
}

// State returns the current link state.
func (l *Link) State() LinkState {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.state
}

// NodeID returns the radio's node identifier, empty until the first
// successful handshake.
func (l *Link) NodeID() string {
	l.infoMu.RLock()
	defer l.infoMu.RUnlock()
	return l.nodeID
}

// NodeName returns the radio's advertised name, empty until the first
// successful handshake.
func (l *Link) NodeName() string {
	l.infoMu.RLock()
	defer l.infoMu.RUnlock()
	return l.nodeName
}

// Status returns a snapshot for the status endpoint.
func (l *Link) Status() Status {
	return Status{
		Running:      !l.isClosed(),
		Connected:    l.State() == StateReady,
		Port:         l.cfg.PortName,
		EventsQueued: len(l.events),
	}
}

// SendDirect transmits a message to one contact and waits for the companion's
// send result.
func (l *Link) SendDirect(ctx context.Context, receiver, content string) (*SendResult, error) {
	if receiver == "" {
		return nil, errors.New("device: receiver is required")
	}
	return l.send(ctx, Command{Type: TypeSendDirect, Receiver: receiver, Content: content})
}

// SendBroadcast transmits a public message and waits for the companion's send
// result.
func (l *Link) SendBroadcast(ctx context.Context, content string) (*SendResult, error) {
	return l.send(ctx, Command{Type: TypeSendBroadcast, Content: content})
}

// Close stops the link and closes the event channel.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		if port := l.currentPort(); port != nil {
			_ = port.Close()
		}
		l.wg.Wait()
		close(l.events)
	})
	return nil
}

func (l *Link) send(ctx context.Context, cmd Command) (*SendResult, error) {
	if cmd.Content == "" {
		return nil, errors.New("device: content is required")
	}

	event, err := l.request(ctx, cmd)
	if err != nil {
		return nil, err
	}

	result := &SendResult{
		MessageID: event.MessageID,
		Sender:    event.Sender,
		Path:      event.Path,
		Timestamp: event.Timestamp,
	}
	if event.Receiver != "" {
		receiver := event.Receiver
		result.Receiver = &receiver
	}
	if result.Sender == "" {
		result.Sender = l.NodeID()
	}
	if result.Path == nil {
		result.Path = []string{}
	}
	return result, nil
}

// request performs one command/response exchange. The companion processes
// commands one at a time, so exchanges are serialized.
func (l *Link) request(ctx context.Context, cmd Command) (*Event, error) {
	if l.State() != StateReady {
		return nil, ErrLinkDown
	}

	l.requestMu.Lock()
	defer l.requestMu.Unlock()

	port := l.currentPort()
	if port == nil {
		return nil, ErrLinkDown
	}

	wait := make(chan Event, 1)
	l.setWaiter(wait)
	defer l.clearWaiter(wait)

	payload, err := EncodeCommand(cmd)
	if err != nil {
		return nil, err
	}
	if err := l.writeFrame(port, payload); err != nil {
		l.logger.Warn().Err(err).Str("command", cmd.Type).Msg("command write failed")
		return nil, fmt.Errorf("device: write %s: %w", cmd.Type, ErrLinkDown)
	}

	timer := time.NewTimer(l.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case event := <-wait:
		if event.Type == TypeError {
			return nil, &CompanionError{Code: event.Code}
		}
		return &event, nil
	case <-timer.C:
		return nil, fmt.Errorf("device: %s timed out: %w", cmd.Type, ErrLinkDown)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, ErrLinkDown
	}
}

func (l *Link) run() {
	defer l.wg.Done()

	attempt := 0
	for {
		if l.isClosed() {
			return
		}

		if delay := l.backoffDelay(attempt); delay > 0 {
			select {
			case <-time.After(delay):
			case <-l.closed:
				return
			}
		}

		port, err := l.cfg.OpenPort()
		if err != nil {
			l.logger.Warn().Err(err).Msg("open port failed")
			attempt++
			continue
		}

		err = l.session(port)
		l.setState(StateDown)
		l.clearPort()
		_ = port.Close()

		if l.isClosed() {
			return
		}

		l.logger.Warn().Err(err).Msg("companion link lost, reconnecting")
		attempt++
	}
}

// session owns one connected port: handshake, then event dispatch until the
// port fails or the link closes.
func (l *Link) session(port Port) error {
	sessionDone := make(chan struct{})
	defer close(sessionDone)

	frames := make(chan rawFrame, 16)
	go readFrames(port, frames, sessionDone, l.closed)

	if err := l.initialize(port, frames); err != nil {
		return err
	}

	l.setPort(port)
	l.setState(StateReady)
	l.touchActivity()
	l.logger.Info().Str("node_id", l.NodeID()).Msg("companion connected")

	return l.dispatchLoop(port, frames)
}

// initialize asks the companion for self info, retrying while the device
// reports not-ready after a reset.
func (l *Link) initialize(port Port, frames <-chan rawFrame) error {
	var lastErr error

	for attempt := 0; attempt < l.cfg.InitAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(l.cfg.InitRetryDelay):
			case <-l.closed:
				return ErrLinkDown
			}
		}

		payload, err := EncodeCommand(Command{Type: TypeGetSelfInfo})
		if err != nil {
			return err
		}
		if err := l.writeFrame(port, payload); err != nil {
			return fmt.Errorf("request self info: %w", err)
		}

		event, err := waitForFrame(frames, l.cfg.InitResponseTimeout, l.closed, TypeSelfInfo, TypeError)
		if err != nil {
			lastErr = err
			continue
		}

		if event.Type == TypeSelfInfo {
			l.setSelfInfo(event.NodeID, event.NodeName)
			return nil
		}
		lastErr = &CompanionError{Code: event.Code}
		l.logger.Warn().Err(lastErr).Int("attempt", attempt+1).Msg("handshake rejected")
	}

	if lastErr == nil {
		lastErr = errors.New("no self info received")
	}
	return fmt.Errorf("device handshake failed: %w", lastErr)
}

func (l *Link) dispatchLoop(port Port, frames <-chan rawFrame) error {
	keepAlive := time.NewTicker(l.cfg.KeepAliveTimeout)
	defer keepAlive.Stop()

	pingOutstanding := false
	var pingSentAt time.Time

	for {
		select {
		case frame := <-frames:
			if frame.err != nil {
				return frame.err
			}
			l.touchActivity()
			pingOutstanding = false

			event, err := DecodeEvent(frame.payload)
			if err != nil {
				l.logger.Warn().Err(err).Msg("dropping malformed frame")
				continue
			}
			l.routeEvent(event)

		case <-keepAlive.C:
			if pingOutstanding {
				if time.Since(pingSentAt) >= l.cfg.KeepAliveTimeout {
					return errors.New("pong timeout")
				}
				continue
			}
			idle := time.Since(time.UnixMilli(l.lastActivity.Load()))
			if idle < l.cfg.KeepAliveInterval {
				continue
			}
			payload, err := EncodeCommand(Command{Type: TypePing})
			if err != nil {
				return err
			}
			if err := l.writeFrame(port, payload); err != nil {
				return fmt.Errorf("keep-alive ping: %w", err)
			}
			pingOutstanding = true
			pingSentAt = time.Now()

		case <-l.closed:
			return nil
		}
	}
}

func (l *Link) routeEvent(event *Event) {
	switch event.Type {
	case TypePong:
		// Activity already recorded.
	case TypeSelfInfo:
		l.setSelfInfo(event.NodeID, event.NodeName)
		l.deliverToWaiter(event)
	case TypeSendResult:
		if !l.deliverToWaiter(event) {
			l.logger.Warn().Str("message_id", event.MessageID).Msg("unmatched send result")
		}
	case TypeError:
		if !l.deliverToWaiter(event) {
			companionErr := &CompanionError{Code: event.Code}
			l.logger.Warn().Err(companionErr).Msg("companion reported error")
		}
	case TypeContactMsgRecv, TypeChannelMsgRecv, TypeContactSeen:
		select {
		case l.events <- *event:
		case <-l.closed:
		}
	default:
		l.logger.Warn().Str("type", event.Type).Msg("dropping unknown event type")
	}
}

func (l *Link) deliverToWaiter(event *Event) bool {
	l.waitMu.Lock()
	defer l.waitMu.Unlock()
	if l.waiter == nil {
		return false
	}
	select {
	case l.waiter <- *event:
	default:
	}
	l.waiter = nil
	return true
}

func (l *Link) setWaiter(ch chan Event) {
	l.waitMu.Lock()
	defer l.waitMu.Unlock()
	l.waiter = ch
}

func (l *Link) clearWaiter(ch chan Event) {
	l.waitMu.Lock()
	defer l.waitMu.Unlock()
	if l.waiter == ch {
		l.waiter = nil
	}
}

func (l *Link) writeFrame(port Port, payload []byte) error {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	return WriteFrame(port, payload)
}

func (l *Link) setState(state LinkState) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	l.state = state
}

func (l *Link) setSelfInfo(nodeID, nodeName string) {
	if nodeID == "" {
		return
	}
	l.infoMu.Lock()
	defer l.infoMu.Unlock()
	l.nodeID = nodeID
	if nodeName != "" {
		l.nodeName = nodeName
	}
}

func (l *Link) setPort(port Port) {
	l.portMu.Lock()
	defer l.portMu.Unlock()
	l.port = port
}

func (l *Link) clearPort() {
	l.portMu.Lock()
	defer l.portMu.Unlock()
	l.port = nil
}

func (l *Link) currentPort() Port {
	l.portMu.Lock()
	defer l.portMu.Unlock()
	return l.port
}

func (l *Link) touchActivity() {
	l.lastActivity.Store(time.Now().UnixMilli())
}

func (l *Link) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

func (l *Link) backoffDelay(attempt int) time.Duration {
	schedule := l.cfg.ReconnectBackoff
	if attempt >= len(schedule) {
		attempt = len(schedule) - 1
	}
	return schedule[attempt]
}

func readFrames(port Port, frames chan<- rawFrame, sessionDone, closed <-chan struct{}) {
	for {
		payload, err := ReadFrame(port)
		select {
		case frames <- rawFrame{payload: payload, err: err}:
		case <-sessionDone:
			return
		case <-closed:
			return
		}
		if err != nil {
			return
		}
	}
}

// waitForFrame waits for an event of one of the wanted types, skipping stale
// or malformed frames, within a single timeout budget.
func waitForFrame(frames <-chan rawFrame, timeout time.Duration, closed <-chan struct{}, wantTypes ...string) (*Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case frame := <-frames:
			if frame.err != nil {
				return nil, frame.err
			}
			event, err := DecodeEvent(frame.payload)
			if err != nil {
				continue
			}
			for _, wantType := range wantTypes {
				if event.Type == wantType {
					return event, nil
				}
			}
		case <-timer.C:
			return nil, errors.New("timed out waiting for companion response")
		case <-closed:
			return nil, ErrLinkDown
		}
	}
}
