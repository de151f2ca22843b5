// Package stomp implements the STOMP MTP binding (spec §3 "STOMP MTP",
// Design Notes §9): a state machine cycling
// IDLE -> CONNECTING -> AWAITING_CONNECTED -> SUBSCRIBING -> RUNNING ->
// {DISCONNECTING, RETRY_WAIT}, built on the real STOMP 1.2 client
// library github.com/gmallard/stompngo.
package stomp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gmallard/stompngo"

	"github.com/jeeves-cluster-organization/uspagent/internal/logging"
	"github.com/jeeves-cluster-organization/uspagent/internal/mtp"
	"github.com/jeeves-cluster-organization/uspagent/internal/retry"
)

// state names the binding's position in the connect state machine.
type state int

const (
	stateIdle state = iota
	stateConnecting
	stateAwaitingConnected
	stateSubscribing
	stateRunning
	stateDisconnecting
	stateRetryWait
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "IDLE"
	case stateConnecting:
		return "CONNECTING"
	case stateAwaitingConnected:
		return "AWAITING_CONNECTED"
	case stateSubscribing:
		return "SUBSCRIBING"
	case stateRunning:
		return "RUNNING"
	case stateDisconnecting:
		return "DISCONNECTING"
	case stateRetryWait:
		return "RETRY_WAIT"
	default:
		return "UNKNOWN"
	}
}

// Binding is the STOMP MTP's Capability implementation.
type Binding struct {
	cfg     mtp.Config
	logger  logging.Logger
	retries *retry.Scheduler
	onInbound mtp.InboundHandler

	mu    sync.Mutex
	st    state
	conn  *stompngo.Connection
	netc  net.Conn
	stopc chan struct{}
	wg    sync.WaitGroup
}

// New creates a STOMP binding for the given MTP row configuration.
// onInbound is invoked for every USP Record payload received on the
// subscribed destination.
func New(cfg mtp.Config, retries *retry.Scheduler, logger logging.Logger, onInbound mtp.InboundHandler) *Binding {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Binding{cfg: cfg, logger: logger, retries: retries, onInbound: onInbound, st: stateIdle}
}

func (b *Binding) retryID() string {
	return fmt.Sprintf("stomp-mtp-%d", b.cfg.InstanceID)
}

// Start dials, connects and subscribes, then runs the receive loop in
// the background. On failure, it schedules a reconnect via the Retry
// Scheduler and returns the error.
func (b *Binding) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.st == stateRunning || b.st == stateConnecting {
		b.mu.Unlock()
		return nil
	}
	b.st = stateConnecting
	b.mu.Unlock()

	if err := b.connect(ctx); err != nil {
		b.scheduleRetry(ctx)
		return err
	}
	return nil
}

func (b *Binding) connect(ctx context.Context) error {
	addr := net.JoinHostPort(b.cfg.STOMPHost, strconv.Itoa(b.cfg.STOMPPort))
	var netc net.Conn
	var err error
	if b.cfg.STOMPUseTLS {
		dialer := &tls.Dialer{}
		netc, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		netc, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("stomp: dial %s: %w", addr, err)
	}

	b.mu.Lock()
	b.st = stateAwaitingConnected
	b.mu.Unlock()

	h := stompngo.Headers{
		stompngo.HK_ACCEPT_VERSION, stompngo.SPL_12,
		stompngo.HK_HOST, b.cfg.STOMPVirtualHost,
	}
	if b.cfg.STOMPUsername != "" {
		h = h.Add(stompngo.HK_LOGIN, b.cfg.STOMPUsername)
		h = h.Add(stompngo.HK_PASSCODE, b.cfg.STOMPPassword)
	}
	conn, err := stompngo.Connect(netc, h)
	if err != nil {
		netc.Close()
		return fmt.Errorf("stomp: CONNECT: %w", err)
	}

	b.mu.Lock()
	b.st = stateSubscribing
	b.mu.Unlock()

	sh := stompngo.Headers{
		stompngo.HK_DESTINATION, b.cfg.STOMPDestination,
		stompngo.HK_ID, b.retryID(),
		stompngo.HK_ACK, stompngo.AckModeAuto,
	}
	msgs, err := conn.Subscribe(sh)
	if err != nil {
		conn.Disconnect(stompngo.Headers{})
		netc.Close()
		return fmt.Errorf("stomp: SUBSCRIBE %s: %w", b.cfg.STOMPDestination, err)
	}

	b.mu.Lock()
	b.conn = conn
	b.netc = netc
	b.st = stateRunning
	b.stopc = make(chan struct{})
	stopc := b.stopc
	b.mu.Unlock()

	b.retries.Succeeded(b.retryID())
	b.wg.Add(1)
	go b.receiveLoop(msgs, stopc)
	return nil
}

func (b *Binding) receiveLoop(msgs <-chan stompngo.MessageData, stopc chan struct{}) {
	defer b.wg.Done()
	for {
		select {
		case <-stopc:
			return
		case md, ok := <-msgs:
			if !ok {
				b.logger.Warn("stomp mtp subscription channel closed", "instance", b.cfg.InstanceID)
				b.transitionToRetry()
				return
			}
			if md.Error != nil {
				b.logger.Warn("stomp mtp receive error", "instance", b.cfg.InstanceID, "err", md.Error)
				b.transitionToRetry()
				return
			}
			if b.onInbound != nil {
				b.onInbound("", md.Message.Body)
			}
		}
	}
}

func (b *Binding) transitionToRetry() {
	b.mu.Lock()
	b.st = stateRetryWait
	b.mu.Unlock()
	b.scheduleRetry(context.Background())
}

func (b *Binding) scheduleRetry(ctx context.Context) {
	delay, err := b.retries.NextDelay(retry.CategorySTOMPReconnect, b.retryID())
	if err != nil {
		b.logger.Error("stomp mtp giving up reconnecting", "instance", b.cfg.InstanceID, "err", err)
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		if err := b.connect(ctx); err != nil {
			b.scheduleRetry(ctx)
		}
	}()
}

// Stop disconnects cleanly and releases the socket.
func (b *Binding) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.st == stateIdle {
		b.mu.Unlock()
		return nil
	}
	b.st = stateDisconnecting
	conn := b.conn
	netc := b.netc
	stopc := b.stopc
	b.conn, b.netc, b.stopc = nil, nil, nil
	b.mu.Unlock()

	if stopc != nil {
		close(stopc)
	}
	if conn != nil {
		conn.Disconnect(stompngo.Headers{})
	}
	if netc != nil {
		netc.Close()
	}
	b.retries.Forget(b.retryID())

	b.mu.Lock()
	b.st = stateIdle
	b.mu.Unlock()
	return nil
}

// Status reports Up while RUNNING, Connecting during the handshake
// phases, Error while in RETRY_WAIT, and Down otherwise.
func (b *Binding) Status() mtp.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.st {
	case stateRunning:
		return mtp.StatusUp
	case stateConnecting, stateAwaitingConnected, stateSubscribing:
		return mtp.StatusConnecting
	case stateRetryWait:
		return mtp.StatusError
	default:
		return mtp.StatusDown
	}
}

// receiptTimeout bounds how long Send waits for the broker's RECEIPT
// frame before treating the send as failed (spec §4.7).
const receiptTimeout = 10 * time.Second

// Send transmits payload as a STOMP SEND frame body to destination,
// requesting a receipt for every SEND (spec §4.7: "every SEND requests
// a receipt"). A missing or timed-out receipt demotes the binding to
// RETRY_WAIT and schedules a reconnect, the same as a broken receive.
func (b *Binding) Send(ctx context.Context, destination string, payload []byte) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("stomp: instance %d not connected", b.cfg.InstanceID)
	}

	receiptID := fmt.Sprintf("usp-%d-%d", b.cfg.InstanceID, time.Now().UnixNano())
	h := stompngo.Headers{
		stompngo.HK_DESTINATION, destination,
		stompngo.HK_CONTENT_TYPE, "application/vnd.bbf.usp.msg",
		stompngo.HK_RECEIPT, receiptID,
	}
	if err := conn.SendBytes(h, payload); err != nil {
		b.transitionToRetry()
		return fmt.Errorf("stomp: send: %w", err)
	}

	if err := b.awaitReceipt(ctx, conn, receiptID); err != nil {
		b.transitionToRetry()
		return err
	}
	return nil
}

// awaitReceipt blocks until the broker's RECEIPT frame for receiptID
// arrives on the connection's generic inbound channel, ctx is done, or
// receiptTimeout elapses.
func (b *Binding) awaitReceipt(ctx context.Context, conn *stompngo.Connection, receiptID string) error {
	deadline := time.NewTimer(receiptTimeout)
	defer deadline.Stop()
	for {
		select {
		case md, ok := <-conn.MessageData:
			if !ok {
				return fmt.Errorf("stomp: connection closed awaiting receipt %s", receiptID)
			}
			if md.Error != nil {
				return fmt.Errorf("stomp: receipt %s: %w", receiptID, md.Error)
			}
			if v, ok := md.Message.Headers.Contains(stompngo.HK_RECEIPT_ID); ok && v == receiptID {
				return nil
			}
		case <-deadline.C:
			return fmt.Errorf("stomp: receipt %s timed out after %s", receiptID, receiptTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
