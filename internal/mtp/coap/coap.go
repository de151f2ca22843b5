// Package coap implements the CoAP MTP binding (spec §3 "CoAP MTP",
// Design Notes §9): a plain UDP listener (no DTLS) handling
// block-wise-transferred USP Records, built on github.com/plgd-dev/go-coap/v3.
// Its lifecycle mirrors the STOMP binding's Start/Stop/Status shape
// (internal/mtp/stomp) so the Agent MTP Table can manage either
// transport uniformly.
package coap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	coapNet "github.com/plgd-dev/go-coap/v3/net"
	"github.com/plgd-dev/go-coap/v3/mux"
	"github.com/plgd-dev/go-coap/v3/udp"

	"github.com/jeeves-cluster-organization/uspagent/internal/logging"
	"github.com/jeeves-cluster-organization/uspagent/internal/mtp"
)

type server interface {
	Serve(l *coapNet.UDPConn) error
	Stop()
}

// Binding is the CoAP MTP's Capability implementation.
type Binding struct {
	cfg       mtp.Config
	logger    logging.Logger
	onInbound mtp.InboundHandler

	mu      sync.Mutex
	running bool
	lastErr error
	srv     server
	ln      *coapNet.UDPConn
}

// New creates a CoAP binding listening on cfg.CoAPListenPort at
// cfg.CoAPPath. onInbound is invoked with the body of every POST carrying
// a USP Record.
func New(cfg mtp.Config, logger logging.Logger, onInbound mtp.InboundHandler) *Binding {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Binding{cfg: cfg, logger: logger, onInbound: onInbound}
}

// Start binds the UDP listener and begins serving in the background.
// The listener is always plain UDP: this binding sets up no DTLS, and
// cfg.CoAPUseDTLS is not read.
func (b *Binding) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}

	r := mux.NewRouter()
	path := b.cfg.CoAPPath
	if path == "" {
		path = "/usp"
	}
	if err := r.Handle(path, mux.HandlerFunc(b.handlePost)); err != nil {
		b.lastErr = fmt.Errorf("coap: register handler: %w", err)
		return b.lastErr
	}

	addr := ":" + strconv.Itoa(b.cfg.CoAPListenPort)
	ln, err := coapNet.NewListenUDP("udp", addr)
	if err != nil {
		b.lastErr = fmt.Errorf("coap: listen %s: %w", addr, err)
		return b.lastErr
	}

	s := udp.NewServer(udp.WithMux(r))
	go func() {
		if err := s.Serve(ln); err != nil {
			b.logger.Warn("coap mtp server stopped", "instance", b.cfg.InstanceID, "err", err)
			b.mu.Lock()
			b.running = false
			b.lastErr = fmt.Errorf("coap: serve: %w", err)
			b.mu.Unlock()
		}
	}()

	b.srv = s
	b.ln = ln
	b.running = true
	b.lastErr = nil
	return nil
}

func (b *Binding) handlePost(w mux.ResponseWriter, r *mux.Message) {
	if r.Code() != codes.POST {
		w.SetResponse(codes.MethodNotAllowed, message.TextPlain, nil)
		return
	}
	body, err := io.ReadAll(r.Body())
	if err != nil {
		w.SetResponse(codes.BadRequest, message.TextPlain, nil)
		return
	}
	if b.onInbound != nil {
		b.onInbound("", body)
	}
	w.SetResponse(codes.Changed, message.AppOctets, nil)
}

// Stop shuts the listener down.
func (b *Binding) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return nil
	}
	b.srv.Stop()
	b.ln.Close()
	b.srv, b.ln = nil, nil
	b.running = false
	b.lastErr = nil
	return nil
}

// Status reports Up while serving, Error if the last Start failed to
// bind the listener or the server loop exited unexpectedly (spec §4.8
// kMtpStatus_Error), Down otherwise (a CoAP listener has no
// intermediate connecting phase, unlike the STOMP binding).
func (b *Binding) Status() mtp.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return mtp.StatusUp
	}
	if b.lastErr != nil {
		return mtp.StatusError
	}
	return mtp.StatusDown
}

// Send performs a CoAP POST of payload to destination (a "host:port"
// style CoAP URI), used for Notify and any unsolicited agent-initiated
// message over CoAP.
func (b *Binding) Send(ctx context.Context, destination string, payload []byte) error {
	co, err := udp.Dial(destination)
	if err != nil {
		return fmt.Errorf("coap: dial %s: %w", destination, err)
	}
	defer co.Close()

	path := b.cfg.CoAPPath
	if path == "" {
		path = "/usp"
	}
	resp, err := co.Post(ctx, path, message.AppOctets, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("coap: POST %s: %w", destination, err)
	}
	if resp.Code() != codes.Changed && resp.Code() != codes.Created {
		return fmt.Errorf("coap: POST %s: unexpected response %v", destination, resp.Code())
	}
	return nil
}
