package signaling

import (
	"context"
	"fmt"
	"strings"
	"sync"

	gosip "github.com/ghettovoice/gosip"
	gosiplog "github.com/ghettovoice/gosip/log"
	"github.com/ghettovoice/gosip/sip"
	"github.com/ghettovoice/gosip/sip/parser"
	"github.com/ghettovoice/gosip/util"
	"github.com/sirupsen/logrus"
)

const userAgent = "sip2ha"

// Status codes the gosip package does not name.
const (
	statusTrying            = sip.StatusCode(100)
	statusRinging           = sip.StatusCode(180)
	statusOK                = sip.StatusCode(200)
	statusBusyHere          = sip.StatusCode(486)
	statusRequestTerminated = sip.StatusCode(487)
	statusDecline           = sip.StatusCode(603)
)

// Client is the gosip-backed Transport implementation. One Client owns one
// SIP endpoint: a listener, a registrar binding and the set of live dialogs.
type Client struct {
	creds Credentials
	log   *logrus.Entry

	srv    gosip.Server
	events chan Event

	mu      sync.Mutex
	dialogs map[string]*dialog
	closed  bool
}

type dialog struct {
	callID     string
	localAddr  *sip.Address
	remoteAddr *sip.Address
	cseq       uint
	inbound    bool
	clientTx   sip.ClientTransaction
	inviteReq  sip.Request
}

// NewClient creates an unconnected Client.
func NewClient(creds Credentials, log *logrus.Entry) *Client {
	return &Client{
		creds:   creds,
		log:     log,
		events:  make(chan Event, 32),
		dialogs: make(map[string]*dialog),
	}
}

func (c *Client) Events() <-chan Event { return c.events }

// Connect starts the SIP listener. The local port walks upward from the
// configured one until a free port is found.
func (c *Client) Connect(ctx context.Context) error {
	host, err := detectHostIP()
	if err != nil {
		c.log.Warnf("host address detection failed: %v", err)
		host = ""
	}
	logger := gosiplog.NewLogrusLogger(c.log, "SIP", nil)
	c.srv = gosip.NewServer(gosip.ServerConfig{Host: host, UserAgent: userAgent}, nil, nil, logger)

	if err := c.srv.OnRequest(sip.INVITE, c.handleInvite); err != nil {
		return err
	}
	if err := c.srv.OnRequest(sip.ACK, c.handleAck); err != nil {
		return err
	}
	if err := c.srv.OnRequest(sip.BYE, c.handleBye); err != nil {
		return err
	}
	if err := c.srv.OnRequest(sip.CANCEL, c.handleCancel); err != nil {
		return err
	}

	proto := c.creds.Protocol
	if proto == "" {
		proto = "udp"
	}

	var listenErr error
	for port := c.creds.Port; port < c.creds.Port+10; port++ {
		addr := fmt.Sprintf(":%d", port)
		listenErr = c.srv.Listen(proto, addr)
		if listenErr == nil {
			c.log.Infof("SIP listener on %s/%s, registrar %s:%d", addr, proto, c.creds.Server, c.creds.Port)
			c.emit(Connected{})
			return nil
		}
		c.log.Warnf("failed to listen on %s: %v", addr, listenErr)
	}
	return fmt.Errorf("sip listen: %w", listenErr)
}

// Register binds this endpoint at the registrar, answering one digest
// challenge if the registrar asks for it.
func (c *Client) Register(ctx context.Context) error {
	return c.register(ctx, "3600")
}

// Unregister removes the registrar binding.
func (c *Client) Unregister(ctx context.Context) error {
	return c.register(ctx, "0")
}

func (c *Client) register(ctx context.Context, expires string) error {
	req, err := c.buildRegister(expires)
	if err != nil {
		return err
	}

	res, err := c.awaitFinal(ctx, req)
	if err != nil {
		return err
	}

	if res.StatusCode() == sip.StatusCode(401) || res.StatusCode() == sip.StatusCode(407) {
		auth := sip.DefaultAuthorizer{
			User:     sip.String{Str: c.creds.Username},
			Password: sip.String{Str: c.creds.Password},
		}
		retry, err := c.buildRegister(expires)
		if err != nil {
			return err
		}
		if err := auth.AuthorizeRequest(retry, res); err != nil {
			return fmt.Errorf("authorize register: %w", err)
		}
		res, err = c.awaitFinal(ctx, retry)
		if err != nil {
			return err
		}
	}

	if res.StatusCode() >= 300 {
		return fmt.Errorf("register rejected: %d %s", res.StatusCode(), res.Reason())
	}
	c.log.Infof("registered as %s@%s", c.creds.Username, c.creds.Domain)
	return nil
}

func (c *Client) buildRegister(expires string) (sip.Request, error) {
	target, err := parser.ParseUri(fmt.Sprintf("sip:%s", c.creds.Domain))
	if err != nil {
		return nil, fmt.Errorf("parse registrar uri: %w", err)
	}
	aor, err := parser.ParseUri(fmt.Sprintf("sip:%s@%s", c.creds.Username, c.creds.Domain))
	if err != nil {
		return nil, fmt.Errorf("parse aor uri: %w", err)
	}

	tag := util.RandString(8)
	fromAddr := &sip.Address{Uri: aor, Params: sip.NewParams().Add("tag", sip.String{Str: tag})}
	toAddr := &sip.Address{Uri: aor.Clone()}
	contactAddr := &sip.Address{Uri: aor.Clone()}

	return sip.NewRequestBuilder().
		SetMethod(sip.REGISTER).
		SetRecipient(target).
		SetFrom(fromAddr).
		SetTo(toAddr).
		SetContact(contactAddr).
		AddHeader(&sip.GenericHeader{HeaderName: "Expires", Contents: expires}).
		Build()
}

// awaitFinal sends req and blocks until a final response.
func (c *Client) awaitFinal(ctx context.Context, req sip.Request) (sip.Response, error) {
	tx, err := c.srv.Request(req)
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Method(), err)
	}
	for {
		select {
		case <-ctx.Done():
			_ = tx.Cancel()
			return nil, ctx.Err()
		case res := <-tx.Responses():
			if res == nil {
				return nil, fmt.Errorf("%s transaction closed", req.Method())
			}
			if res.IsProvisional() {
				continue
			}
			return res, nil
		case err := <-tx.Errors():
			if err == nil {
				err = fmt.Errorf("%s transaction failed", req.Method())
			}
			return nil, err
		case <-tx.Done():
			return nil, fmt.Errorf("%s transaction done without final response", req.Method())
		}
	}
}

// Invite starts an outbound dialog towards remote and returns the dialog
// identifier. The final outcome is reported on the event stream.
func (c *Client) Invite(ctx context.Context, remote string, media MediaRequest) (string, error) {
	toURI, err := parser.ParseUri(c.normalizeTarget(remote))
	if err != nil {
		return "", fmt.Errorf("parse target uri: %w", err)
	}
	fromURI, err := parser.ParseUri(fmt.Sprintf("sip:%s@%s", c.creds.Username, c.creds.Domain))
	if err != nil {
		return "", fmt.Errorf("parse from uri: %w", err)
	}

	tag := util.RandString(8)
	fromAddr := &sip.Address{Uri: fromURI, Params: sip.NewParams().Add("tag", sip.String{Str: tag})}
	toAddr := &sip.Address{Uri: toURI}
	contactAddr := &sip.Address{Uri: fromURI.Clone()}

	req, err := sip.NewRequestBuilder().
		SetMethod(sip.INVITE).
		SetRecipient(toURI).
		SetFrom(fromAddr).
		SetTo(toAddr).
		SetContact(contactAddr).
		Build()
	if err != nil {
		return "", fmt.Errorf("build invite: %w", err)
	}

	cid, _ := req.CallID()
	if cid == nil {
		return "", fmt.Errorf("invite request without call id")
	}
	callID := cid.String()

	tx, err := c.srv.Request(req)
	if err != nil {
		return "", fmt.Errorf("send invite: %w", err)
	}

	d := &dialog{
		callID:     callID,
		localAddr:  fromAddr,
		remoteAddr: toAddr,
		cseq:       1,
		clientTx:   tx,
	}
	c.mu.Lock()
	c.dialogs[callID] = d
	c.mu.Unlock()

	go c.watchInvite(ctx, d, tx)
	return callID, nil
}

// watchInvite drives an outbound INVITE transaction to its final response.
func (c *Client) watchInvite(ctx context.Context, d *dialog, tx sip.ClientTransaction) {
	for {
		select {
		case <-ctx.Done():
			_ = tx.Cancel()
			return
		case res := <-tx.Responses():
			if res == nil {
				c.emit(SessionFailed{DialogID: d.callID, Err: fmt.Errorf("invite transaction closed")})
				return
			}
			c.log.Debugf("dialog %s: %d %s", d.callID, res.StatusCode(), res.Reason())
			if res.IsProvisional() {
				continue
			}
			c.finishInvite(d, res)
			return
		case err := <-tx.Errors():
			if err == nil {
				err = fmt.Errorf("invite transaction failed")
			}
			c.emit(SessionFailed{DialogID: d.callID, Err: err})
			return
		case <-tx.Done():
			return
		}
	}
}

func (c *Client) finishInvite(d *dialog, res sip.Response) {
	if toHdr, ok := res.To(); ok && toHdr.Params != nil {
		if tag, ok := toHdr.Params.Get("tag"); ok {
			c.mu.Lock()
			d.remoteAddr.Params = sip.NewParams().Add("tag", tag)
			c.mu.Unlock()
		}
	}

	switch code := res.StatusCode(); {
	case code < 300:
		if err := c.sendAck(d); err != nil {
			c.log.Warnf("dialog %s: ack failed: %v", d.callID, err)
		}
		c.emit(SessionEstablished{DialogID: d.callID})
	case code == statusBusyHere || code == statusDecline:
		c.dropDialog(d.callID)
		c.emit(SessionEnded{DialogID: d.callID, Reason: EndReasonRejected})
	case code == statusRequestTerminated:
		c.dropDialog(d.callID)
		c.emit(SessionEnded{DialogID: d.callID, Reason: EndReasonCancelled})
	default:
		c.dropDialog(d.callID)
		c.emit(SessionFailed{DialogID: d.callID, Err: fmt.Errorf("invite rejected: %d %s", code, res.Reason())})
	}
}

func (c *Client) sendAck(d *dialog) error {
	cid := sip.CallID(d.callID)
	req, err := sip.NewRequestBuilder().
		SetMethod(sip.ACK).
		SetRecipient(d.remoteAddr.Uri).
		SetFrom(d.localAddr).
		SetTo(d.remoteAddr).
		SetCallID(&cid).
		SetSeqNo(d.cseq).
		Build()
	if err != nil {
		return fmt.Errorf("build ack: %w", err)
	}
	if _, err := c.srv.Request(req); err != nil {
		return fmt.Errorf("send ack: %w", err)
	}
	return nil
}

// Accept answers a ringing inbound dialog with 200 OK. The dialog is
// confirmed once the remote ACK arrives.
func (c *Client) Accept(ctx context.Context, dialogID string, media MediaRequest) error {
	d, ok := c.getDialog(dialogID)
	if !ok || d.inviteReq == nil {
		return fmt.Errorf("dialog %s not found", dialogID)
	}

	res := sip.NewResponseFromRequest("", d.inviteReq, statusOK, "OK", "")
	tag := util.RandString(8)
	if toHdr, ok := res.To(); ok {
		toHdr.Params = toHdr.Params.Add("tag", sip.String{Str: tag})
		c.mu.Lock()
		d.localAddr.Params = d.localAddr.Params.Add("tag", sip.String{Str: tag})
		c.mu.Unlock()
	}
	if _, err := c.srv.Respond(res); err != nil {
		return fmt.Errorf("send 200 OK: %w", err)
	}
	return nil
}

// Reject declines a ringing inbound dialog.
func (c *Client) Reject(ctx context.Context, dialogID string) error {
	d, ok := c.getDialog(dialogID)
	if !ok || d.inviteReq == nil {
		return fmt.Errorf("dialog %s not found", dialogID)
	}
	c.dropDialog(dialogID)
	c.srv.RespondOnRequest(d.inviteReq, statusDecline, "Decline", "", nil)
	return nil
}

// Cancel aborts an outbound dialog before it is accepted.
func (c *Client) Cancel(ctx context.Context, dialogID string) error {
	d, ok := c.getDialog(dialogID)
	if !ok || d.clientTx == nil {
		return fmt.Errorf("dialog %s not found", dialogID)
	}
	c.dropDialog(dialogID)
	return d.clientTx.Cancel()
}

// Bye terminates an established dialog.
func (c *Client) Bye(ctx context.Context, dialogID string) error {
	d, ok := c.getDialog(dialogID)
	if !ok {
		return fmt.Errorf("dialog %s not found", dialogID)
	}
	c.mu.Lock()
	d.cseq++
	cseq := d.cseq
	c.mu.Unlock()
	c.dropDialog(dialogID)

	cid := sip.CallID(dialogID)
	req, err := sip.NewRequestBuilder().
		SetMethod(sip.BYE).
		SetRecipient(d.remoteAddr.Uri).
		SetFrom(d.localAddr).
		SetTo(d.remoteAddr).
		SetCallID(&cid).
		SetSeqNo(cseq).
		Build()
	if err != nil {
		return fmt.Errorf("build bye: %w", err)
	}
	if _, err := c.srv.Request(req); err != nil {
		return fmt.Errorf("send bye: %w", err)
	}
	return nil
}

// Close shuts down the listener and the event stream.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.dialogs = make(map[string]*dialog)
	close(c.events)
	c.mu.Unlock()

	if c.srv != nil {
		c.srv.Shutdown()
	}
	return nil
}

func (c *Client) handleInvite(req sip.Request, tx sip.ServerTransaction) {
	cid, _ := req.CallID()
	if cid == nil {
		return
	}
	callID := cid.String()

	fromHdr, _ := req.From()
	toHdr, _ := req.To()
	caller := ""
	if fromHdr != nil && fromHdr.Address != nil {
		if u := fromHdr.Address.User(); u != nil {
			caller = u.String()
		}
	}
	c.log.Infof("inbound INVITE %s from %q", callID, caller)

	d := &dialog{
		callID:     callID,
		localAddr:  sip.NewAddressFromToHeader(toHdr),
		remoteAddr: sip.NewAddressFromFromHeader(fromHdr),
		cseq:       1,
		inbound:    true,
		inviteReq:  req,
	}
	if fromHdr != nil && fromHdr.Params != nil {
		if tag, ok := fromHdr.Params.Get("tag"); ok {
			d.remoteAddr.Params = d.remoteAddr.Params.Add("tag", tag)
		}
	}

	c.mu.Lock()
	c.dialogs[callID] = d
	c.mu.Unlock()

	c.srv.RespondOnRequest(req, statusTrying, "Trying", "", nil)
	c.srv.RespondOnRequest(req, statusRinging, "Ringing", "", nil)

	// Media negotiation is opaque at this layer; report audio-only unless
	// the offer carries a video stream.
	media := MediaRequest{Audio: true, Video: hasVideoOffer(req)}
	c.emit(InboundSession{DialogID: callID, Caller: caller, Media: media})
}

func (c *Client) handleAck(req sip.Request, tx sip.ServerTransaction) {
	cid, _ := req.CallID()
	if cid == nil {
		return
	}
	callID := cid.String()
	if d, ok := c.getDialog(callID); ok && d.inbound {
		c.emit(SessionEstablished{DialogID: callID})
	}
}

func (c *Client) handleBye(req sip.Request, tx sip.ServerTransaction) {
	cid, _ := req.CallID()
	if cid == nil {
		return
	}
	callID := cid.String()
	c.srv.RespondOnRequest(req, statusOK, "OK", "", nil)
	if _, ok := c.getDialog(callID); ok {
		c.dropDialog(callID)
		c.emit(SessionEnded{DialogID: callID, Reason: EndReasonRemote})
	}
}

func (c *Client) handleCancel(req sip.Request, tx sip.ServerTransaction) {
	cid, _ := req.CallID()
	if cid == nil {
		return
	}
	callID := cid.String()
	c.srv.RespondOnRequest(req, statusOK, "OK", "", nil)
	if _, ok := c.getDialog(callID); ok {
		c.dropDialog(callID)
		c.emit(SessionEnded{DialogID: callID, Reason: EndReasonCancelled})
	}
}

func (c *Client) getDialog(id string) (*dialog, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.dialogs[id]
	return d, ok
}

func (c *Client) dropDialog(id string) {
	c.mu.Lock()
	delete(c.dialogs, id)
	c.mu.Unlock()
}

// emit sends while holding the mutex so Close cannot close the channel
// out from under an in-flight send. The orchestrator loop drains events
// without taking the mutex, so the send always completes.
func (c *Client) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- ev
}

// normalizeTarget turns a bare extension or user name into a full SIP URI
// within the configured domain.
func (c *Client) normalizeTarget(remote string) string {
	if strings.Contains(remote, ":") {
		return remote
	}
	if strings.Contains(remote, "@") {
		return "sip:" + remote
	}
	return fmt.Sprintf("sip:%s@%s", remote, c.creds.Domain)
}

func hasVideoOffer(req sip.Request) bool {
	body := req.Body()
	return strings.Contains(body, "m=video")
}
