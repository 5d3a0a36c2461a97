package scp

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

// SCPCallback reports the outcome of a SubmitSCP request. err is nil on
// success; otherwise it is either an *Error (a library-level failure) or a
// raw transport error. cmdRC, nArgs, arg1-3 and payload are only meaningful
// when err is nil. SCP requests never fail with CodeBadRC: whatever cmd_rc
// the peer replied with is delivered as is, with a nil err.
type SCPCallback func(conn *Connection, err error, cmdRC uint16, nArgs int, arg1, arg2, arg3 uint32, payload []byte, userData interface{})

// RWCallback reports the outcome of a SubmitRead or SubmitWrite request.
// buffer is always the original, whole buffer the caller supplied; on a
// successful read its contents have been filled in.
type RWCallback func(conn *Connection, err error, cmdRC uint16, buffer []byte, userData interface{})

// FreeCallback is invoked once a Connection has been completely torn down:
// every outstanding and queued request has been cancelled and its callback
// fired, and the underlying socket is closed.
type FreeCallback func(userData interface{})

// Config holds the parameters of a Connection, fixed for its lifetime.
type Config struct {
	// DataLength (D) is the maximum number of payload bytes carried by a
	// single SCP packet.
	DataLength int
	// Timeout (T) is how long a slot waits for a reply before retrying.
	Timeout time.Duration
	// Attempts (N) is the maximum number of times a packet is sent before
	// the request fails with CodeTimeout.
	Attempts int
	// Window (W) is the number of requests allowed in flight at once.
	Window int
	// DSCP, if non-zero, sets the DSCP/TOS marking on outgoing packets.
	DSCP int
	// Logger receives structured diagnostic events. If nil, logging is
	// discarded.
	Logger *logrus.Logger
}

func (c Config) validate() error {
	if c.DataLength <= 0 {
		return errors.New("scp: DataLength must be positive")
	}
	if c.Timeout <= 0 {
		return errors.New("scp: Timeout must be positive")
	}
	if c.Attempts < 1 {
		return errors.New("scp: Attempts must be at least 1")
	}
	if c.Window < 1 {
		return errors.New("scp: Window must be at least 1")
	}
	return nil
}

// Connection is a single SDP/SCP session with one peer. All of its mutable
// state is owned by a single internal goroutine; every exported method is
// safe to call from any goroutine and simply hands its request to that
// owning goroutine.
type Connection struct {
	cfg    Config
	sock   *net.UDPConn
	logger *logrus.Logger

	queue    *requestQueue
	slots    []outstandingSlot
	nextSeq  uint16
	nextRWID uint32

	inbox   *inbox
	recvCh  chan []byte
	timerCh chan timerEvent

	readerClosed     chan struct{}
	readerObserved   bool
	loopDone         chan struct{}

	freeing          bool
	teardownComplete bool
	freeCB           FreeCallback
	freeUserData     interface{}
}

type timerEvent struct {
	idx int
	gen uint64
}

// Init creates a Connection bound to raddr. The caller is responsible for
// resolving raddr itself; Init never performs DNS resolution.
func Init(raddr *net.UDPAddr, cfg Config) (*Connection, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	sock, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, errors.Wrap(err, "scp: dial failed")
	}
	if cfg.DSCP != 0 {
		if err := ipv4.NewConn(sock).SetTOS(cfg.DSCP << 2); err != nil {
			sock.Close()
			return nil, errors.Wrap(err, "scp: failed to set DSCP")
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = discardLogger()
	}

	c := &Connection{
		cfg:          cfg,
		sock:         sock,
		logger:       logger,
		queue:        newRequestQueue(),
		slots:        make([]outstandingSlot, cfg.Window),
		inbox:        newInbox(),
		recvCh:       make(chan []byte, 128),
		timerCh:      make(chan timerEvent, cfg.Window),
		readerClosed: make(chan struct{}),
		loopDone:     make(chan struct{}),
	}
	for i := range c.slots {
		c.slots[i] = newSlot(i, cfg.DataLength)
	}

	go c.receiver()
	go c.run()

	return c, nil
}

// SubmitSCP queues an arbitrary SCP command. buffer[:sendLength] is sent as
// the request payload; on success, up to recvCapacity bytes of the reply's
// payload are copied back into buffer before cb is invoked.
func (c *Connection) SubmitSCP(destAddr uint16, destCPU uint8, cmd uint16, nArgsSend, nArgsRecv int, arg1, arg2, arg3 uint32, buffer []byte, sendLength, recvCapacity int, cb SCPCallback, userData interface{}) {
	c.inbox.push(submitSCPCmd{
		destAddr: destAddr, destCPU: destCPU, cmd: cmd,
		nArgsSend: nArgsSend, nArgsRecv: nArgsRecv,
		arg1: arg1, arg2: arg2, arg3: arg3,
		buffer: buffer, sendLength: sendLength, recvCapacity: recvCapacity,
		cb: cb, userData: userData,
	})
}

// SubmitWrite queues a bulk write of buffer to address on the peer,
// automatically sharded into DataLength-sized packets.
func (c *Connection) SubmitWrite(destAddr uint16, destCPU uint8, address uint32, buffer []byte, cb RWCallback, userData interface{}) {
	c.inbox.push(submitRWCmd{
		kind: kindWrite, destAddr: destAddr, destCPU: destCPU,
		address: address, buffer: buffer, cb: cb, userData: userData,
	})
}

// SubmitRead queues a bulk read from address on the peer into buffer,
// automatically sharded into DataLength-sized packets.
func (c *Connection) SubmitRead(destAddr uint16, destCPU uint8, address uint32, buffer []byte, cb RWCallback, userData interface{}) {
	c.inbox.push(submitRWCmd{
		kind: kindRead, destAddr: destAddr, destCPU: destCPU,
		address: address, buffer: buffer, cb: cb, userData: userData,
	})
}

// Free begins tearing down the connection: every outstanding and queued
// request is cancelled with CodeFree, the socket is closed, and once
// everything has settled cb is invoked. No further Submit calls are
// accepted once Free has been called.
func (c *Connection) Free(cb FreeCallback, userData interface{}) {
	c.inbox.push(freeCmd{cb: cb, userData: userData})
}

// inbox is a small MPSC mailbox used to hand requests from arbitrary caller
// goroutines to the Connection's single owning goroutine without blocking
// the caller; it is pure Go-runtime plumbing and carries none of the
// protocol's invariant-bearing state.
type inbox struct {
	mu    sync.Mutex
	items []loopCmd
	wake  chan struct{}
}

func newInbox() *inbox {
	return &inbox{wake: make(chan struct{}, 1)}
}

func (b *inbox) push(cmd loopCmd) {
	b.mu.Lock()
	b.items = append(b.items, cmd)
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *inbox) drain() []loopCmd {
	b.mu.Lock()
	items := b.items
	b.items = nil
	b.mu.Unlock()
	return items
}

type loopCmd interface{}

type submitSCPCmd struct {
	destAddr             uint16
	destCPU              uint8
	cmd                  uint16
	nArgsSend, nArgsRecv int
	arg1, arg2, arg3     uint32
	buffer               []byte
	sendLength           int
	recvCapacity         int
	cb                   SCPCallback
	userData             interface{}
}

type submitRWCmd struct {
	kind     requestKind
	destAddr uint16
	destCPU  uint8
	address  uint32
	buffer   []byte
	cb       RWCallback
	userData interface{}
}

type freeCmd struct {
	cb       FreeCallback
	userData interface{}
}
