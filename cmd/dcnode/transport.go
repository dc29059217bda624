package main

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"distcoord/configs"
	"distcoord/coordinator"
	"distcoord/model"

	"github.com/goccy/go-json"
)

// envelope is the wire framing for one signal crossing a node boundary:
// newline-delimited JSON, the same shape the teacher's
// network/coordinator and network/participant conn.go use for their own
// TCP framing. Payload is re-typed per Kind by decodeEnvelope on the
// receiving side, since json.RawMessage alone can't tell the dispatch
// queue which Go struct to hand the handler.
type envelope struct {
	Kind    coordinator.Kind
	From    uint32
	Payload json.RawMessage
}

// Transport is the real SendFunc backing for cmd/dcnode: one listener
// accepting inbound connections plus a lazily-dialed, cached outbound
// connection per peer, grounded on network/coordinator/conn.go's Commu
// and network/participant/conn.go's Comm.
type Transport struct {
	listener net.Listener
	addrOf   func(model.NodeID) string
	queue    func(envelope)

	mu    sync.Mutex
	conns map[model.NodeID]net.Conn
}

func NewTransport(listenAddr string, addrOf func(model.NodeID) string, deliver func(envelope)) *Transport {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", listenAddr)
	configs.CheckError(err)
	listener, err := net.ListenTCP("tcp", tcpAddr)
	configs.CheckError(err)
	return &Transport{
		listener: listener,
		addrOf:   addrOf,
		queue:    deliver,
		conns:    make(map[model.NodeID]net.Conn),
	}
}

// Run accepts inbound connections until Close is called.
func (t *Transport) Run() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return
		}
		go t.handleConn(conn)
	}
}

func (t *Transport) handleConn(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			return
		}
		configs.Warn(err == nil, "transport read error: "+errString(err))
		if err != nil {
			return
		}
		var e envelope
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			configs.TPrintf("dropping malformed envelope: %s", err.Error())
			continue
		}
		t.queue(e)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Send implements coordinator.SendFunc over the cached TCP connections.
// It writes to the single node `to`, dialing it on first use; node id 0
// gets no special treatment (there is no broadcast form).
func (t *Transport) Send(to model.NodeID, kind coordinator.Kind, payload interface{}) {
	raw, err := json.Marshal(payload)
	configs.CheckError(err)
	e := envelope{Kind: kind, Payload: raw}
	body, err := json.Marshal(e)
	configs.CheckError(err)
	body = append(body, '\n')

	conn, err := t.connFor(to)
	if err != nil {
		configs.Warn(false, "send to node "+strconv.FormatUint(uint64(to), 10)+" failed: "+err.Error())
		return
	}
	conn.SetWriteDeadline(time.Now().Add(configs.SignalReplyTimeout))
	if _, err := conn.Write(body); err != nil {
		configs.Warn(false, "write to node "+strconv.FormatUint(uint64(to), 10)+" failed: "+err.Error())
		t.mu.Lock()
		delete(t.conns, to)
		t.mu.Unlock()
	}
}

func (t *Transport) connFor(to model.NodeID) (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[to]; ok {
		return c, nil
	}
	addr, err := net.ResolveTCPAddr("tcp4", t.addrOf(to))
	if err != nil {
		return nil, err
	}
	conn, err := net.DialTCP("tcp", nil, addr)
	if err != nil {
		return nil, err
	}
	t.conns[to] = conn
	return conn, nil
}

func (t *Transport) Close() {
	t.mu.Lock()
	for _, c := range t.conns {
		c.Close()
	}
	t.mu.Unlock()
	t.listener.Close()
}
