package server

import (
	"bufio"
	"context"
	"io"
	"net"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/log"
	"github.com/google/uuid"

	apierrors "github.com/cubefs/docdb/errors"
	"github.com/cubefs/docdb/metrics"
	"github.com/cubefs/docdb/proto"
)

// receiveBufferSize bounds one request frame; a larger frame is out of
// contract: its line is drained and answered with an error, and the
// connection stays open.
const receiveBufferSize = 4096

type clientInfo struct {
	conn        net.Conn
	addr        string
	database    string
	requests    int
	connectedAt time.Time
}

// Serve binds the listener and runs the accept loop in the background.
func (s *Server) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	go s.acceptLoop()

	log.Info("docdb server is running at:", addr)
	return nil
}

// Stop quiesces: no new connections, open ones are closed, handlers
// drain, then every resident collection is flushed.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.ln != nil {
			s.ln.Close()
		}

		s.clientsMu.Lock()
		for _, c := range s.clients {
			c.conn.Close()
		}
		s.clientsMu.Unlock()

		s.connWg.Wait()

		span, ctx := trace.StartSpanFromContext(context.Background(), "shutdown")
		if err := s.catalog.Close(ctx); err != nil {
			span.Errorf("flush collections on shutdown: %s", err)
		}
		log.Info("docdb server shutdown complete")
	})
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			log.Warnf("accept failed: %s", err)
			continue
		}
		s.connWg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.connWg.Done()

	span, ctx := trace.StartSpanFromContext(context.Background(), "connection")

	// a panic tears down this connection only
	defer func() {
		if r := recover(); r != nil {
			span.Errorf("connection handler panic: %v", r)
		}
		conn.Close()
	}()

	id := uuid.NewString()
	s.addClient(id, conn)
	defer s.removeClient(id)

	metrics.ConnectedClients.Inc()
	defer metrics.ConnectedClients.Dec()

	span.Debugf("client %s connected from %s", id, conn.RemoteAddr())

	br := bufio.NewReaderSize(conn, receiveBufferSize)
	for {
		line, err := br.ReadSlice('\n')
		if err != nil {
			switch {
			case err == bufio.ErrBufferFull:
				// out-of-contract frame: drain the rest of the line,
				// report, and keep serving
				for err == bufio.ErrBufferFull {
					_, err = br.ReadSlice('\n')
				}
				if err != nil {
					return
				}
				span.Warnf("client %s sent an oversized frame", id)
				if !s.writeResponse(conn, proto.ErrorResponse(
					apierrors.New(apierrors.KindEngine, "request frame exceeds receive buffer"))) {
					return
				}
				continue
			case err == io.EOF:
				span.Debugf("client %s disconnected", id)
			default:
				select {
				case <-s.done:
				default:
					span.Warnf("read from client %s failed: %s", id, err)
				}
			}
			return
		}

		var resp *proto.Response
		req, err := proto.DecodeRequest(line)
		if err != nil {
			// parse failures report and keep the connection open;
			// malformed shapes already carry the bad-request kind
			if apierrors.KindOf(err) == apierrors.KindBadRequest {
				resp = proto.ErrorResponse(err)
			} else {
				resp = proto.ErrorResponse(apierrors.WithCause(apierrors.KindEngine, err, "Server error"))
			}
		} else {
			resp = s.process(ctx, req)
			s.touchClient(id, req.Database)
		}

		if !s.writeResponse(conn, resp) {
			return
		}
	}
}

func (s *Server) writeResponse(conn net.Conn, resp *proto.Response) bool {
	out, err := proto.EncodeResponse(resp)
	if err != nil {
		log.Errorf("encode response failed: %s", err)
		return false
	}
	if _, err := conn.Write(out); err != nil {
		return false
	}
	return true
}

func (s *Server) addClient(id string, conn net.Conn) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[id] = &clientInfo{
		conn:        conn,
		addr:        conn.RemoteAddr().String(),
		connectedAt: time.Now(),
	}
}

func (s *Server) touchClient(id, database string) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if c, ok := s.clients[id]; ok {
		c.database = database
		c.requests++
	}
}

func (s *Server) removeClient(id string) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, id)
}

// ClientCount reports the connected-client table size.
func (s *Server) ClientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}
