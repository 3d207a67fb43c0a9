// Package server carries the network front end: the TCP listener, the
// per-connection handlers, the request dispatch, and the per-collection
// gates that coordinate readers and writers.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/cubefs/docdb/catalog"
	apierrors "github.com/cubefs/docdb/errors"
	"github.com/cubefs/docdb/metrics"
	"github.com/cubefs/docdb/proto"
)

type Config struct {
	CatalogConfig catalog.Config `json:"catalog_config"`
}

type Server struct {
	cfg     *Config
	catalog *catalog.Catalog
	gates   sync.Map

	ln       net.Listener
	done     chan struct{}
	connWg   sync.WaitGroup
	stopOnce sync.Once

	clientsMu sync.Mutex
	clients   map[string]*clientInfo
}

func NewServer(ctx context.Context, cfg *Config) (*Server, error) {
	cat, err := catalog.NewCatalog(ctx, &cfg.CatalogConfig)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:     cfg,
		catalog: cat,
		done:    make(chan struct{}),
		clients: make(map[string]*clientInfo),
	}, nil
}

func (s *Server) Catalog() *catalog.Catalog { return s.catalog }

func (s *Server) gate(name string) *Gate {
	if g, ok := s.gates.Load(name); ok {
		return g.(*Gate)
	}
	g, _ := s.gates.LoadOrStore(name, NewGate())
	return g.(*Gate)
}

// process executes one request frame and always yields a response.
func (s *Server) process(ctx context.Context, req *proto.Request) *proto.Response {
	start := time.Now()
	op := req.Operation

	resp, err := s.dispatch(ctx, req)
	if err != nil {
		span := trace.SpanFromContextSafe(ctx)
		span.Warnf("%s on %s failed: %s", op, req.Database, err)
		resp = proto.ErrorResponse(err)
	}

	switch op {
	case proto.OpInsert, proto.OpFind, proto.OpDelete, proto.OpCreateIndex:
	default:
		op = "unknown"
	}
	metrics.RequestTotal.WithLabelValues(op, resp.Status).Inc()
	metrics.RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return resp
}

func (s *Server) dispatch(ctx context.Context, req *proto.Request) (*proto.Response, error) {
	if req.Database == "" {
		return nil, apierrors.ErrEmptyDatabase
	}

	switch req.Operation {
	case proto.OpInsert, proto.OpDelete, proto.OpCreateIndex:
	case proto.OpFind:
	default:
		return nil, apierrors.Newf(apierrors.KindBadRequest, "unknown operation: %s", req.Operation)
	}

	coll, err := s.catalog.GetCollection(ctx, req.Database)
	if err != nil {
		return nil, err
	}
	gate := s.gate(req.Database)

	if req.Operation == proto.OpFind {
		if err := gate.AcquireRead(ctx); err != nil {
			return nil, apierrors.WithCause(apierrors.KindEngine, err, "acquire read gate")
		}
		defer gate.ReleaseRead()
		return s.executeFind(ctx, coll, req)
	}

	if err := gate.AcquireWrite(ctx); err != nil {
		return nil, err
	}
	defer gate.ReleaseWrite()

	switch req.Operation {
	case proto.OpInsert:
		return s.executeInsert(ctx, coll, req)
	case proto.OpDelete:
		return s.executeDelete(ctx, coll, req)
	default:
		return s.executeCreateIndex(ctx, coll, req)
	}
}

func (s *Server) executeInsert(ctx context.Context, coll *catalog.Collection, req *proto.Request) (*proto.Response, error) {
	if len(req.Data) == 0 {
		return nil, apierrors.ErrMissingData
	}
	for _, doc := range req.Data {
		if !doc.IsObject() {
			return nil, apierrors.ErrInvalidDocument
		}
	}

	ids := make([]string, 0, len(req.Data))
	for _, doc := range req.Data {
		id, err := coll.Insert(ctx, doc)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	// A failed save leaves the mutation resident; the next successful
	// save persists the combined state.
	if err := coll.Save(ctx); err != nil {
		return nil, err
	}

	return proto.SuccessResponse(fmt.Sprintf("Inserted %d documents", len(ids)), ids, len(ids)), nil
}

func (s *Server) executeFind(ctx context.Context, coll *catalog.Collection, req *proto.Request) (*proto.Response, error) {
	if req.Query == nil {
		return nil, apierrors.ErrMissingQuery
	}
	docs, err := coll.Find(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []*proto.Value{}
	}
	return proto.SuccessResponse(fmt.Sprintf("Found %d documents", len(docs)), docs, len(docs)), nil
}

func (s *Server) executeDelete(ctx context.Context, coll *catalog.Collection, req *proto.Request) (*proto.Response, error) {
	if req.Query == nil {
		return nil, apierrors.ErrMissingQuery
	}
	cnt, err := coll.Delete(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	// A delete that removed nothing leaves the collection clean and
	// Save does not touch disk.
	if err := coll.Save(ctx); err != nil {
		return nil, err
	}
	return &proto.Response{
		Status:  proto.StatusSuccess,
		Message: fmt.Sprintf("Deleted %d documents", cnt),
		Count:   &cnt,
	}, nil
}

func (s *Server) executeCreateIndex(ctx context.Context, coll *catalog.Collection, req *proto.Request) (*proto.Response, error) {
	if req.Field == "" {
		return nil, apierrors.ErrMissingField
	}
	if err := coll.CreateIndex(ctx, req.Field); err != nil {
		return nil, err
	}
	if err := coll.Save(ctx); err != nil {
		return nil, err
	}
	cnt := coll.Len()
	return &proto.Response{
		Status:  proto.StatusSuccess,
		Message: fmt.Sprintf("Index created on field '%s'", req.Field),
		Count:   &cnt,
	}, nil
}
