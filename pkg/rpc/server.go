package rpc

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/chainsafe/registry-middleware/internal/metrics"
	"github.com/chainsafe/registry-middleware/pkg/auth"
	"github.com/chainsafe/registry-middleware/pkg/dispatcher"
	"github.com/chainsafe/registry-middleware/pkg/journal"
	"github.com/chainsafe/registry-middleware/pkg/reconciler"
)

const maxBodySize = 1 << 20

// Dispatcher submits registry transactions and reads product state
type Dispatcher interface {
	AddParty(ctx context.Context, id, contactInfo string) (common.Hash, error)
	AddProduct(ctx context.Context, label string) (common.Hash, error)
	AddData(ctx context.Context, label, data string, timestamp *big.Int) (common.Hash, error)
	AddPartyAssociationToProduct(ctx context.Context, partyID, productID string) (common.Hash, error)
	GetData(ctx context.Context, label string) (string, error)
	GetProductPublishedEventList(ctx context.Context, label string) ([]string, error)
}

// Engine exposes the reconciler lifecycle
type Engine interface {
	Initialize(ctx context.Context) error
	Status() reconciler.Status
}

// Deployer creates the registry contract
type Deployer interface {
	Deploy(ctx context.Context) (uint64, <-chan dispatcher.DeployResult, error)
}

// Journal lists recorded contract events
type Journal interface {
	List(ctx context.Context, address string, limit int) ([]*journal.Entry, error)
}

// Option configures optional server dependencies
type Option func(*Server)

// WithDeployer enables registry_deployContract
func WithDeployer(d Deployer) Option {
	return func(s *Server) { s.deployer = d }
}

// WithJournal enables registry_listJournal
func WithJournal(j Journal) Option {
	return func(s *Server) { s.journal = j }
}

// WithJWTValidator requires a bearer token on mutating methods
func WithJWTValidator(v *auth.JWTValidator) Option {
	return func(s *Server) { s.jwtValidator = v }
}

// Server handles JSON-RPC requests for the registry API
type Server struct {
	dispatcher   Dispatcher
	engine       Engine
	deployer     Deployer
	journal      Journal
	jwtValidator *auth.JWTValidator
	logger       *zap.Logger
	handler      *MethodHandler
	wg           sync.WaitGroup
}

// NewServer creates a new RPC server
func NewServer(d Dispatcher, engine Engine, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		dispatcher: d,
		engine:     engine,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.handler = NewMethodHandler(s)
	return s
}

// ServeHTTP handles HTTP requests
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		s.writeError(w, nil, NewError(ParseError, "failed to read request"))
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, nil, NewError(ParseError, err.Error()))
		return
	}

	if err := req.Validate(); err != nil {
		s.writeError(w, req.ID, NewError(InvalidRequest, err.Error()))
		return
	}

	ctx := r.Context()
	if s.handler.RequiresAuth(req.Method) && s.jwtValidator != nil && s.jwtValidator.IsConfigured() {
		sub, err := s.jwtValidator.Authenticate(r)
		if err != nil {
			s.logger.Warn("Authentication failed",
				zap.String("method", req.Method),
				zap.Error(err))
			metrics.RPCRequests.WithLabelValues(req.Method, "unauthorized").Inc()
			s.writeError(w, req.ID, NewError(Unauthorized, err.Error()))
			return
		}
		ctx = auth.WithSubject(ctx, sub)
	}

	result, rpcErr := s.handler.Handle(ctx, req.Method, req.Params)
	if rpcErr != nil {
		metrics.RPCRequests.WithLabelValues(req.Method, statusLabel(rpcErr.Code)).Inc()
		s.writeError(w, req.ID, rpcErr)
		return
	}

	metrics.RPCRequests.WithLabelValues(req.Method, "ok").Inc()
	s.writeResponse(w, SuccessResponse(req.ID, result))
}

// Wait blocks until background deployment watchers have finished
func (s *Server) Wait() {
	s.wg.Wait()
}

// writeResponse writes a JSON-RPC response
func (s *Server) writeResponse(w http.ResponseWriter, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("Failed to write response", zap.Error(err))
	}
}

// writeError writes a JSON-RPC error response
func (s *Server) writeError(w http.ResponseWriter, id interface{}, err *Error) {
	s.writeResponse(w, ErrorResponse(id, err))
}

func statusLabel(code int) string {
	switch code {
	case MethodNotFound:
		return "method_not_found"
	case InvalidParams:
		return "invalid_params"
	case NotFound:
		return "not_found"
	case RegistryNotDeployed:
		return "not_deployed"
	case LedgerFailure:
		return "ledger_failure"
	default:
		return "error"
	}
}
