package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/registry-middleware/pkg/app/errors"
	"github.com/chainsafe/registry-middleware/pkg/auth"
)

// Method names served under the registry namespace
const (
	MethodAddParty              = "registry_addParty"
	MethodAddProduct            = "registry_addProduct"
	MethodAddData               = "registry_addData"
	MethodAddPartyAssociation   = "registry_addPartyAssociationToProduct"
	MethodGetData               = "registry_getData"
	MethodGetPublishedEventList = "registry_getProductPublishedEventList"
	MethodInitialize            = "registry_initialize"
	MethodDeployContract        = "registry_deployContract"
	MethodStatus                = "registry_status"
	MethodListJournal           = "registry_listJournal"
)

// MethodHandler handles JSON-RPC method dispatch
type MethodHandler struct {
	server *Server
}

// NewMethodHandler creates a new method handler
func NewMethodHandler(server *Server) *MethodHandler {
	return &MethodHandler{server: server}
}

// Methods that submit transactions or change the middleware state
var authenticatedMethods = map[string]bool{
	MethodAddParty:            true,
	MethodAddProduct:          true,
	MethodAddData:             true,
	MethodAddPartyAssociation: true,
	MethodInitialize:          true,
	MethodDeployContract:      true,
}

// RequiresAuth returns true if the method requires authentication
func (h *MethodHandler) RequiresAuth(method string) bool {
	return authenticatedMethods[method]
}

// Handle dispatches the method call
func (h *MethodHandler) Handle(ctx context.Context, method string, params json.RawMessage) (interface{}, *Error) {
	switch method {
	case MethodAddParty:
		return h.handleAddParty(ctx, params)
	case MethodAddProduct:
		return h.handleAddProduct(ctx, params)
	case MethodAddData:
		return h.handleAddData(ctx, params)
	case MethodAddPartyAssociation:
		return h.handleAddPartyAssociation(ctx, params)
	case MethodGetData:
		return h.handleGetData(ctx, params)
	case MethodGetPublishedEventList:
		return h.handleGetPublishedEventList(ctx, params)
	case MethodInitialize:
		return h.handleInitialize(ctx)
	case MethodDeployContract:
		return h.handleDeployContract(ctx)
	case MethodStatus:
		return h.server.engine.Status(), nil
	case MethodListJournal:
		return h.handleListJournal(ctx, params)
	default:
		return nil, NewError(MethodNotFound, method)
	}
}

// =============================================================================
// Transactions
// =============================================================================

func (h *MethodHandler) handleAddParty(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	var p AddPartyParams
	if err := decodeParams(MethodAddParty, params, &p); err != nil {
		return nil, NewError(InvalidParams, err.Error())
	}
	if strings.TrimSpace(p.ID) == "" {
		return nil, NewError(InvalidParams, "id is required")
	}

	tx, err := h.server.dispatcher.AddParty(ctx, p.ID, p.ContactInfo)
	return txResult(tx, err)
}

func (h *MethodHandler) handleAddProduct(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	p, rpcErr := labelParams(MethodAddProduct, params)
	if rpcErr != nil {
		return nil, rpcErr
	}

	tx, err := h.server.dispatcher.AddProduct(ctx, p.Label)
	return txResult(tx, err)
}

func (h *MethodHandler) handleAddData(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	var p AddDataParams
	if err := decodeParams(MethodAddData, params, &p); err != nil {
		return nil, NewError(InvalidParams, err.Error())
	}
	if strings.TrimSpace(p.Label) == "" {
		return nil, NewError(InvalidParams, "label is required")
	}
	if p.Timestamp.Int == nil {
		return nil, NewError(InvalidParams, "timestamp is required")
	}

	tx, err := h.server.dispatcher.AddData(ctx, p.Label, p.Data, p.Timestamp.Int)
	return txResult(tx, err)
}

func (h *MethodHandler) handleAddPartyAssociation(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	var p AssociationParams
	if err := decodeParams(MethodAddPartyAssociation, params, &p); err != nil {
		return nil, NewError(InvalidParams, err.Error())
	}
	if strings.TrimSpace(p.PartyID) == "" || strings.TrimSpace(p.ProductID) == "" {
		return nil, NewError(InvalidParams, "partyId and productId are required")
	}

	tx, err := h.server.dispatcher.AddPartyAssociationToProduct(ctx, p.PartyID, p.ProductID)
	return txResult(tx, err)
}

// =============================================================================
// Queries
// =============================================================================

func (h *MethodHandler) handleGetData(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	p, rpcErr := labelParams(MethodGetData, params)
	if rpcErr != nil {
		return nil, rpcErr
	}

	data, err := h.server.dispatcher.GetData(ctx, p.Label)
	if err != nil {
		return nil, toRPCError(err)
	}
	return data, nil
}

func (h *MethodHandler) handleGetPublishedEventList(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	p, rpcErr := labelParams(MethodGetPublishedEventList, params)
	if rpcErr != nil {
		return nil, rpcErr
	}

	events, err := h.server.dispatcher.GetProductPublishedEventList(ctx, p.Label)
	if err != nil {
		return nil, toRPCError(err)
	}
	return events, nil
}

func (h *MethodHandler) handleListJournal(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	if h.server.journal == nil {
		return nil, NewError(NotSupported, "event journal is disabled")
	}

	var p ListJournalParams
	if err := decodeParams(MethodListJournal, params, &p); err != nil {
		return nil, NewError(InvalidParams, err.Error())
	}
	if p.Address != "" && !common.IsHexAddress(p.Address) {
		return nil, NewError(InvalidParams, "invalid address")
	}

	entries, err := h.server.journal.List(ctx, p.Address, p.Limit)
	if err != nil {
		h.server.logger.Error("Failed to list journal", zap.Error(err))
		return nil, NewError(InternalError, "failed to list journal")
	}
	return entries, nil
}

// =============================================================================
// Lifecycle
// =============================================================================

func (h *MethodHandler) handleInitialize(ctx context.Context) (interface{}, *Error) {
	subject, _ := auth.SubjectFromContext(ctx)
	h.server.logger.Info("Registry initialization requested", zap.String("subject", subject))
	if err := h.server.engine.Initialize(ctx); err != nil {
		h.server.logger.Error("Registry initialization failed", zap.Error(err))
		return nil, toRPCError(err)
	}
	return true, nil
}

func (h *MethodHandler) handleDeployContract(ctx context.Context) (interface{}, *Error) {
	if h.server.deployer == nil {
		return nil, NewError(NotSupported, "deployment is disabled")
	}

	subject, _ := auth.SubjectFromContext(ctx)
	estimate, results, err := h.server.deployer.Deploy(ctx)
	if err != nil {
		return nil, toRPCError(err)
	}
	h.server.logger.Info("Registry deployment requested",
		zap.String("subject", subject),
		zap.Uint64("gas_estimate", estimate))

	h.server.wg.Add(1)
	go func() {
		defer h.server.wg.Done()
		for res := range results {
			if res.Err != nil {
				h.server.logger.Error("Registry deployment failed",
					zap.String("tx_hash", res.TxHash.Hex()),
					zap.Error(res.Err))
				continue
			}
			h.server.logger.Info("Registry deployed",
				zap.String("address", res.Address.Hex()),
				zap.String("tx_hash", res.TxHash.Hex()))
		}
	}()

	return &DeployResult{GasEstimate: estimate}, nil
}

// =============================================================================
// Helpers
// =============================================================================

func labelParams(method string, params json.RawMessage) (*LabelParams, *Error) {
	var p LabelParams
	if err := decodeParams(method, params, &p); err != nil {
		return nil, NewError(InvalidParams, err.Error())
	}
	if strings.TrimSpace(p.Label) == "" {
		return nil, NewError(InvalidParams, "label is required")
	}
	return &p, nil
}

func txResult(tx common.Hash, err error) (interface{}, *Error) {
	if err != nil {
		return nil, toRPCError(err)
	}
	return tx.Hex(), nil
}

// toRPCError maps service error categories onto JSON-RPC error codes.
// Internal failures keep their details out of the response.
func toRPCError(err error) *Error {
	var svcErr *apperrors.ServiceError
	if !errors.As(err, &svcErr) {
		return NewError(InternalError, nil)
	}

	switch svcErr.Category {
	case apperrors.CategoryDataError:
		return NewErrorWithMessage(InvalidParams, svcErr.Message, nil)
	case apperrors.CategoryUnauthorized, apperrors.CategoryForbidden:
		return NewErrorWithMessage(Unauthorized, svcErr.Message, nil)
	case apperrors.CategoryResourceNotFound:
		return NewErrorWithMessage(NotFound, svcErr.Message, nil)
	case apperrors.CategoryDataConflict:
		return NewErrorWithMessage(Conflict, svcErr.Message, nil)
	case apperrors.CategoryLocked:
		return NewErrorWithMessage(RegistryNotDeployed, svcErr.Message, nil)
	case apperrors.CategoryDependencyFailure:
		return NewErrorWithMessage(LedgerFailure, svcErr.Message, svcErr.Error())
	case apperrors.CategoryNotSupported:
		return NewErrorWithMessage(NotSupported, svcErr.Message, nil)
	default:
		return NewError(InternalError, nil)
	}
}
