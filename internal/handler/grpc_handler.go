package handler

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-exp-approvals/internal/approval"
	"github.com/pesio-ai/be-exp-approvals/internal/client"
	"github.com/pesio-ai/be-exp-approvals/internal/pkg/errors"
	"github.com/pesio-ai/be-exp-approvals/internal/service"
)

// ApprovalServiceServer is the server side of expenseapprovals.v1.ApprovalService.
// Messages are google.protobuf.Struct values keyed like the HTTP JSON bodies.
type ApprovalServiceServer interface {
	SubmitExpense(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ProcessApproval(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DelegateApproval(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetExpense(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MatchRule(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ApprovalServiceDesc describes ApprovalService for grpc.Server.RegisterService.
var ApprovalServiceDesc = grpc.ServiceDesc{
	ServiceName: client.ApprovalServiceName,
	HandlerType: (*ApprovalServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("SubmitExpense", ApprovalServiceServer.SubmitExpense),
		unaryMethod("ProcessApproval", ApprovalServiceServer.ProcessApproval),
		unaryMethod("DelegateApproval", ApprovalServiceServer.DelegateApproval),
		unaryMethod("GetExpense", ApprovalServiceServer.GetExpense),
		unaryMethod("MatchRule", ApprovalServiceServer.MatchRule),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "expenseapprovals/v1/approvals.proto",
}

// RegisterApprovalServiceServer registers srv on s.
func RegisterApprovalServiceServer(s grpc.ServiceRegistrar, srv ApprovalServiceServer) {
	s.RegisterService(&ApprovalServiceDesc, srv)
}

type structCall func(ApprovalServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call structCall) grpc.MethodDesc {
	fullMethod := "/" + client.ApprovalServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ApprovalServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(ApprovalServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// GRPCHandler implements ApprovalServiceServer
type GRPCHandler struct {
	approvals *service.ApprovalService
	logger    zerolog.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(approvals *service.ApprovalService, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		approvals: approvals,
		logger:    logger.With().Str("handler", "grpc").Logger(),
	}
}

// actorFromContext reads the caller identity from incoming metadata.
func actorFromContext(ctx context.Context) service.Actor {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return service.Actor{}
	}
	return service.Actor{
		UserID: firstValue(md, client.MetadataUserID),
		Role:   firstValue(md, client.MetadataUserRole),
	}
}

func firstValue(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

// SubmitExpense routes a draft expense into approval
func (h *GRPCHandler) SubmitExpense(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor := actorFromContext(ctx)
	id := stringField(req, "expense_id")
	h.logger.Info().
		Str("expense_id", id).
		Str("user_id", actor.UserID).
		Msg("gRPC SubmitExpense called")

	version, err := int64Field(req, "expected_version")
	if err != nil {
		return nil, err
	}

	exp, err := h.approvals.SubmitExpense(ctx, actor, id, version)
	if err != nil {
		h.logger.Error().Err(err).Str("expense_id", id).Msg("Failed to submit expense")
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(exp)
}

// ProcessApproval applies an approve or reject decision
func (h *GRPCHandler) ProcessApproval(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor := actorFromContext(ctx)
	id := stringField(req, "expense_id")
	action := approval.Action(stringField(req, "action"))
	h.logger.Info().
		Str("expense_id", id).
		Str("action", string(action)).
		Str("user_id", actor.UserID).
		Msg("gRPC ProcessApproval called")

	version, err := int64Field(req, "expected_version")
	if err != nil {
		return nil, err
	}

	exp, err := h.approvals.ProcessApproval(ctx, actor, id, service.ProcessInput{
		Action:          action,
		Comment:         stringField(req, "comment"),
		ExpectedVersion: version,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("expense_id", id).Msg("Failed to process approval")
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(exp)
}

// DelegateApproval hands a pending chain entry to another user
func (h *GRPCHandler) DelegateApproval(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor := actorFromContext(ctx)
	id := stringField(req, "expense_id")
	h.logger.Info().
		Str("expense_id", id).
		Str("delegate_to", stringField(req, "delegate_to")).
		Str("user_id", actor.UserID).
		Msg("gRPC DelegateApproval called")

	version, err := int64Field(req, "expected_version")
	if err != nil {
		return nil, err
	}

	exp, err := h.approvals.Delegate(ctx, actor, id, service.DelegateInput{
		EntryID:         stringField(req, "entry_id"),
		DelegateTo:      stringField(req, "delegate_to"),
		Reason:          stringField(req, "reason"),
		ExpectedVersion: version,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("expense_id", id).Msg("Failed to delegate approval")
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(exp)
}

// GetExpense retrieves an expense by ID
func (h *GRPCHandler) GetExpense(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, "expense_id")
	h.logger.Info().Str("expense_id", id).Msg("gRPC GetExpense called")

	exp, err := h.approvals.GetExpense(ctx, id)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(exp)
}

// MatchRule reports which rule would route a hypothetical expense
func (h *GRPCHandler) MatchRule(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	h.logger.Info().
		Str("category", stringField(req, "category")).
		Str("department", stringField(req, "department")).
		Msg("gRPC MatchRule called")

	amount, err := decimalField(req, "amount")
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid amount: %v", err)
	}
	submittedBy := stringField(req, "submitted_by")
	if submittedBy == "" {
		submittedBy = actorFromContext(ctx).UserID
	}

	result, err := h.approvals.MatchRule(ctx, service.MatchInput{
		Amount:      amount,
		Category:    stringField(req, "category"),
		Department:  stringField(req, "department"),
		SubmittedBy: submittedBy,
	})
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(result)
}

// UnaryLoggingInterceptor logs every unary call with its duration and status code.
func UnaryLoggingInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Info().
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC request")
		return resp, err
	}
}

// ── conversion ────────────────────────────────────────────────────────────────

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

// int64Field accepts a whole number or its decimal string form. A missing
// field reads as zero.
func int64Field(s *structpb.Struct, key string) (int64, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, nil
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		if kind.NumberValue != math.Trunc(kind.NumberValue) {
			return 0, status.Errorf(codes.InvalidArgument, "%s must be a whole number", key)
		}
		return int64(kind.NumberValue), nil
	case *structpb.Value_StringValue:
		n, err := strconv.ParseInt(kind.StringValue, 10, 64)
		if err != nil {
			return 0, status.Errorf(codes.InvalidArgument, "%s must be a whole number", key)
		}
		return n, nil
	case *structpb.Value_NullValue:
		return 0, nil
	default:
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a whole number", key)
	}
}

// decimalField accepts either a string or a number. Strings are preferred
// since they carry exact amounts.
func decimalField(s *structpb.Struct, key string) (decimal.Decimal, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return decimal.Zero, nil
	}
	if _, isNum := v.GetKind().(*structpb.Value_NumberValue); isNum {
		return decimal.NewFromFloat(v.GetNumberValue()), nil
	}
	return decimal.NewFromString(v.GetStringValue())
}

// toStruct converts a JSON-tagged value into a Struct via its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}
	code := errors.GRPCCode(err)
	if code == codes.Internal {
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}
