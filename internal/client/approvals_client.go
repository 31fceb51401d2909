package client

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// ApprovalServiceName is the fully-qualified gRPC service name.
const ApprovalServiceName = "expenseapprovals.v1.ApprovalService"

// Full gRPC method names of ApprovalService.
const (
	MethodSubmitExpense    = "/" + ApprovalServiceName + "/SubmitExpense"
	MethodProcessApproval  = "/" + ApprovalServiceName + "/ProcessApproval"
	MethodDelegateApproval = "/" + ApprovalServiceName + "/DelegateApproval"
	MethodGetExpense       = "/" + ApprovalServiceName + "/GetExpense"
	MethodMatchRule        = "/" + ApprovalServiceName + "/MatchRule"
)

// Identity metadata keys read by the server.
const (
	MetadataUserID   = "x-user-id"
	MetadataUserRole = "x-user-role"
)

// ApprovalsGRPCClient calls the expense ApprovalService. Requests and
// responses are google.protobuf.Struct values.
type ApprovalsGRPCClient struct {
	conn *grpc.ClientConn
}

// NewApprovalsGRPCClient dials the approvals gRPC service and returns a client.
func NewApprovalsGRPCClient(addr string, opts ...grpc.DialOption) (*ApprovalsGRPCClient, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(forwardMetadata),
	}
	conn, err := grpc.NewClient(addr, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &ApprovalsGRPCClient{conn: conn}, nil
}

// Close releases the underlying gRPC connection.
func (c *ApprovalsGRPCClient) Close() error {
	return c.conn.Close()
}

// WithIdentity attaches the acting user to outgoing calls.
func WithIdentity(ctx context.Context, userID, role string) context.Context {
	pairs := []string{MetadataUserID, userID}
	if role != "" {
		pairs = append(pairs, MetadataUserRole, role)
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}

// SubmitExpense routes a draft expense into approval.
func (c *ApprovalsGRPCClient) SubmitExpense(ctx context.Context, expenseID string, expectedVersion int64) (map[string]any, error) {
	return c.call(ctx, MethodSubmitExpense, map[string]any{
		"expense_id":       expenseID,
		"expected_version": expectedVersion,
	})
}

// ProcessApproval approves or rejects the caller's pending step.
func (c *ApprovalsGRPCClient) ProcessApproval(ctx context.Context, expenseID, action, comment string, expectedVersion int64) (map[string]any, error) {
	return c.call(ctx, MethodProcessApproval, map[string]any{
		"expense_id":       expenseID,
		"action":           action,
		"comment":          comment,
		"expected_version": expectedVersion,
	})
}

// DelegateApproval hands a chain entry to another user.
func (c *ApprovalsGRPCClient) DelegateApproval(ctx context.Context, expenseID, entryID, delegateTo, reason string, expectedVersion int64) (map[string]any, error) {
	return c.call(ctx, MethodDelegateApproval, map[string]any{
		"expense_id":       expenseID,
		"entry_id":         entryID,
		"delegate_to":      delegateTo,
		"reason":           reason,
		"expected_version": expectedVersion,
	})
}

// GetExpense fetches an expense with its chain and history.
func (c *ApprovalsGRPCClient) GetExpense(ctx context.Context, expenseID string) (map[string]any, error) {
	return c.call(ctx, MethodGetExpense, map[string]any{"expense_id": expenseID})
}

// MatchRule reports which rule would route the described expense.
func (c *ApprovalsGRPCClient) MatchRule(ctx context.Context, amount, category, department, submittedBy string) (map[string]any, error) {
	return c.call(ctx, MethodMatchRule, map[string]any{
		"amount":       amount,
		"category":     category,
		"department":   department,
		"submitted_by": submittedBy,
	})
}

func (c *ApprovalsGRPCClient) call(ctx context.Context, method string, fields map[string]any) (map[string]any, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		return nil, err
	}
	return resp.AsMap(), nil
}
