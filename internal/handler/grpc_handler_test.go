package handler

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-exp-approvals/internal/approval"
	"github.com/pesio-ai/be-exp-approvals/internal/client"
	"github.com/pesio-ai/be-exp-approvals/internal/pkg/logger"
	"github.com/pesio-ai/be-exp-approvals/internal/repository"
	"github.com/pesio-ai/be-exp-approvals/internal/service"
)

type grpcEnv struct {
	client    *client.ApprovalsGRPCClient
	conn      *grpc.ClientConn
	approvals *service.ApprovalService
	rules     *service.RuleService
}

func newGRPCEnv(t *testing.T) *grpcEnv {
	t.Helper()
	ruleRepo := repository.NewMemoryRuleRepository()
	expenses := repository.NewMemoryExpenseRepository()
	approvals := service.NewApprovalService(approval.NewEngine(), ruleRepo, expenses,
		repository.NewMemoryAuditRepository(), nil, logger.Nop())
	rules := service.NewRuleService(ruleRepo, expenses, logger.Nop())

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryLoggingInterceptor(zerolog.Nop())))
	RegisterApprovalServiceServer(srv, NewGRPCHandler(approvals, zerolog.Nop()))
	healthpb.RegisterHealthServer(srv, health.NewServer())
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	c, err := client.NewApprovalsGRPCClient("passthrough:///bufnet", dialer)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	conn, err := grpc.NewClient("passthrough:///bufnet", dialer,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &grpcEnv{client: c, conn: conn, approvals: approvals, rules: rules}
}

func (e *grpcEnv) seedPending(t *testing.T) approval.Expense {
	t.Helper()
	ctx := context.Background()
	admin := service.Actor{UserID: "root", Role: service.RoleAdmin}
	employee := service.Actor{UserID: "emp"}

	rule := approval.Rule{
		Name:         "Two step",
		RuleType:     approval.RuleTypeCustom,
		ApprovalType: approval.ApprovalSequential,
		IsActive:     true,
		Priority:     1,
		Settings:     approval.Settings{AllowDelegation: true},
		Approvers: []approval.RuleApprover{
			{UserID: "mgr", Order: 1, IsRequired: true},
			{UserID: "dir", Order: 2, IsRequired: true},
		},
	}
	_, err := e.rules.Create(ctx, admin, rule)
	require.NoError(t, err)

	exp, err := e.approvals.CreateExpense(ctx, employee, service.CreateExpenseInput{
		Amount: decimal.NewFromInt(300), Category: "Travel", Department: "Sales",
	})
	require.NoError(t, err)
	return exp
}

func TestGRPC_SubmitAndApprove(t *testing.T) {
	env := newGRPCEnv(t)
	exp := env.seedPending(t)

	ctx := client.WithIdentity(context.Background(), "emp", "")
	out, err := env.client.SubmitExpense(ctx, exp.ID, exp.Version)
	require.NoError(t, err)
	assert.Equal(t, "pending", out["status"])
	assert.Equal(t, "mgr", out["current_approver_id"])
	version := int64(out["version"].(float64))

	ctx = client.WithIdentity(context.Background(), "mgr", "")
	out, err = env.client.ProcessApproval(ctx, exp.ID, "approve", "fine", version)
	require.NoError(t, err)
	assert.Equal(t, "dir", out["current_approver_id"])
	version = int64(out["version"].(float64))

	ctx = client.WithIdentity(context.Background(), "dir", "")
	out, err = env.client.ProcessApproval(ctx, exp.ID, "approve", "", version)
	require.NoError(t, err)
	assert.Equal(t, "approved", out["status"])

	got, err := env.client.GetExpense(context.Background(), exp.ID)
	require.NoError(t, err)
	assert.Equal(t, "approved", got["status"])
	assert.Equal(t, "300", got["amount"])
}

func TestGRPC_Delegate(t *testing.T) {
	env := newGRPCEnv(t)
	exp := env.seedPending(t)

	out, err := env.client.SubmitExpense(client.WithIdentity(context.Background(), "emp", ""), exp.ID, exp.Version)
	require.NoError(t, err)
	version := int64(out["version"].(float64))

	out, err = env.client.DelegateApproval(client.WithIdentity(context.Background(), "mgr", ""),
		exp.ID, "", "deputy", "travelling", version)
	require.NoError(t, err)
	chain := out["approval_chain"].([]any)
	first := chain[0].(map[string]any)
	delegation := first["delegated_to"].(map[string]any)
	assert.Equal(t, "deputy", delegation["to"])
}

func TestGRPC_ErrorCodes(t *testing.T) {
	env := newGRPCEnv(t)
	exp := env.seedPending(t)

	_, err := env.client.GetExpense(context.Background(), "missing")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = env.client.SubmitExpense(context.Background(), exp.ID, exp.Version)
	assert.Equal(t, codes.Unauthenticated, status.Code(err), "no identity metadata")

	_, err = env.client.SubmitExpense(client.WithIdentity(context.Background(), "mgr", ""), exp.ID, exp.Version)
	assert.Equal(t, codes.PermissionDenied, status.Code(err), "only the owner submits")

	_, err = env.client.SubmitExpense(client.WithIdentity(context.Background(), "emp", ""), exp.ID, exp.Version+5)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err), "stale version")

	_, err = env.client.MatchRule(context.Background(), "not-a-number", "", "", "emp")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPC_MalformedExpectedVersion(t *testing.T) {
	env := newGRPCEnv(t)
	exp := env.seedPending(t)
	ctx := metadata.AppendToOutgoingContext(context.Background(), client.MetadataUserID, "emp")

	for _, bad := range []*structpb.Value{
		structpb.NewStringValue("v2"),
		structpb.NewNumberValue(1.5),
		structpb.NewBoolValue(true),
	} {
		req := &structpb.Struct{Fields: map[string]*structpb.Value{
			"expense_id":       structpb.NewStringValue(exp.ID),
			"expected_version": bad,
		}}
		err := env.conn.Invoke(ctx, client.MethodSubmitExpense, req, &structpb.Struct{})
		assert.Equal(t, codes.InvalidArgument, status.Code(err), bad.String())
	}

	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"expense_id":       structpb.NewStringValue(exp.ID),
		"expected_version": structpb.NewStringValue(strconv.FormatInt(exp.Version, 10)),
	}}
	out := &structpb.Struct{}
	require.NoError(t, env.conn.Invoke(ctx, client.MethodSubmitExpense, req, out))
	assert.Equal(t, "pending", out.GetFields()["status"].GetStringValue())
}

func TestGRPC_MatchRule(t *testing.T) {
	env := newGRPCEnv(t)
	env.seedPending(t)

	out, err := env.client.MatchRule(context.Background(), "42.50", "Travel", "Sales", "emp")
	require.NoError(t, err)
	rule := out["rule"].(map[string]any)
	assert.Equal(t, "Two step", rule["name"])
	assert.Len(t, out["chain"].([]any), 2)
}

func TestGRPC_Health(t *testing.T) {
	env := newGRPCEnv(t)
	resp, err := healthpb.NewHealthClient(env.conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}
