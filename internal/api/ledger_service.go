// Package api exposes the engine as the chama.v1.LedgerService Connect service.
// Messages are protobuf well-known types: requests that carry a single ID use
// StringValue, everything else is a Struct.
package api

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/mmynk/chamaledger/internal/middleware"
	"github.com/mmynk/chamaledger/internal/models"
	"github.com/mmynk/chamaledger/internal/service"
)

// LedgerServiceName is the fully-qualified name of the service.
const LedgerServiceName = "chama.v1.LedgerService"

// Procedure paths of the LedgerService RPCs.
const (
	CreateGroupProcedure         = "/" + LedgerServiceName + "/CreateGroup"
	JoinGroupProcedure           = "/" + LedgerServiceName + "/JoinGroup"
	LeaveGroupProcedure          = "/" + LedgerServiceName + "/LeaveGroup"
	SubmitContributionProcedure  = "/" + LedgerServiceName + "/SubmitContribution"
	EnqueueVerificationProcedure = "/" + LedgerServiceName + "/EnqueueVerification"
	SchedulePayoutProcedure      = "/" + LedgerServiceName + "/SchedulePayout"
	ExecutePayoutProcedure       = "/" + LedgerServiceName + "/ExecutePayout"
	ConfirmPayoutProcedure       = "/" + LedgerServiceName + "/ConfirmPayout"
	GetRoundStatusProcedure      = "/" + LedgerServiceName + "/GetRoundStatus"
	GetGroupStatsProcedure       = "/" + LedgerServiceName + "/GetGroupStats"
)

type (
	structRequest  = connect.Request[structpb.Struct]
	structResponse = connect.Response[structpb.Struct]
	idRequest      = connect.Request[wrapperspb.StringValue]
)

// LedgerService implements the RPC surface on top of a service.Engine.
// Task RPCs only enqueue; results are polled through GetRoundStatus and GetGroupStats.
type LedgerService struct {
	engine *service.Engine
}

// NewLedgerService creates a LedgerService.
func NewLedgerService(engine *service.Engine) *LedgerService {
	return &LedgerService{engine: engine}
}

// NewLedgerServiceHandler builds an HTTP handler serving every LedgerService
// procedure. It returns the path prefix to mount the handler on.
func NewLedgerServiceHandler(svc *LedgerService, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(CreateGroupProcedure, connect.NewUnaryHandler(CreateGroupProcedure, svc.CreateGroup, opts...))
	mux.Handle(JoinGroupProcedure, connect.NewUnaryHandler(JoinGroupProcedure, svc.JoinGroup, opts...))
	mux.Handle(LeaveGroupProcedure, connect.NewUnaryHandler(LeaveGroupProcedure, svc.LeaveGroup, opts...))
	mux.Handle(SubmitContributionProcedure, connect.NewUnaryHandler(SubmitContributionProcedure, svc.SubmitContribution, opts...))
	mux.Handle(EnqueueVerificationProcedure, connect.NewUnaryHandler(EnqueueVerificationProcedure, svc.EnqueueVerification, opts...))
	mux.Handle(SchedulePayoutProcedure, connect.NewUnaryHandler(SchedulePayoutProcedure, svc.SchedulePayout, opts...))
	mux.Handle(ExecutePayoutProcedure, connect.NewUnaryHandler(ExecutePayoutProcedure, svc.ExecutePayout, opts...))
	mux.Handle(ConfirmPayoutProcedure, connect.NewUnaryHandler(ConfirmPayoutProcedure, svc.ConfirmPayout, opts...))
	mux.Handle(GetRoundStatusProcedure, connect.NewUnaryHandler(GetRoundStatusProcedure, svc.GetRoundStatus, opts...))
	mux.Handle(GetGroupStatsProcedure, connect.NewUnaryHandler(GetGroupStatsProcedure, svc.GetGroupStats, opts...))
	return "/" + LedgerServiceName + "/", mux
}

// CreateGroup creates a group. created_by defaults to the caller's token subject.
func (s *LedgerService) CreateGroup(ctx context.Context, req *structRequest) (*structResponse, error) {
	f := newFields(req.Msg)
	params := service.CreateGroupParams{
		Name:               f.str("name"),
		Description:        f.str("description"),
		ContributionAmount: f.amount("contribution_amount"),
		Frequency:          models.Frequency(f.str("frequency")),
		MinMembers:         f.integer("min_members"),
		MaxMembers:         f.integer("max_members"),
		WalletAddress:      f.str("wallet_address"),
		CreatedBy:          f.str("created_by"),
		StartDate:          f.timestamp("start_date"),
		EndDate:            f.timestamp("end_date"),
	}
	if err := f.err(); err != nil {
		return nil, toConnectError(err)
	}
	if params.CreatedBy == "" {
		params.CreatedBy = middleware.GetSubject(ctx)
	}

	group, err := s.engine.Groups.CreateGroup(ctx, params)
	if err != nil {
		return nil, toConnectError(err)
	}
	return toStruct(groupMap(group))
}

func (s *LedgerService) JoinGroup(ctx context.Context, req *structRequest) (*structResponse, error) {
	f := newFields(req.Msg)
	params := service.JoinGroupParams{
		GroupID:       f.str("group_id"),
		UserID:        f.str("user_id"),
		Email:         f.str("email"),
		WalletAddress: f.str("wallet_address"),
		Role:          models.Role(f.str("role")),
	}
	if err := f.err(); err != nil {
		return nil, toConnectError(err)
	}

	membership, err := s.engine.Groups.JoinGroup(ctx, params)
	if err != nil {
		return nil, toConnectError(err)
	}
	return toStruct(membershipMap(membership))
}

func (s *LedgerService) LeaveGroup(ctx context.Context, req *structRequest) (*connect.Response[emptypb.Empty], error) {
	f := newFields(req.Msg)
	groupID, userID := f.str("group_id"), f.str("user_id")
	if err := f.err(); err != nil {
		return nil, toConnectError(err)
	}

	if _, err := s.engine.Groups.LeaveGroup(ctx, groupID, userID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&emptypb.Empty{}), nil
}

// SubmitContribution records a contribution claim and queues its verification.
func (s *LedgerService) SubmitContribution(ctx context.Context, req *structRequest) (*structResponse, error) {
	f := newFields(req.Msg)
	params := service.SubmitContributionParams{
		GroupID: f.str("group_id"),
		UserID:  f.str("user_id"),
		Amount:  f.amount("amount"),
		TxRef:   f.str("tx_ref"),
		DueDate: f.timestamp("due_date"),
		LateFee: f.amount("late_fee"),
		Notes:   f.str("notes"),
	}
	if err := f.err(); err != nil {
		return nil, toConnectError(err)
	}

	contribution, err := s.engine.Groups.SubmitContribution(ctx, params)
	if err != nil {
		return nil, toConnectError(err)
	}
	return toStruct(contributionMap(contribution))
}

func (s *LedgerService) EnqueueVerification(ctx context.Context, req *idRequest) (*structResponse, error) {
	return s.enqueue(ctx, models.JobVerifyContribution, req.Msg.GetValue())
}

func (s *LedgerService) SchedulePayout(ctx context.Context, req *idRequest) (*structResponse, error) {
	return s.enqueue(ctx, models.JobSchedulePayout, req.Msg.GetValue())
}

func (s *LedgerService) ExecutePayout(ctx context.Context, req *idRequest) (*structResponse, error) {
	return s.enqueue(ctx, models.JobExecutePayout, req.Msg.GetValue())
}

func (s *LedgerService) ConfirmPayout(ctx context.Context, req *idRequest) (*structResponse, error) {
	return s.enqueue(ctx, models.JobConfirmPayout, req.Msg.GetValue())
}

func (s *LedgerService) enqueue(ctx context.Context, kind models.JobKind, id string) (*structResponse, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, toConnectError(&service.ValidationError{Field: "value", Message: "id must not be empty"})
	}
	job, err := s.engine.Enqueue(ctx, kind, id)
	if err != nil {
		return nil, toConnectError(err)
	}
	return toStruct(jobMap(job))
}

func (s *LedgerService) GetRoundStatus(ctx context.Context, req *idRequest) (*structResponse, error) {
	status, err := s.engine.Tracker.Status(ctx, req.Msg.GetValue())
	if err != nil {
		return nil, toConnectError(err)
	}
	return toStruct(roundStatusMap(status))
}

func (s *LedgerService) GetGroupStats(ctx context.Context, req *idRequest) (*structResponse, error) {
	stats, err := s.engine.Stats(ctx, req.Msg.GetValue())
	if err != nil {
		return nil, toConnectError(err)
	}
	return toStruct(statsMap(stats))
}
