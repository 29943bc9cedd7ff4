package api

import (
	"time"

	"connectrpc.com/connect"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mmynk/chamaledger/internal/models"
	"github.com/mmynk/chamaledger/internal/service"
)

// fields reads typed values out of a request struct. The first problem is
// kept and reported by err.
type fields struct {
	s       *structpb.Struct
	problem error
}

func newFields(s *structpb.Struct) *fields {
	if s == nil {
		s = &structpb.Struct{}
	}
	return &fields{s: s}
}

func (f *fields) fail(field, msg string) {
	if f.problem == nil {
		f.problem = &service.ValidationError{Field: field, Message: msg}
	}
}

func (f *fields) value(key string) (*structpb.Value, bool) {
	v, ok := f.s.GetFields()[key]
	if !ok {
		return nil, false
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return nil, false
	}
	return v, true
}

func (f *fields) str(key string) string {
	v, ok := f.value(key)
	if !ok {
		return ""
	}
	s, isString := v.GetKind().(*structpb.Value_StringValue)
	if !isString {
		f.fail(key, "must be a string")
		return ""
	}
	return s.StringValue
}

func (f *fields) integer(key string) int {
	v, ok := f.value(key)
	if !ok {
		return 0
	}
	n, isNumber := v.GetKind().(*structpb.Value_NumberValue)
	if !isNumber || n.NumberValue != float64(int(n.NumberValue)) {
		f.fail(key, "must be an integer")
		return 0
	}
	return int(n.NumberValue)
}

// amount accepts money as a string ("100.00") or a number.
func (f *fields) amount(key string) decimal.Decimal {
	v, ok := f.value(key)
	if !ok {
		return decimal.Zero
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		d, err := decimal.NewFromString(k.StringValue)
		if err != nil {
			f.fail(key, "must be a decimal amount")
			return decimal.Zero
		}
		return d
	case *structpb.Value_NumberValue:
		return decimal.NewFromFloat(k.NumberValue)
	}
	f.fail(key, "must be a decimal amount")
	return decimal.Zero
}

func (f *fields) timestamp(key string) time.Time {
	s := f.str(key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		f.fail(key, "must be an RFC 3339 timestamp")
		return time.Time{}
	}
	return t
}

func (f *fields) err() error {
	return f.problem
}

func timeValue(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func timePtrValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeValue(*t)
}

// toStruct converts a response map. Failures are internal errors.
func toStruct(m map[string]any) (*connect.Response[structpb.Struct], error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(s), nil
}

func groupMap(g *models.Group) map[string]any {
	return map[string]any{
		"id":                  g.ID,
		"name":                g.Name,
		"description":         g.Description,
		"contribution_amount": g.ContributionAmount.StringFixed(2),
		"frequency":           string(g.Frequency),
		"min_members":         g.MinMembers,
		"max_members":         g.MaxMembers,
		"status":              string(g.Status),
		"wallet_address":      g.WalletAddress,
		"created_by":          g.CreatedBy,
		"created_at":          timeValue(g.CreatedAt),
		"start_date":          timeValue(g.StartDate),
		"end_date":            timeValue(g.EndDate),
	}
}

func membershipMap(m *models.Membership) map[string]any {
	return map[string]any{
		"id":                  m.ID,
		"group_id":            m.GroupID,
		"user_id":             m.UserID,
		"role":                string(m.Role),
		"status":              string(m.Status),
		"position":            m.Position,
		"has_received_payout": m.HasReceivedPayout,
		"total_contributed":   m.TotalContributed.StringFixed(2),
		"joined_at":           timeValue(m.JoinedAt),
		"left_at":             timePtrValue(m.LeftAt),
	}
}

func contributionMap(c *models.Contribution) map[string]any {
	return map[string]any{
		"id":              c.ID,
		"group_id":        c.GroupID,
		"membership_id":   c.MembershipID,
		"amount":          c.Amount.StringFixed(2),
		"expected_amount": c.ExpectedAmount.StringFixed(2),
		"tx_ref":          c.TxRef,
		"status":          string(c.Status),
		"created_at":      timeValue(c.CreatedAt),
		"confirmed_at":    timePtrValue(c.ConfirmedAt),
		"late_fee":        c.LateFee.StringFixed(2),
	}
}

func payoutMap(p *models.Payout) map[string]any {
	return map[string]any{
		"id":             p.ID,
		"group_id":       p.GroupID,
		"recipient_id":   p.RecipientID,
		"round_number":   p.RoundNumber,
		"amount":         p.Amount.StringFixed(2),
		"tx_ref":         p.TxRef,
		"status":         string(p.Status),
		"scheduled_for":  timeValue(p.ScheduledFor),
		"processed_at":   timePtrValue(p.ProcessedAt),
		"failure_reason": p.FailureReason,
	}
}

func jobMap(j *models.Job) map[string]any {
	return map[string]any{
		"id":         j.ID,
		"kind":       string(j.Kind),
		"payload":    j.Payload,
		"status":     string(j.Status),
		"not_before": timeValue(j.NotBefore),
		"attempt":    j.Attempt,
	}
}

func roundStatusMap(s *service.RoundStatus) map[string]any {
	m := map[string]any{
		"group_id":       s.GroupID,
		"window_start":   timeValue(s.WindowStart),
		"round":          s.Round,
		"active_members": s.ActiveMembers,
		"contributors":   s.Contributors,
		"pool":           s.Pool.StringFixed(2),
		"complete":       s.Complete,
		"open_payout":    nil,
	}
	if s.OpenPayout != nil {
		m["open_payout"] = payoutMap(s.OpenPayout)
	}
	return m
}

func statsMap(s *service.GroupStats) map[string]any {
	return map[string]any{
		"group_id":                s.GroupID,
		"status":                  string(s.Status),
		"total_contributions":     s.TotalContributions.StringFixed(2),
		"confirmed_contributions": s.ConfirmedContributions,
		"total_members":           s.TotalMembers,
		"active_members":          s.ActiveMembers,
		"completed_rounds":        s.CompletedRounds,
		"total_paid_out":          s.TotalPaidOut.StringFixed(2),
		"next_payout_date":        timePtrValue(s.NextPayoutDate),
		"next_recipient_id":       s.NextRecipientID,
	}
}

