package rpc

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/portalswap/portal/pkg/coordinator"
	"github.com/portalswap/portal/pkg/store"
	"github.com/portalswap/portal/pkg/timelock"
)

// RequestLegTerms mirrors coordinator.LegTerms on the wire.
type RequestLegTerms struct {
	Funder        string `json:"funder"`
	Counterparty  string `json:"counterparty"`
	Amount        uint64 `json:"amount"`
	SafetyDeposit uint64 `json:"safetyDeposit"`
}

// RequestCreateSession carries the full swap terms.
type RequestCreateSession struct {
	Leg1               RequestLegTerms `json:"leg1"`
	Leg1Withdraw       uint32          `json:"leg1Withdraw"`
	Leg1PublicWithdraw uint32          `json:"leg1PublicWithdraw"`
	Leg1Cancel         uint32          `json:"leg1Cancel"`
	Leg2               RequestLegTerms `json:"leg2"`
	Leg2Window         uint32          `json:"leg2Window"`
}

// RequestSession addresses a single session by order id.
type RequestSession struct {
	OrderID string `json:"orderId"`
}

// LegView is the user-visible state of one leg.
type LegView struct {
	Funder        string `json:"funder"`
	Counterparty  string `json:"counterparty"`
	Amount        uint64 `json:"amount"`
	SafetyDeposit uint64 `json:"safetyDeposit,omitempty"`
	EscrowRef     string `json:"escrowRef,omitempty"`
	Timelocks     string `json:"timelocks,omitempty"`
	Deadline      int64  `json:"deadline,omitempty"`
	FundTx        string `json:"fundTx,omitempty"`
	ClaimTx       string `json:"claimTx,omitempty"`
	CancelTx      string `json:"cancelTx,omitempty"`
	Outcome       string `json:"outcome"`
}

// SessionView is the user-visible state of a session. The preimage itself
// is never served, revealed or not.
type SessionView struct {
	OrderID    string  `json:"orderId"`
	SecretHash string  `json:"secretHash"`
	Phase      string  `json:"phase"`
	Revealed   bool    `json:"revealed"`
	Error      string  `json:"error,omitempty"`
	Leg1       LegView `json:"leg1"`
	Leg2       LegView `json:"leg2"`
}

func legView(leg store.Leg) LegView {
	return LegView{
		Funder:        leg.Funder,
		Counterparty:  leg.Counterparty,
		Amount:        leg.Amount,
		SafetyDeposit: leg.SafetyDeposit,
		EscrowRef:     leg.EscrowRef,
		Timelocks:     leg.Timelocks,
		Deadline:      leg.Deadline,
		FundTx:        leg.FundTx,
		ClaimTx:       leg.ClaimTx,
		CancelTx:      leg.CancelTx,
		Outcome:       leg.Outcome.String(),
	}
}

func sessionView(session store.Session) SessionView {
	return SessionView{
		OrderID:    session.OrderID,
		SecretHash: session.SecretHash,
		Phase:      session.Phase.String(),
		Revealed:   session.Revealed,
		Error:      session.Error,
		Leg1:       legView(session.Leg1),
		Leg2:       legView(session.Leg2),
	}
}

type createSession struct{}

func CreateSession() Method {
	return &createSession{}
}

func (m *createSession) Name() string {
	return "createSession"
}

func (m *createSession) Query(cfg CoreConfig, params json.RawMessage) (json.RawMessage, error) {
	var req RequestCreateSession
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, err
	}

	terms := coordinator.Terms{
		Leg1: coordinator.LegTerms{
			Funder:        req.Leg1.Funder,
			Counterparty:  req.Leg1.Counterparty,
			Amount:        req.Leg1.Amount,
			SafetyDeposit: req.Leg1.SafetyDeposit,
		},
		Leg1Offsets: timelock.Offsets{
			Withdraw:       req.Leg1Withdraw,
			PublicWithdraw: req.Leg1PublicWithdraw,
			Cancel:         req.Leg1Cancel,
		},
		Leg2: coordinator.LegTerms{
			Funder:       req.Leg2.Funder,
			Counterparty: req.Leg2.Counterparty,
			Amount:       req.Leg2.Amount,
		},
		Leg2Window: time.Duration(req.Leg2Window) * time.Second,
	}

	session, err := cfg.Coordinator.CreateSession(context.Background(), terms)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sessionView(session))
}

type executeSession struct{}

func ExecuteSession() Method {
	return &executeSession{}
}

func (m *executeSession) Name() string {
	return "executeSession"
}

// Query kicks off the session driver and returns immediately; progress is
// observed through sessionStatus.
func (m *executeSession) Query(cfg CoreConfig, params json.RawMessage) (json.RawMessage, error) {
	var req RequestSession
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, err
	}
	if _, err := cfg.Coordinator.Session(req.OrderID); err != nil {
		return nil, err
	}

	go func() {
		if err := cfg.Coordinator.Execute(context.Background(), req.OrderID); err != nil {
			cfg.Logger.Error("session execution failed",
				zap.String("order-id", req.OrderID),
				zap.Error(err))
		}
	}()
	return json.Marshal(map[string]string{"orderId": req.OrderID, "status": "executing"})
}

type abortSession struct{}

func AbortSession() Method {
	return &abortSession{}
}

func (m *abortSession) Name() string {
	return "abortSession"
}

func (m *abortSession) Query(cfg CoreConfig, params json.RawMessage) (json.RawMessage, error) {
	var req RequestSession
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, err
	}

	report, err := cfg.Coordinator.AbortSession(context.Background(), req.OrderID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]interface{}{
		"orderId":        report.OrderID,
		"leg1Outcome":    report.Leg1Outcome.String(),
		"leg2Outcome":    report.Leg2Outcome.String(),
		"secretRevealed": report.SecretRevealed,
	})
}

type sessionStatus struct{}

func SessionStatus() Method {
	return &sessionStatus{}
}

func (m *sessionStatus) Name() string {
	return "sessionStatus"
}

func (m *sessionStatus) Query(cfg CoreConfig, params json.RawMessage) (json.RawMessage, error) {
	var req RequestSession
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, err
	}

	session, err := cfg.Storage.Session(req.OrderID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sessionView(session))
}

type listSessions struct{}

func ListSessions() Method {
	return &listSessions{}
}

func (m *listSessions) Name() string {
	return "listSessions"
}

func (m *listSessions) Query(cfg CoreConfig, params json.RawMessage) (json.RawMessage, error) {
	sessions, err := cfg.Storage.Sessions()
	if err != nil {
		return nil, err
	}

	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, sessionView(session))
	}
	return json.Marshal(views)
}
