// Package store persists swap sessions and the at-most-once bookkeeping of
// escrow operations dispatched against them.
package store

import (
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

// Phase is the coordinator's protocol phase for a session.
//
// dont change sequence of phase fields, recovery depends on the ordering
type Phase uint

const (
	Unknown Phase = iota
	HashlockCommitted
	Leg1Funded
	Leg2Funded
	SecretRevealed
	Leg1Claimed
	Completed
	Aborted
)

func (phase Phase) String() string {
	switch phase {
	case HashlockCommitted:
		return "hashlockCommitted"
	case Leg1Funded:
		return "leg1Funded"
	case Leg2Funded:
		return "leg2Funded"
	case SecretRevealed:
		return "secretRevealed"
	case Leg1Claimed:
		return "leg1Claimed"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the phase is an end state.
func (phase Phase) Terminal() bool {
	return phase == Completed || phase == Aborted
}

// LegOutcome is the terminal outcome of one leg's escrow.
type LegOutcome uint

const (
	LegPending LegOutcome = iota
	LegFunded
	LegClaimed
	LegCancelled
	LegRefunded
	LegNeverFunded
)

func (outcome LegOutcome) String() string {
	switch outcome {
	case LegPending:
		return "pending"
	case LegFunded:
		return "funded"
	case LegClaimed:
		return "claimed"
	case LegCancelled:
		return "cancelled"
	case LegRefunded:
		return "refunded"
	case LegNeverFunded:
		return "neverFunded"
	default:
		return "unknown"
	}
}

// Leg is the persisted state of one swap leg.
type Leg struct {
	Funder        string
	Counterparty  string
	EscrowRef     string
	Timelocks     string // hex timelock word, empty on the single-stage leg
	Deadline      int64  // unix claim deadline, zero on the multi-stage leg
	Amount        uint64
	SafetyDeposit uint64
	FundTx        string
	ClaimTx       string
	CancelTx      string
	Outcome       LegOutcome
}

// Session is the persisted swap session record. The secret column holds the
// hex preimage only until it is revealed on-ledger; after that it is
// scrubbed and only the Revealed marker remains.
type Session struct {
	gorm.Model

	OrderID    string `gorm:"uniqueIndex"`
	Secret     string
	SecretHash string `gorm:"index"`
	Phase      Phase
	Revealed   bool
	Error      string

	Leg1 Leg `gorm:"embedded;embeddedPrefix:leg1_"`
	Leg2 Leg `gorm:"embedded;embeddedPrefix:leg2_"`
}

// Store is the session persistence interface consumed by the coordinator.
type Store interface {
	PutSession(session Session) error

	Session(orderID string) (Session, error)

	Sessions() ([]Session, error)

	// UpdateSession overwrites the stored record for the session's order id.
	UpdateSession(session Session) error

	UpdatePhase(orderID string, phase Phase) error

	PutError(orderID string, err error) error
}

type store struct {
	mu *sync.RWMutex
	db *gorm.DB
}

// NewStore opens the session store on the given dialector and migrates the
// schema.
func NewStore(dialector gorm.Dialector, opts ...gorm.Option) (Store, error) {
	db, err := gorm.Open(dialector, opts...)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Session{}); err != nil {
		return nil, err
	}

	sqlDb, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDb.SetMaxIdleConns(5)
	sqlDb.SetMaxOpenConns(5)
	sqlDb.SetConnMaxIdleTime(10 * time.Minute)
	return &store{mu: new(sync.RWMutex), db: db}, nil
}

func (s *store) PutSession(session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Create(&session).Error
}

func (s *store) Session(orderID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var session Session
	if err := s.db.Where("order_id = ?", orderID).First(&session).Error; err != nil {
		return Session{}, fmt.Errorf("session %v not found: %w", orderID, err)
	}
	return session, nil
}

func (s *store) Sessions() ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sessions []Session
	if err := s.db.Order("created_at desc").Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *store) UpdateSession(session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing Session
	if err := s.db.Where("order_id = ?", session.OrderID).First(&existing).Error; err != nil {
		return err
	}
	session.ID = existing.ID
	session.CreatedAt = existing.CreatedAt
	return s.db.Save(&session).Error
}

func (s *store) UpdatePhase(orderID string, phase Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Model(&Session{}).Where("order_id = ?", orderID).Update("phase", phase).Error
}

func (s *store) PutError(orderID string, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Model(&Session{}).Where("order_id = ?", orderID).Update("error", err.Error()).Error
}
