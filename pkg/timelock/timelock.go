// Package timelock packs a multi-stage escrow schedule into a fixed-width
// word so it can cross to resource-constrained ledger formats unchanged.
// The word layout is big-endian: a 32-bit deployment timestamp followed by
// three 32-bit relative-second offsets (withdraw, public withdraw, cancel).
package timelock

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"
)

// WordSize is the encoded schedule length in bytes.
const WordSize = 16

var (
	ErrOffsetOverflow   = errors.New("timelock offset exceeds 32 bits")
	ErrUnorderedOffsets = errors.New("timelock offsets must be strictly increasing")
	ErrMalformedWord    = fmt.Errorf("timelock word must be exactly %v bytes", WordSize)
)

// Stage is a named window of the escrow lifecycle. Stages are ordered and
// only ever advance as the reference clock moves forward.
type Stage int

const (
	// StagePending is before the private withdraw window opens.
	StagePending Stage = iota

	// StageWithdraw allows only the designated counterparty to claim.
	StageWithdraw

	// StagePublicWithdraw allows anyone to claim, paying the safety
	// deposit to the caller so stuck swaps keep moving.
	StagePublicWithdraw

	// StageCancel allows the escrow to be cancelled and refunded.
	StageCancel
)

func (stage Stage) String() string {
	switch stage {
	case StagePending:
		return "pending"
	case StageWithdraw:
		return "withdraw"
	case StagePublicWithdraw:
		return "publicWithdraw"
	case StageCancel:
		return "cancel"
	default:
		return fmt.Sprintf("unknown(%d)", int(stage))
	}
}

// Offsets are the per-stage boundaries in seconds relative to deployment.
type Offsets struct {
	Withdraw       uint32
	PublicWithdraw uint32
	Cancel         uint32
}

// Word is the packed schedule.
type Word [WordSize]byte

// Encode packs the deployment time and stage offsets into a word. Offsets
// must be strictly increasing and the deployment time must fit 32 bits.
func Encode(deployedAt time.Time, offsets Offsets) (Word, error) {
	unix := deployedAt.Unix()
	if unix < 0 || unix > math.MaxUint32 {
		return Word{}, ErrOffsetOverflow
	}
	if offsets.Withdraw >= offsets.PublicWithdraw || offsets.PublicWithdraw >= offsets.Cancel {
		return Word{}, ErrUnorderedOffsets
	}

	var word Word
	binary.BigEndian.PutUint32(word[0:4], uint32(unix))
	binary.BigEndian.PutUint32(word[4:8], offsets.Withdraw)
	binary.BigEndian.PutUint32(word[8:12], offsets.PublicWithdraw)
	binary.BigEndian.PutUint32(word[12:16], offsets.Cancel)
	return word, nil
}

// FromBytes parses a word from raw bytes.
func FromBytes(data []byte) (Word, error) {
	if len(data) != WordSize {
		return Word{}, ErrMalformedWord
	}
	var word Word
	copy(word[:], data)
	return word, nil
}

// FromHex parses a hex-encoded word.
func FromHex(str string) (Word, error) {
	data, err := hex.DecodeString(str)
	if err != nil {
		return Word{}, fmt.Errorf("failed to decode timelock word: %w", err)
	}
	return FromBytes(data)
}

func (word Word) Hex() string {
	return hex.EncodeToString(word[:])
}

// Schedule is the decoded form of a word with absolute checkpoints.
type Schedule struct {
	DeployedAt time.Time
	Offsets    Offsets
}

// Decode unpacks the word and derives the absolute checkpoints.
func (word Word) Decode() Schedule {
	return Schedule{
		DeployedAt: time.Unix(int64(binary.BigEndian.Uint32(word[0:4])), 0).UTC(),
		Offsets: Offsets{
			Withdraw:       binary.BigEndian.Uint32(word[4:8]),
			PublicWithdraw: binary.BigEndian.Uint32(word[8:12]),
			Cancel:         binary.BigEndian.Uint32(word[12:16]),
		},
	}
}

// ActiveStage evaluates which stage is current at the given reference time.
// The clock value is always supplied by the caller so the evaluation is
// deterministic and testable.
func (word Word) ActiveStage(now time.Time) Stage {
	return word.Decode().ActiveStage(now)
}

// WithdrawAt is when the private withdraw window opens.
func (schedule Schedule) WithdrawAt() time.Time {
	return schedule.DeployedAt.Add(time.Duration(schedule.Offsets.Withdraw) * time.Second)
}

// PublicWithdrawAt is when the public withdraw window opens.
func (schedule Schedule) PublicWithdrawAt() time.Time {
	return schedule.DeployedAt.Add(time.Duration(schedule.Offsets.PublicWithdraw) * time.Second)
}

// CancelAt is when the escrow becomes cancellable.
func (schedule Schedule) CancelAt() time.Time {
	return schedule.DeployedAt.Add(time.Duration(schedule.Offsets.Cancel) * time.Second)
}

// ActiveStage evaluates which stage is current at the given reference time.
func (schedule Schedule) ActiveStage(now time.Time) Stage {
	switch {
	case !now.Before(schedule.CancelAt()):
		return StageCancel
	case !now.Before(schedule.PublicWithdrawAt()):
		return StagePublicWithdraw
	case !now.Before(schedule.WithdrawAt()):
		return StageWithdraw
	default:
		return StagePending
	}
}

// Encode packs the schedule back into its word form.
func (schedule Schedule) Encode() (Word, error) {
	return Encode(schedule.DeployedAt, schedule.Offsets)
}
