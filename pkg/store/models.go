package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/odds"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/slip"
)

// AppState stores daemon checkpoints (last cycle seen, connected wallet).
type AppState struct {
	StateKey   string `gorm:"primaryKey;size:64"`
	StateValue string `gorm:"type:text;not null"`
	UpdatedTS  int64  `gorm:"not null;index"`
}

func (AppState) TableName() string {
	return "app_state"
}

func (a *AppState) BeforeCreate(tx *gorm.DB) error {
	if a.UpdatedTS == 0 {
		a.UpdatedTS = time.Now().Unix()
	}
	return nil
}

// SlipRecord is the last reconciled view of one slip.
type SlipRecord struct {
	CycleID      uint64 `gorm:"primaryKey;autoIncrement:false"`
	SlipID       uint64 `gorm:"primaryKey;autoIncrement:false"`
	Player       string `gorm:"size:42;not null;index"`
	Evaluated    bool   `gorm:"not null"`
	FinalScore   string `gorm:"size:32;not null"`
	CorrectCount int    `gorm:"not null"`
	Body         string `gorm:"type:mediumtext;not null"`
	UpdatedTS    int64  `gorm:"not null;index"`
}

func (SlipRecord) TableName() string {
	return "slip_records"
}

func newSlipRecord(s slip.Slip, now time.Time) (SlipRecord, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return SlipRecord{}, fmt.Errorf("encode slip %d/%d: %w", s.Cycle, s.SlipID, err)
	}
	return SlipRecord{
		CycleID:      uint64(s.Cycle),
		SlipID:       s.SlipID,
		Player:       strings.ToLower(s.Player),
		Evaluated:    s.Evaluated,
		FinalScore:   s.FinalScore.String(),
		CorrectCount: s.CorrectCount,
		Body:         string(body),
		UpdatedTS:    now.Unix(),
	}, nil
}

func (r SlipRecord) toSlip() (slip.Slip, error) {
	var s slip.Slip
	if err := json.Unmarshal([]byte(r.Body), &s); err != nil {
		return slip.Slip{}, fmt.Errorf("decode slip %d/%d: %w", r.CycleID, r.SlipID, err)
	}
	// indexed columns win over the body if they ever disagree
	s.Cycle = odds.CycleID(r.CycleID)
	s.SlipID = r.SlipID
	if score, err := decimal.NewFromString(r.FinalScore); err == nil {
		s.FinalScore = score
	}
	return s, nil
}
