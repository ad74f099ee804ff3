package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if b.err != nil {
		return tgbotapi.Message{}, b.err
	}
	b.sent = append(b.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestNoticeText(t *testing.T) {
	rank := 3
	tests := []struct {
		name string
		n    Notice
		want []string
	}{
		{
			name: "evaluated",
			n:    Notice{Kind: KindEvaluated, Cycle: 4, SlipID: 9, Correct: 7, Score: decimal.RequireFromString("41.2"), Rank: &rank},
			want: []string{"Slip #9 evaluated", "cycle 4", "Correct: 7/10", "Score: 41.200", "Rank: #3"},
		},
		{
			name: "claimed with hash",
			n:    Notice{Kind: KindClaimed, Cycle: 4, SlipID: 9, TxHash: "0x1234567890abcdef1234"},
			want: []string{"Prize claimed", "0x123456...ef1234"},
		},
		{
			name: "failed",
			n:    Notice{Kind: KindFailed, Cycle: 2, Detail: "Insufficient funds"},
			want: []string{"Transaction failed", "Insufficient funds"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := tt.n.Text()
			for _, w := range tt.want {
				if !strings.Contains(text, w) {
					t.Errorf("Text() = %q, missing %q", text, w)
				}
			}
		})
	}
}

func TestTelegramSender(t *testing.T) {
	bot := &fakeBot{}
	s := newTelegramSender(bot, 42)

	if err := s.Send(context.Background(), Notice{Kind: KindClaimable, Cycle: 1, SlipID: 2}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(bot.sent) != 1 || bot.sent[0].ChatID != 42 || bot.sent[0].ParseMode != tgbotapi.ModeMarkdown {
		t.Errorf("sent = %+v", bot.sent)
	}
}

func TestMultiSenderCollectsErrors(t *testing.T) {
	failing := newTelegramSender(&fakeBot{err: errors.New("429")}, 1)
	m := NewMultiSender(NewLogSender(zap.NewNop()), failing)

	err := m.Send(context.Background(), Notice{Kind: KindEvaluated})
	if err == nil || !strings.Contains(err.Error(), "sender 1") {
		t.Errorf("Send() error = %v", err)
	}
}
