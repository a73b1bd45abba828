package paperledger

import (
	"context"
	"testing"
)

func TestDepositWithdrawRoundTrip(t *testing.T) {
	l := New("NATIVE", 0)
	l.Deposit("NATIVE", 100)

	if err := l.Withdraw("NATIVE", 40); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := l.GetAll()["NATIVE"]; got != 60 {
		t.Errorf("expected balance 60, got %v", got)
	}
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	l := New("NATIVE", 10)
	if err := l.Withdraw("NATIVE", 20); err == nil {
		t.Fatalf("expected InsufficientBalance error")
	}
	if got := l.GetAll()["NATIVE"]; got != 10 {
		t.Errorf("expected balance unchanged after failed withdraw, got %v", got)
	}
}

func TestReset(t *testing.T) {
	l := New("NATIVE", 50)
	l.Reset()
	if got := l.GetAll()["NATIVE"]; got != 0 {
		t.Errorf("expected balance 0 after reset, got %v", got)
	}
}

func TestBalanceCheckerReflectsLedger(t *testing.T) {
	l := New("NATIVE", 100)
	bc := NewBalanceChecker(l, "NATIVE")

	ok, err := bc.CheckBalance(context.Background(), 50)
	if err != nil || !ok {
		t.Fatalf("expected sufficient balance, ok=%v err=%v", ok, err)
	}
	ok, _ = bc.CheckBalance(context.Background(), 500)
	if ok {
		t.Errorf("expected insufficient balance for amount exceeding ledger")
	}
}
