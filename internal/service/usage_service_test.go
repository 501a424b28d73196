package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	appErrors "github.com/unclebandit/steadyletters-backend/internal/errors"
	"github.com/unclebandit/steadyletters-backend/internal/model"
	"github.com/unclebandit/steadyletters-backend/internal/service"
	"github.com/unclebandit/steadyletters-backend/internal/tier"
)

var fixedNow = time.Date(2026, time.March, 15, 10, 0, 0, 0, time.Local)

func newUsageService() (*service.UsageService, *MockUsageRepo, *MockAccountRepo) {
	accounts := newMockAccountRepo()
	usage := newMockUsageRepo(accounts)
	svc := service.NewUsageService(usage, accounts)
	svc.Now = func() time.Time { return fixedNow }
	return svc, usage, accounts
}

func TestGetOrCreateLedger_CreatesFreeLedger(t *testing.T) {
	svc, _, _ := newUsageService()

	l, err := svc.GetOrCreateLedger(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Tier != string(tier.Free) {
		t.Errorf("tier = %q, want FREE", l.Tier)
	}
	want := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.Local)
	if !l.ResetAt.Equal(want) {
		t.Errorf("resetAt = %v, want %v", l.ResetAt, want)
	}

	// Second call returns the same ledger rather than a fresh one.
	svc.RecordUsage(context.Background(), "acc-1", tier.ActionLetter, 2)
	again, _ := svc.GetOrCreateLedger(context.Background(), "acc-1")
	if again.LettersGenerated != 2 {
		t.Errorf("lettersGenerated = %d, want 2", again.LettersGenerated)
	}
}

func TestIsActionAllowed_FreeLetterBoundary(t *testing.T) {
	svc, _, _ := newUsageService()
	for used := 0; used <= 7; used++ {
		l := &model.UsageLedger{Tier: string(tier.Free), LettersGenerated: used}
		allowed, err := svc.IsActionAllowed(l, tier.ActionLetter)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want := used < 5; allowed != want {
			t.Errorf("used=%d allowed=%v, want %v", used, allowed, want)
		}
	}
}

func TestIsActionAllowed_UnlimitedVoiceOnPro(t *testing.T) {
	svc, _, _ := newUsageService()
	l := &model.UsageLedger{Tier: string(tier.Pro), VoiceTranscriptions: 10_000}
	allowed, err := svc.IsActionAllowed(l, tier.ActionVoice)
	if err != nil || !allowed {
		t.Fatalf("allowed=%v err=%v, want true", allowed, err)
	}
}

func TestCheckAndRecord_FreeTierSixthLetterRejected(t *testing.T) {
	svc, usage, _ := newUsageService()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if err := svc.CheckAndRecord(ctx, "acc-1", tier.ActionLetter, 1); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}
	if got := usage.ledger("acc-1").LettersGenerated; got != 5 {
		t.Fatalf("lettersGenerated = %d, want 5", got)
	}

	err := svc.CheckAndRecord(ctx, "acc-1", tier.ActionLetter, 1)
	if !appErrors.IsQuotaExceeded(err) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
	if got := usage.ledger("acc-1").LettersGenerated; got != 5 {
		t.Errorf("lettersGenerated after rejection = %d, want 5", got)
	}
}

func TestCheckAndRecord_FailsClosedOnLedgerError(t *testing.T) {
	svc, usage, _ := newUsageService()
	usage.err = errStoreDown

	err := svc.CheckAndRecord(context.Background(), "acc-1", tier.ActionLetter, 1)
	if err == nil {
		t.Fatal("expected ledger error to deny the action")
	}
	if appErrors.IsQuotaExceeded(err) {
		t.Errorf("store failure should not look like a quota error: %v", err)
	}
}

func TestCheckAndRecord_ConcurrentCallersCannotOvershoot(t *testing.T) {
	svc, usage, _ := newUsageService()
	ctx := context.Background()
	svc.GetOrCreateLedger(ctx, "acc-1")
	svc.RecordUsage(ctx, "acc-1", tier.ActionLetter, 4)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := svc.CheckAndRecord(ctx, "acc-1", tier.ActionLetter, 1)
			if err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
				return
			}
			if !appErrors.IsQuotaExceeded(err) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if granted != 1 {
		t.Errorf("granted = %d, want 1", granted)
	}
	if got := usage.ledger("acc-1").LettersGenerated; got != 5 {
		t.Errorf("lettersGenerated = %d, want 5", got)
	}
}

func TestReserveUpTo_CapsAtRemaining(t *testing.T) {
	svc, usage, _ := newUsageService()
	ctx := context.Background()
	svc.GetOrCreateLedger(ctx, "acc-1")
	svc.RecordUsage(ctx, "acc-1", tier.ActionImage, 8)

	n, err := svc.ReserveUpTo(ctx, "acc-1", tier.ActionImage, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("granted = %d, want 2", n)
	}
	if got := usage.ledger("acc-1").ImagesGenerated; got != 10 {
		t.Errorf("imagesGenerated = %d, want 10", got)
	}

	if _, err := svc.ReserveUpTo(ctx, "acc-1", tier.ActionImage, 1); !appErrors.IsQuotaExceeded(err) {
		t.Errorf("expected quota exceeded at the limit, got %v", err)
	}
}

func TestRelease_ReturnsReservedUnits(t *testing.T) {
	svc, usage, _ := newUsageService()
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, "acc-1", tier.ActionSend, 2); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := svc.Release(ctx, "acc-1", tier.ActionSend, 1); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := usage.ledger("acc-1").LettersSent; got != 1 {
		t.Errorf("lettersSent = %d, want 1", got)
	}
	if _, err := svc.Reserve(ctx, "acc-1", tier.ActionSend, 3); !appErrors.IsQuotaExceeded(err) {
		t.Errorf("reserving past the FREE send limit: got %v", err)
	}
	if got := usage.ledger("acc-1").LettersSent; got != 1 {
		t.Errorf("lettersSent after rejected reserve = %d, want 1", got)
	}
}

func TestMaybeRollResetWindow_Idempotent(t *testing.T) {
	svc, usage, _ := newUsageService()
	ctx := context.Background()

	usage.accounts.ensure("acc-1")
	usage.ledgers["acc-1"] = &model.UsageLedger{
		AccountID:           "acc-1",
		LettersGenerated:    4,
		ImagesGenerated:     9,
		LettersSent:         2,
		VoiceTranscriptions: 3,
		ImageAnalyses:       1,
		ResetAt:             time.Date(2026, time.March, 1, 0, 0, 0, 0, time.Local),
	}

	l, _ := svc.GetOrCreateLedger(ctx, "acc-1")
	rolled, err := svc.MaybeRollResetWindow(ctx, l)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rolled.LettersGenerated+rolled.ImagesGenerated+rolled.LettersSent+rolled.VoiceTranscriptions+rolled.ImageAnalyses != 0 {
		t.Errorf("counters not zeroed: %+v", rolled)
	}
	want := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.Local)
	if !rolled.ResetAt.Equal(want) {
		t.Errorf("resetAt = %v, want %v", rolled.ResetAt, want)
	}

	svc.RecordUsage(ctx, "acc-1", tier.ActionLetter, 1)

	// Calling again with the stale ledger must not reset a second time.
	again, err := svc.MaybeRollResetWindow(ctx, l)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usage.rolls != 1 {
		t.Errorf("rolls = %d, want 1", usage.rolls)
	}
	if again.LettersGenerated != 1 {
		t.Errorf("lettersGenerated = %d, want 1 (second roll must be a no-op)", again.LettersGenerated)
	}
}

func TestMaybeRollResetWindow_ConcurrentCallersRollOnce(t *testing.T) {
	svc, usage, _ := newUsageService()
	ctx := context.Background()
	usage.accounts.ensure("acc-1")
	usage.ledgers["acc-1"] = &model.UsageLedger{
		AccountID:        "acc-1",
		LettersGenerated: 5,
		ResetAt:          time.Date(2026, time.February, 1, 0, 0, 0, 0, time.Local),
	}
	stale, _ := usage.GetLedger(ctx, "acc-1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.MaybeRollResetWindow(ctx, stale)
		}()
	}
	wg.Wait()

	if usage.rolls != 1 {
		t.Errorf("rolls = %d, want 1", usage.rolls)
	}
	if l := usage.ledger("acc-1"); l.LettersGenerated != 0 {
		t.Errorf("lettersGenerated = %d, want 0", l.LettersGenerated)
	}
}

func TestRecordUsage_ConcurrentIncrementsSum(t *testing.T) {
	svc, usage, _ := newUsageService()
	ctx := context.Background()
	svc.GetOrCreateLedger(ctx, "acc-1")

	const k = 3
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.RecordUsage(ctx, "acc-1", tier.ActionImage, k); err != nil {
				t.Errorf("RecordUsage: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := usage.ledger("acc-1").ImagesGenerated; got != 2*k {
		t.Errorf("imagesGenerated = %d, want %d", got, 2*k)
	}
}

func TestRecordUsage_NonPositiveIsNoop(t *testing.T) {
	svc, usage, _ := newUsageService()
	ctx := context.Background()
	svc.GetOrCreateLedger(ctx, "acc-1")

	svc.RecordUsage(ctx, "acc-1", tier.ActionImage, 0)
	svc.RecordUsage(ctx, "acc-1", tier.ActionImage, -2)
	if got := usage.ledger("acc-1").ImagesGenerated; got != 0 {
		t.Errorf("imagesGenerated = %d, want 0", got)
	}
}

func TestSummary(t *testing.T) {
	svc, _, accounts := newUsageService()
	ctx := context.Background()
	accounts.put(&model.Account{ID: "acc-1", Tier: string(tier.Pro), SubscriptionStatus: "active", PriceID: strPtr("price_pro")})

	svc.GetOrCreateLedger(ctx, "acc-1")
	svc.RecordUsage(ctx, "acc-1", tier.ActionLetter, 25)

	sum, err := svc.Summary(ctx, "acc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Subscription.Tier != "PRO" || *sum.Subscription.PriceID != "price_pro" {
		t.Errorf("subscription = %+v", sum.Subscription)
	}
	letters := sum.Usage["lettersGenerated"]
	if letters.Used != 25 || letters.Limit != 50 || letters.Percentage != 50 {
		t.Errorf("letters metric = %+v", letters)
	}
	if voice := sum.Usage["voiceTranscriptions"]; voice.Limit != tier.Unlimited || voice.Percentage != 0 {
		t.Errorf("voice metric = %+v", voice)
	}
	if len(sum.Features) == 0 {
		t.Error("expected plan features")
	}
}
