package payouts

import (
	"database/sql"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tollgate/internal/pkg/errors"
	"tollgate/internal/platform/config"
	"tollgate/internal/platform/database"
	"tollgate/internal/platform/models"
	"tollgate/internal/platform/repositories"
)

const payoutSchema = `
CREATE TABLE users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	email_verified BOOLEAN NOT NULL DEFAULT FALSE,
	password_hash TEXT NOT NULL DEFAULT '',
	full_name TEXT NOT NULL DEFAULT '',
	preferred_username TEXT NOT NULL DEFAULT '',
	given_name TEXT NOT NULL DEFAULT '',
	family_name TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT 'user',
	github_link_id TEXT NOT NULL DEFAULT '',
	total_paid BIGINT NOT NULL DEFAULT 0,
	total_spent BIGINT NOT NULL DEFAULT 0,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);
CREATE TABLE apps (
	id TEXT PRIMARY KEY,
	owner_user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	redirect_uris TEXT NOT NULL DEFAULT '[]',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	total_raw_cost BIGINT NOT NULL DEFAULT 0,
	total_charged BIGINT NOT NULL DEFAULT 0,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);
CREATE TABLE referral_codes (
	id TEXT PRIMARY KEY,
	code TEXT NOT NULL UNIQUE,
	user_id TEXT NOT NULL,
	app_id TEXT,
	created_at BIGINT NOT NULL
);
CREATE TABLE transactions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	app_id TEXT NOT NULL,
	api_key_id TEXT,
	model TEXT NOT NULL,
	input_tokens BIGINT NOT NULL,
	output_tokens BIGINT NOT NULL,
	total_tokens BIGINT NOT NULL,
	raw_cost BIGINT NOT NULL,
	app_profit BIGINT NOT NULL,
	mark_up_profit BIGINT NOT NULL,
	referral_profit BIGINT NOT NULL,
	referral_code_id TEXT,
	is_archived BOOLEAN NOT NULL DEFAULT FALSE,
	created_at BIGINT NOT NULL
);
CREATE TABLE payouts (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	app_id TEXT,
	type TEXT NOT NULL,
	amount BIGINT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	recipient_github_link_id TEXT NOT NULL,
	transaction_id TEXT,
	sender_address TEXT,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);
CREATE UNIQUE INDEX idx_payouts_pending ON payouts(user_id, app_id, type) WHERE status = 'pending';
`

// fakeRail records transfers in memory and settles on demand.
type fakeRail struct {
	mu         sync.Mutex
	transfers  map[string]bool // reference -> settled
	settleNow  bool
	failCreate bool
	seq        int
	checks     int
}

func newFakeRail() *fakeRail {
	return &fakeRail{transfers: make(map[string]bool)}
}

func (r *fakeRail) CreateTransfer(payout *models.Payout, recipient string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate {
		return "", stderrors.New("rail unavailable")
	}
	r.seq++
	ref := fmt.Sprintf("tr_%d", r.seq)
	r.transfers[ref] = r.settleNow
	return ref, nil
}

func (r *fakeRail) CheckSettlement(reference string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks++
	return r.transfers[reference], nil
}

func (r *fakeRail) settleAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ref := range r.transfers {
		r.transfers[ref] = true
	}
}

type payoutFixture struct {
	payouts *repositories.PayoutRepository
	txns    *repositories.TransactionRepository
	rail    *fakeRail
	svc     *Service
}

func setupPayouts(t *testing.T) *payoutFixture {
	raw, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	// One connection so the settle goroutine shares the in-memory db.
	raw.SetMaxOpenConns(1)
	t.Cleanup(func() { raw.Close() })

	if _, err := raw.Exec(payoutSchema); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	db := database.Wrap(raw, "sqlite3")
	users := repositories.NewUserRepository(db)
	apps := repositories.NewAppRepository(db)
	txns := repositories.NewTransactionRepository(db)
	payoutRepo := repositories.NewPayoutRepository(db)

	now := time.Now().Unix()
	owner := &models.User{
		ID: "usr_owner", Email: "owner@example.com", Role: "user",
		GithubLinkID: "acct_owner", CreatedAt: now, UpdatedAt: now,
	}
	referrer := &models.User{
		ID: "usr_ref", Email: "ref@example.com", Role: "user",
		GithubLinkID: "acct_ref", CreatedAt: now, UpdatedAt: now,
	}
	unlinked := &models.User{
		ID: "usr_unlinked", Email: "unlinked@example.com", Role: "user",
		CreatedAt: now, UpdatedAt: now,
	}
	for _, u := range []*models.User{owner, referrer, unlinked} {
		if err := users.Create(u); err != nil {
			t.Fatalf("Failed to seed user: %v", err)
		}
	}
	app := &models.App{
		ID: "app_1", OwnerUserID: "usr_owner", Name: "Example",
		RedirectURIs: []string{"https://example.com/cb"},
		IsActive:     true, CreatedAt: now, UpdatedAt: now,
	}
	if err := apps.Create(app); err != nil {
		t.Fatalf("Failed to seed app: %v", err)
	}

	code := &models.ReferralCode{ID: "ref_1", Code: "FRIEND", UserID: "usr_ref", CreatedAt: now}
	refRepo := repositories.NewReferralRepository(db)
	if err := refRepo.CreateCode(code); err != nil {
		t.Fatalf("Failed to seed referral code: %v", err)
	}

	rail := newFakeRail()
	svc := NewService(payoutRepo, txns, apps, users, rail, config.PayoutsConfig{
		PollInterval: 5 * time.Millisecond,
		PollAttempts: 3,
	})
	t.Cleanup(svc.Close)
	return &payoutFixture{payouts: payoutRepo, txns: txns, rail: rail, svc: svc}
}

func (f *payoutFixture) seedTransaction(t *testing.T, id string, markUpProfit, referralProfit models.Micros) {
	tx, err := f.txns.BeginTx()
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	defer tx.Rollback()

	var refCode *string
	if referralProfit > 0 {
		c := "ref_1"
		refCode = &c
	}
	txn := &models.Transaction{
		ID: id, UserID: "usr_consumer", AppID: "app_1", Model: "gpt-4o",
		RawCost: 1000, AppProfit: 1000, MarkUpProfit: markUpProfit,
		ReferralProfit: referralProfit, ReferralCodeID: refCode,
		CreatedAt: time.Now().Unix(),
	}
	if err := f.txns.InsertTx(tx, txn); err != nil {
		t.Fatalf("InsertTx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func waitForStatus(t *testing.T, f *payoutFixture, payoutID, want string) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		payout, err := f.payouts.GetByID(payoutID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if payout.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Payout %s never reached status %s", payoutID, want)
}

func TestClaimForApp_MarkupSettles(t *testing.T) {
	f := setupPayouts(t)
	f.rail.settleNow = true
	f.seedTransaction(t, "txn_1", 500, 0)
	f.seedTransaction(t, "txn_2", 700, 0)

	payout, err := f.svc.ClaimForApp("usr_owner", "app_1", models.PayoutTypeMarkup)
	if err != nil {
		t.Fatalf("ClaimForApp: %v", err)
	}
	if payout.Amount != 1200 {
		t.Errorf("Expected claim of 1200, got %d", payout.Amount)
	}
	if payout.Status != models.PayoutStatusPending {
		t.Errorf("Claim should return a pending payout, got %s", payout.Status)
	}

	waitForStatus(t, f, payout.ID, models.PayoutStatusCompleted)

	done, err := f.svc.PollSettlement(payout.ID)
	if err != nil || !done {
		t.Errorf("PollSettlement: done=%v err=%v", done, err)
	}
}

func TestClaimForApp_SecondClaimFindsNothing(t *testing.T) {
	f := setupPayouts(t)
	f.seedTransaction(t, "txn_1", 500, 0)

	if _, err := f.svc.ClaimForApp("usr_owner", "app_1", models.PayoutTypeMarkup); err != nil {
		t.Fatalf("First claim: %v", err)
	}

	// Everything is claimed (the pending payout counts), so a second claim
	// has nothing left.
	_, err := f.svc.ClaimForApp("usr_owner", "app_1", models.PayoutTypeMarkup)
	if !stderrors.Is(err, errors.ErrNothingToClaim) {
		t.Fatalf("Expected ErrNothingToClaim, got %v", err)
	}
}

func TestClaimForApp_NewEarningsClaimableAfterSettlement(t *testing.T) {
	f := setupPayouts(t)
	f.rail.settleNow = true
	f.seedTransaction(t, "txn_1", 500, 0)

	first, err := f.svc.ClaimForApp("usr_owner", "app_1", models.PayoutTypeMarkup)
	if err != nil {
		t.Fatalf("First claim: %v", err)
	}
	waitForStatus(t, f, first.ID, models.PayoutStatusCompleted)

	f.seedTransaction(t, "txn_2", 300, 0)

	second, err := f.svc.ClaimForApp("usr_owner", "app_1", models.PayoutTypeMarkup)
	if err != nil {
		t.Fatalf("Second claim: %v", err)
	}
	if second.Amount != 300 {
		t.Errorf("Expected only new earnings (300), got %d", second.Amount)
	}
}

func TestClaimForApp_MarkupRequiresOwnership(t *testing.T) {
	f := setupPayouts(t)
	f.seedTransaction(t, "txn_1", 500, 0)

	_, err := f.svc.ClaimForApp("usr_ref", "app_1", models.PayoutTypeMarkup)
	if !stderrors.Is(err, errors.ErrNotAppOwner) {
		t.Fatalf("Expected ErrNotAppOwner, got %v", err)
	}
}

func TestClaimForApp_ReferralByNonOwner(t *testing.T) {
	f := setupPayouts(t)
	f.rail.settleNow = true
	f.seedTransaction(t, "txn_1", 400, 100)

	payout, err := f.svc.ClaimForApp("usr_ref", "app_1", models.PayoutTypeReferral)
	if err != nil {
		t.Fatalf("Referral claim: %v", err)
	}
	if payout.Amount != 100 {
		t.Errorf("Expected referral claim of 100, got %d", payout.Amount)
	}
}

func TestClaimForApp_RequiresLinkedRecipient(t *testing.T) {
	f := setupPayouts(t)
	f.seedTransaction(t, "txn_1", 500, 0)

	_, err := f.svc.ClaimForApp("usr_unlinked", "app_1", models.PayoutTypeMarkup)
	if !stderrors.Is(err, errors.ErrNoPayoutRecipient) {
		t.Fatalf("Expected ErrNoPayoutRecipient, got %v", err)
	}
}

func TestReconcilePending_PicksUpStalledPayouts(t *testing.T) {
	f := setupPayouts(t)
	f.rail.failCreate = true
	f.seedTransaction(t, "txn_1", 500, 0)

	// The claim succeeds even though the rail is down; the payout just
	// stays pending with no transfer reference.
	payout, err := f.svc.ClaimForApp("usr_owner", "app_1", models.PayoutTypeMarkup)
	if err != nil {
		t.Fatalf("ClaimForApp: %v", err)
	}
	time.Sleep(50 * time.Millisecond) // let the settle goroutine fail

	fetched, _ := f.payouts.GetByID(payout.ID)
	if fetched.TransactionID != nil {
		t.Fatal("Transfer should not exist while the rail is down")
	}

	// Rail recovers: first sweep creates the transfer, second completes it.
	f.rail.mu.Lock()
	f.rail.failCreate = false
	f.rail.mu.Unlock()

	if err := f.svc.ReconcilePending(); err != nil {
		t.Fatalf("ReconcilePending: %v", err)
	}
	fetched, _ = f.payouts.GetByID(payout.ID)
	if fetched.TransactionID == nil {
		t.Fatal("Sweep should have created the transfer")
	}

	f.rail.settleAll()
	if err := f.svc.ReconcilePending(); err != nil {
		t.Fatalf("ReconcilePending: %v", err)
	}
	fetched, _ = f.payouts.GetByID(payout.ID)
	if fetched.Status != models.PayoutStatusCompleted {
		t.Errorf("Expected completed after sweep, got %s", fetched.Status)
	}
}

func TestMarkCompleted_Idempotent(t *testing.T) {
	f := setupPayouts(t)
	f.rail.settleNow = true
	f.seedTransaction(t, "txn_1", 500, 0)

	payout, err := f.svc.ClaimForApp("usr_owner", "app_1", models.PayoutTypeMarkup)
	if err != nil {
		t.Fatalf("ClaimForApp: %v", err)
	}
	waitForStatus(t, f, payout.ID, models.PayoutStatusCompleted)

	// A concurrent sweep completing the same payout is a no-op.
	updated, err := f.payouts.MarkCompleted(payout.ID)
	if err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if updated {
		t.Error("Second completion should affect zero rows")
	}
}

func TestCreateTx_PendingIndexBlocksRacingClaim(t *testing.T) {
	f := setupPayouts(t)
	f.seedTransaction(t, "txn_1", 500, 0)

	first, err := f.svc.ClaimForApp("usr_owner", "app_1", models.PayoutTypeMarkup)
	if err != nil {
		t.Fatalf("ClaimForApp: %v", err)
	}

	// A racing claim that computed its amount before the first row landed
	// still fails on insert.
	now := time.Now().Unix()
	appID := "app_1"
	dup := &models.Payout{
		ID: "pay_dup", UserID: "usr_owner", AppID: &appID,
		Type: models.PayoutTypeMarkup, Amount: 500,
		Status: models.PayoutStatusPending, RecipientGithubLinkID: "acct_owner",
		CreatedAt: now, UpdatedAt: now,
	}
	tx, err := f.payouts.BeginTx()
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	err = f.payouts.CreateTx(tx, dup)
	tx.Rollback()
	if !stderrors.Is(err, errors.ErrClaimInFlight) {
		t.Fatalf("Expected ErrClaimInFlight, got %v", err)
	}

	// Once nothing is pending for the tuple, inserts are allowed again.
	if _, err := f.payouts.MarkCompleted(first.ID); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	tx, err = f.payouts.BeginTx()
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	defer tx.Rollback()
	if err := f.payouts.CreateTx(tx, dup); err != nil {
		t.Fatalf("Insert after completion should succeed, got %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestClaimable_MarkupRequiresOwnership(t *testing.T) {
	f := setupPayouts(t)
	f.seedTransaction(t, "txn_1", 500, 100)

	_, err := f.svc.Claimable("usr_ref", "app_1", models.PayoutTypeMarkup)
	if !stderrors.Is(err, errors.ErrNotAppOwner) {
		t.Fatalf("Expected ErrNotAppOwner, got %v", err)
	}

	// Referral figures are per-user and need no ownership.
	amount, err := f.svc.Claimable("usr_ref", "app_1", models.PayoutTypeReferral)
	if err != nil {
		t.Fatalf("Referral claimable: %v", err)
	}
	if amount != 100 {
		t.Errorf("Expected referral claimable of 100, got %d", amount)
	}
}

func TestClose_StopsSettlementPolling(t *testing.T) {
	f := setupPayouts(t)
	f.rail.settleNow = true
	f.seedTransaction(t, "txn_1", 500, 0)

	f.svc.Close()

	payout, err := f.svc.ClaimForApp("usr_owner", "app_1", models.PayoutTypeMarkup)
	if err != nil {
		t.Fatalf("ClaimForApp: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	f.rail.mu.Lock()
	checks := f.rail.checks
	f.rail.mu.Unlock()
	if checks != 0 {
		t.Errorf("Polling should stop after Close, saw %d settlement checks", checks)
	}

	fetched, err := f.payouts.GetByID(payout.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fetched.Status != models.PayoutStatusPending {
		t.Errorf("Payout should stay pending for the sweep, got %s", fetched.Status)
	}
}

func TestClaimAll_SkipsEmptyApps(t *testing.T) {
	f := setupPayouts(t)
	f.rail.settleNow = true
	f.seedTransaction(t, "txn_1", 500, 0)

	created, err := f.svc.ClaimAll("usr_owner", models.PayoutTypeMarkup)
	if err != nil {
		t.Fatalf("ClaimAll: %v", err)
	}
	if len(created) != 1 || created[0].Amount != 500 {
		t.Fatalf("Expected one payout of 500, got %+v", created)
	}

	// Nothing left anywhere: ClaimAll yields an empty batch, not an error.
	created, err = f.svc.ClaimAll("usr_owner", models.PayoutTypeMarkup)
	if err != nil {
		t.Fatalf("Second ClaimAll: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("Expected empty batch, got %d payouts", len(created))
	}
}
