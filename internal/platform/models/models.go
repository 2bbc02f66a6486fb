package models

// Micros is an amount of money in micro-USD (1e-6 dollars). All balance and
// profit arithmetic is integral to avoid floating-point drift.
type Micros int64

// BpsScale is the denominator for basis-point multipliers: a markup of
// 10000 bps is 1.0x, 15000 bps is 1.5x.
const BpsScale = 10000

// MulBps applies a basis-point multiplier, rounding up so fractional
// micro-cents are never given away.
func (m Micros) MulBps(bps int64) Micros {
	v := int64(m) * bps
	if v%BpsScale != 0 {
		return Micros(v/BpsScale + 1)
	}
	return Micros(v / BpsScale)
}

// App is a registered third-party application allowed to request delegated
// access to the gateway.
type App struct {
	ID           string   `json:"id"`
	OwnerUserID  string   `json:"owner_user_id"`
	Name         string   `json:"name"`
	RedirectURIs []string `json:"redirect_uris"` // JSON array in DB, exact-match allow-list
	IsActive     bool     `json:"is_active"`
	TotalRawCost Micros   `json:"total_raw_cost"`
	TotalCharged Micros   `json:"total_charged"`
	CreatedAt    int64    `json:"created_at"`
	UpdatedAt    int64    `json:"updated_at"`
}

type User struct {
	ID                string `json:"id"`
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	PasswordHash      string `json:"-"`
	FullName          string `json:"full_name"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	GivenName         string `json:"given_name,omitempty"`
	FamilyName        string `json:"family_name,omitempty"`
	Role              string `json:"role"`
	GithubLinkID      string `json:"github_link_id,omitempty"`
	TotalPaid         Micros `json:"total_paid"`
	TotalSpent        Micros `json:"total_spent"`
	CreatedAt         int64  `json:"created_at"`
	UpdatedAt         int64  `json:"updated_at"`
}

// Balance is derived, never stored: what the user has paid minus what
// metered calls have debited.
func (u *User) Balance() Micros {
	return u.TotalPaid - u.TotalSpent
}

// AuthorizationCode is a single-use PKCE-bound code. Consumed flips false to
// true exactly once; expiry is enforced at read time.
type AuthorizationCode struct {
	Code            string `json:"code"`
	AppID           string `json:"app_id"`
	UserID          string `json:"user_id"`
	RedirectURI     string `json:"redirect_uri"`
	CodeChallenge   string `json:"code_challenge"`
	ChallengeMethod string `json:"challenge_method"`
	Scope           string `json:"scope"`
	ExpiresAt       int64  `json:"expires_at"`
	Consumed        bool   `json:"consumed"`
	CreatedAt       int64  `json:"created_at"`
}

// RefreshToken is stored by hash only; the opaque token never touches disk.
// At most one active token descends from a lineage at any instant.
type RefreshToken struct {
	TokenHash string `json:"-"`
	UserID    string `json:"user_id"`
	AppID     string `json:"app_id"`
	Scope     string `json:"scope"`
	ExpiresAt int64  `json:"expires_at"`
	IsActive  bool   `json:"is_active"`
	CreatedAt int64  `json:"created_at"`
}

// Transaction is the immutable record of one billable LLM call. The three
// profit fields always sum to RawCost multiplied by the app's markup.
type Transaction struct {
	ID             string  `json:"id"`
	UserID         string  `json:"user_id"`
	AppID          string  `json:"app_id"`
	APIKeyID       *string `json:"api_key_id,omitempty"`
	Model          string  `json:"model"`
	InputTokens    int64   `json:"input_tokens"`
	OutputTokens   int64   `json:"output_tokens"`
	TotalTokens    int64   `json:"total_tokens"`
	RawCost        Micros  `json:"raw_cost"`
	AppProfit      Micros  `json:"app_profit"`
	MarkUpProfit   Micros  `json:"mark_up_profit"`
	ReferralProfit Micros  `json:"referral_profit"`
	ReferralCodeID *string `json:"referral_code_id,omitempty"`
	IsArchived     bool    `json:"is_archived"`
	CreatedAt      int64   `json:"created_at"`
}

// Charged is the amount actually debited from the consuming user.
func (t *Transaction) Charged() Micros {
	return t.AppProfit + t.MarkUpProfit + t.ReferralProfit
}

// MarkUp is the app owner's price multiplier. One unarchived row per app;
// absence means 1.0x.
type MarkUp struct {
	ID         string `json:"id"`
	AppID      string `json:"app_id"`
	AmountBps  int64  `json:"amount_bps"`
	IsArchived bool   `json:"is_archived"`
	CreatedAt  int64  `json:"created_at"`
}

type ReferralCode struct {
	ID        string  `json:"id"`
	Code      string  `json:"code"`
	UserID    string  `json:"user_id"`
	AppID     *string `json:"app_id,omitempty"`
	CreatedAt int64   `json:"created_at"`
}

// ReferralBinding marks a user's calls to an app as made under a referral's
// influence; the bound code is stamped onto each transaction.
type ReferralBinding struct {
	UserID         string `json:"user_id"`
	AppID          string `json:"app_id"`
	ReferralCodeID string `json:"referral_code_id"`
	CreatedAt      int64  `json:"created_at"`
}

const (
	PayoutTypeMarkup   = "markup"
	PayoutTypeReferral = "referral"

	PayoutStatusPending   = "pending"
	PayoutStatusCompleted = "completed"
)

// Payout is a claim over earned profit, settled asynchronously through the
// payment rail. TransactionID holds the rail's transfer reference once the
// transfer has been created.
type Payout struct {
	ID                    string  `json:"id"`
	UserID                string  `json:"user_id"`
	AppID                 *string `json:"app_id,omitempty"`
	Type                  string  `json:"type"`
	Amount                Micros  `json:"amount"`
	Status                string  `json:"status"`
	RecipientGithubLinkID string  `json:"recipient_github_link_id"`
	TransactionID         *string `json:"transaction_id,omitempty"`
	SenderAddress         *string `json:"sender_address,omitempty"`
	CreatedAt             int64   `json:"created_at"`
	UpdatedAt             int64   `json:"updated_at"`
}

// FreeTierPool is an app-funded balance debited before the consuming user's
// own balance while it has allowance left.
type FreeTierPool struct {
	ID          string `json:"id"`
	AppID       string `json:"app_id"`
	TotalFunded Micros `json:"total_funded"`
	TotalSpent  Micros `json:"total_spent"`
	IsActive    bool   `json:"is_active"`
	CreatedAt   int64  `json:"created_at"`
}
