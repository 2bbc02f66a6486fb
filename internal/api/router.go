package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "tollgate/internal/api/context"
	"tollgate/internal/api/handlers"
	"tollgate/internal/api/middleware"
	"tollgate/internal/pkg/errors"
	"tollgate/internal/platform/auth"
)

type Dependencies struct {
	AuthHandler     *handlers.AuthHandler
	OAuthHandler    *handlers.OAuthHandler
	AppHandler      *handlers.AppHandler
	APIKeyHandler   *handlers.APIKeyHandler
	UsageHandler    *handlers.UsageHandler
	MarkupHandler   *handlers.MarkupHandler
	ReferralHandler *handlers.ReferralHandler
	PayoutHandler   *handlers.PayoutHandler
	HealthHandler   *handlers.HealthHandler
	AuthMiddleware  *middleware.AuthMiddleware
	RateLimiter     *middleware.RateLimiter
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	authMid := deps.AuthMiddleware
	rl := deps.RateLimiter

	router.GET("/health", wrap(deps.HealthHandler.Check))

	// First-party sessions
	router.POST("/api/v1/auth/signup", chain(deps.AuthHandler.Signup, rl.Limit("auth")))
	router.POST("/api/v1/auth/login", chain(deps.AuthHandler.Login, rl.Limit("auth")))

	// OAuth2 authorization server. The authorize endpoint needs a logged-in
	// resource owner; the token endpoint authenticates via the grant itself.
	router.GET("/oauth/authorize", chain(deps.OAuthHandler.Authorize, authMid.Handle))
	router.POST("/oauth/token", chain(deps.OAuthHandler.Token, rl.Limit("token")))
	router.GET("/oauth/userinfo",
		chain(deps.OAuthHandler.UserInfo, authMid.Handle, requirePermission(auth.PermUserInfoRead)))
	router.POST("/oauth/userinfo",
		chain(deps.OAuthHandler.UserInfo, authMid.Handle, requirePermission(auth.PermUserInfoRead)))

	// App management
	router.POST("/api/v1/apps", chain(deps.AppHandler.Create, authMid.Handle))
	router.GET("/api/v1/apps", chain(deps.AppHandler.List, authMid.Handle))
	router.POST("/api/v1/apps/:app_id/free-tier", chain(deps.AppHandler.FundFreeTier, authMid.Handle))
	router.GET("/api/v1/apps/:app_id/markup", chain(deps.MarkupHandler.Get, authMid.Handle))
	router.PUT("/api/v1/apps/:app_id/markup",
		chain(deps.MarkupHandler.Set, authMid.Handle, requirePermission(auth.PermMarkupManage)))

	// API keys
	router.POST("/api/v1/keys",
		chain(deps.APIKeyHandler.Create, authMid.Handle, requirePermission(auth.PermKeyManage)))
	router.GET("/api/v1/keys",
		chain(deps.APIKeyHandler.List, authMid.Handle, requirePermission(auth.PermKeyManage)))
	router.DELETE("/api/v1/keys/:key_id",
		chain(deps.APIKeyHandler.Revoke, authMid.Handle, requirePermission(auth.PermKeyManage)))

	// Metering and billing
	router.POST("/api/v1/usage",
		chain(deps.UsageHandler.Record, authMid.Handle, requirePermission(auth.PermLLMInvoke), rl.Limit("usage")))
	router.GET("/api/v1/balance",
		chain(deps.UsageHandler.Balance, authMid.Handle, requirePermission(auth.PermBalanceRead)))
	router.GET("/api/v1/transactions",
		chain(deps.UsageHandler.ListTransactions, authMid.Handle, requirePermission(auth.PermBalanceRead)))
	router.POST("/api/v1/billing/topup", chain(deps.UsageHandler.TopUp, authMid.Handle))

	// Referrals
	router.POST("/api/v1/referrals",
		chain(deps.ReferralHandler.CreateCode, authMid.Handle, requirePermission(auth.PermReferralManage)))
	router.POST("/api/v1/referrals/bind",
		chain(deps.ReferralHandler.Bind, authMid.Handle, requirePermission(auth.PermReferralManage)))

	// Payouts
	router.POST("/api/v1/payouts/claim",
		chain(deps.PayoutHandler.Claim, authMid.Handle, requirePermission(auth.PermPayoutClaim)))
	router.GET("/api/v1/payouts/claimable",
		chain(deps.PayoutHandler.Claimable, authMid.Handle, requirePermission(auth.PermPayoutClaim)))
	router.GET("/api/v1/payouts/:payout_id",
		chain(deps.PayoutHandler.Get, authMid.Handle, requirePermission(auth.PermPayoutClaim)))

	return router
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}

func requirePermission(perm auth.Permission) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			principal := r.Context().Value(apiContext.Principal).(*auth.Principal)

			if !auth.Check(*principal, perm) {
				errors.WriteOAuthError(w, http.StatusForbidden, "insufficient_scope",
					"The credential does not grant this operation")
				return
			}

			next(w, r)
		}
	}
}
