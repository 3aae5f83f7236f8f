/*
handlers.go - HTTP API handlers for the reward engine

PURPOSE:
  Exposes the reward engine via REST API so the Discord and Twitch bot
  processes, the dashboard and the overlay share one ledger. Handles HTTP
  request/response, JSON serialization, and delegates to the engine.

ENDPOINTS:
  Users:
    POST   /api/users                             Resolve or create a platform identity
    GET    /api/users/{userID}                    Balances and level progress
    GET    /api/users/{userID}/stats              Profile card
    GET    /api/users/{userID}/transactions       Ledger history, newest first
    GET    /api/users/{userID}/achievements       Catalog with per-user progress
    GET    /api/users/{userID}/notifications      Drain queued unlocks
    GET    /api/users/{userID}/redemptions        Redemption history

  Activity:
    POST   /api/users/{userID}/chat               One counted chat message
    POST   /api/users/{userID}/voice/join         Start a voice session
    POST   /api/users/{userID}/voice/leave        End a voice session
    POST   /api/users/{userID}/daily              Claim the daily reward
    POST   /api/users/{userID}/link               Link a Twitch identity
    POST   /api/users/{userID}/gifts              Gift currency

  Shop:
    GET    /api/shop/items                        Enabled items (?category=)
    GET    /api/shop/items/{itemID}               One item
    GET    /api/shop/items/{itemID}/can-redeem    Pre-flight check (?user_id=)
    POST   /api/shop/items/{itemID}/redeem        Redeem

  Admin:
    GET    /api/admin/redemptions/pending         Fulfillment queue
    POST   /api/admin/redemptions/{id}/fulfill    Mark fulfilled
    POST   /api/admin/redemptions/{id}/refund     Refund
    POST   /api/admin/grants                      Grant a resource
    POST   /api/admin/takes                       Remove a resource
    PUT    /api/admin/items                       Create or update an item
    POST   /api/admin/users/{userID}/achievements/{name}  Check one achievement

ERROR HANDLING:
  Errors are returned as ErrorResponse with a status chosen by category:
  - 400: Validation errors, invalid input
  - 404: Unknown user, item, redemption or achievement
  - 409: Denials (code carries the reason) and state conflicts
  - 500: Internal errors

SECURITY NOTE:
  No authentication. The API is meant to sit behind the bot's private
  network; admin routes trust the admin name in the body.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - engine/pipeline.go: What activity endpoints run
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/reward-engine/engine"
	"github.com/warp/reward-engine/ledger"
	"github.com/warp/reward-engine/shop"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *engine.Engine
	Store  Pinger
}

// NewHandler creates a handler over an engine and its store.
func NewHandler(eng *engine.Engine, store Pinger) *Handler {
	return &Handler{Engine: eng, Store: store}
}

// Health reports store reachability.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unreachable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// CreateUser resolves a platform identity, creating the user on first sight.
// POST /api/users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, created, err := h.Engine.GetOrCreateUser(r.Context(), ledger.Platform(req.Platform), req.ExternalID, req.DisplayName)
	if err != nil {
		writeDomainError(w, "Failed to resolve user", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toUserDTO(user))
}

// GetUser returns balances and level progress.
// GET /api/users/{userID}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	user, err := h.Engine.User(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get user", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

// GetStats returns the profile card.
// GET /api/users/{userID}/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	stats, err := h.Engine.UserStats(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get stats", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsDTO(stats))
}

// GetTransactions returns ledger history, newest first.
// GET /api/users/{userID}/transactions?limit=
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	txs, err := h.Engine.Transactions(r.Context(), id, listLimit(r))
	if err != nil {
		writeDomainError(w, "Failed to get transactions", err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": dtos})
}

// GetAchievements returns the catalog with the user's progress.
// GET /api/users/{userID}/achievements
func (h *Handler) GetAchievements(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	statuses, err := h.Engine.UserAchievements(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get achievements", err)
		return
	}

	dtos := make([]AchievementStatusDTO, len(statuses))
	for i, st := range statuses {
		dtos[i] = toStatusDTO(st)
	}
	writeJSON(w, http.StatusOK, map[string]any{"achievements": dtos})
}

// ListAchievements returns the catalog without user state.
// GET /api/achievements
func (h *Handler) ListAchievements(w http.ResponseWriter, r *http.Request) {
	defs := h.Engine.Achievements()
	dtos := make([]AchievementStatusDTO, len(defs))
	for i, d := range defs {
		dtos[i] = AchievementStatusDTO{
			Name:        d.Name,
			Description: d.Description,
			Category:    d.Category,
			Rarity:      string(d.Rarity),
			Reward:      toRewardDTO(d),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"achievements": dtos})
}

// DrainNotifications returns and clears queued unlocks. The bot calls this
// when it has a channel to announce into.
// GET /api/users/{userID}/notifications
func (h *Handler) DrainNotifications(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	unlocks, err := h.Engine.PendingNotifications(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to drain notifications", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": toUnlockDTOs(unlocks)})
}

// GetUserRedemptions returns a user's redemptions, newest first.
// GET /api/users/{userID}/redemptions
func (h *Handler) GetUserRedemptions(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	reds, err := h.Engine.UserRedemptions(r.Context(), id, listLimit(r))
	if err != nil {
		writeDomainError(w, "Failed to get redemptions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"redemptions": toRedemptionDTOs(reds)})
}

// =============================================================================
// ACTIVITY HANDLERS
// =============================================================================

// RecordChat feeds one chat message through the pipeline.
// POST /api/users/{userID}/chat
func (h *Handler) RecordChat(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	out, err := h.Engine.RecordChatMessage(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to record message", err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeDTO(out))
}

// VoiceJoin starts a voice session.
// POST /api/users/{userID}/voice/join
func (h *Handler) VoiceJoin(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	var req VoiceJoinRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.Engine.VoiceJoin(r.Context(), id, req.Channel); err != nil {
		writeDomainError(w, "Failed to join voice", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "joined", "channel": req.Channel})
}

// VoiceLeave ends a voice session.
// POST /api/users/{userID}/voice/leave
func (h *Handler) VoiceLeave(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	d, was := h.Engine.VoiceLeave(id)
	writeJSON(w, http.StatusOK, VoiceLeaveDTO{WasInVoice: was, Minutes: d.Minutes()})
}

// ListVoiceSessions returns users currently in voice.
// GET /api/voice/sessions
func (h *Handler) ListVoiceSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.Engine.VoiceSessions()
	out := make([]map[string]any, len(sessions))
	for i, s := range sessions {
		out[i] = map[string]any{
			"user_id":   int64(s.UserID),
			"channel":   s.Channel,
			"joined_at": formatTime(s.JoinedAt),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// ClaimDaily grants the daily reward. A claim inside the window is a 409
// with the hours remaining.
// POST /api/users/{userID}/daily
func (h *Handler) ClaimDaily(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	res, err := h.Engine.ClaimDaily(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to claim daily", err)
		return
	}
	if !res.Granted {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "Daily reward already claimed",
			Code:    string(ledger.DenialDailyClaimed),
			Details: map[string]any{"hours_remaining": res.HoursRemaining},
		})
		return
	}
	writeJSON(w, http.StatusOK, DailyDTO{
		Currency: res.Currency,
		XP:       res.XPGained,
		Streak:   res.Streak,
		Outcome:  toOutcomeDTO(res.Outcome),
	})
}

// LinkAccount attaches a Twitch identity, merging any existing Twitch user.
// POST /api/users/{userID}/link
func (h *Handler) LinkAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	var req LinkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.Engine.LinkSecondaryAccount(r.Context(), id, req.TwitchID, req.TwitchUsername)
	if err != nil {
		writeDomainError(w, "Failed to link account", err)
		return
	}
	writeJSON(w, http.StatusOK, toLinkResultDTO(res))
}

// SendGift moves currency to another user.
// POST /api/users/{userID}/gifts
func (h *Handler) SendGift(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	var req GiftRequest
	if !decodeBody(w, r, &req) {
		return
	}
	out, err := h.Engine.Gift(r.Context(), id, ledger.UserID(req.ToUserID), req.Amount, req.Message)
	if err != nil {
		writeDomainError(w, "Failed to send gift", err)
		return
	}
	writeJSON(w, http.StatusOK, GiftDTO{SenderBalance: out.SenderBalance, Outcome: toOutcomeDTO(out.Outcome)})
}

// GetLeaderboard returns the top users for a category.
// GET /api/leaderboard/{category}?limit=
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	category := ledger.LeaderboardCategory(chi.URLParam(r, "category"))
	entries, err := h.Engine.Leaderboard(r.Context(), category, listLimit(r))
	if err != nil {
		writeDomainError(w, "Failed to get leaderboard", err)
		return
	}

	dtos := make([]LeaderboardEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = LeaderboardEntryDTO{
			Rank:        e.Rank,
			UserID:      int64(e.UserID),
			DisplayName: e.DisplayName,
			Currency:    e.Currency,
			XP:          e.XP,
			Level:       e.Level,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"category": string(category), "entries": dtos})
}

// =============================================================================
// SHOP HANDLERS
// =============================================================================

// ListItems returns enabled items, optionally filtered by category.
// GET /api/shop/items?category=
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Engine.ShopItems(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeDomainError(w, "Failed to list items", err)
		return
	}
	dtos := make([]ItemDTO, len(items))
	for i, it := range items {
		dtos[i] = toItemDTO(it)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": dtos})
}

// GetItem returns one item.
// GET /api/shop/items/{itemID}
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := int64Param(w, r, "itemID")
	if !ok {
		return
	}
	item, err := h.Engine.ShopItem(r.Context(), itemID)
	if err != nil {
		writeDomainError(w, "Failed to get item", err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(*item))
}

// CanRedeem runs the redemption pre-flight checks without side effects.
// GET /api/shop/items/{itemID}/can-redeem?user_id=
func (h *Handler) CanRedeem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := int64Param(w, r, "itemID")
	if !ok {
		return
	}
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "user_id query parameter is required", err)
		return
	}

	el, err := h.Engine.CanRedeem(r.Context(), ledger.UserID(userID), itemID)
	if err != nil {
		writeDomainError(w, "Failed to check eligibility", err)
		return
	}
	writeJSON(w, http.StatusOK, EligibilityDTO{
		Allowed:           el.Allowed,
		Code:              string(el.Code),
		Reason:            el.Reason,
		RetryAfterSeconds: ceilSeconds(el.RetryAfter),
	})
}

// RedeemItem exchanges currency for an item.
// POST /api/shop/items/{itemID}/redeem
func (h *Handler) RedeemItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := int64Param(w, r, "itemID")
	if !ok {
		return
	}
	var req RedeemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	out, err := h.Engine.RedeemItem(r.Context(), ledger.UserID(req.UserID), itemID, req.Input)
	if err != nil {
		writeDomainError(w, "Failed to redeem item", err)
		return
	}
	writeJSON(w, http.StatusCreated, ReceiptDTO{
		RedemptionID: int64(out.RedemptionID),
		Status:       string(out.Status),
		Message:      out.Message,
		NewBalance:   out.NewBalance,
		Outcome:      toOutcomeDTO(out.Outcome),
	})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ListPendingRedemptions returns the fulfillment queue, oldest first.
// GET /api/admin/redemptions/pending
func (h *Handler) ListPendingRedemptions(w http.ResponseWriter, r *http.Request) {
	reds, err := h.Engine.PendingRedemptions(r.Context(), listLimit(r))
	if err != nil {
		writeDomainError(w, "Failed to get pending redemptions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"redemptions": toRedemptionDTOs(reds)})
}

// FulfillRedemption marks a pending redemption fulfilled.
// POST /api/admin/redemptions/{redemptionID}/fulfill
func (h *Handler) FulfillRedemption(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "redemptionID")
	if !ok {
		return
	}
	var req FulfillRequest
	if !decodeBody(w, r, &req) {
		return
	}
	red, err := h.Engine.FulfillRedemption(r.Context(), shop.RedemptionID(id), req.Admin, req.Notes)
	if err != nil {
		writeDomainError(w, "Failed to fulfill redemption", err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(*red))
}

// RefundRedemption returns the cost and restores stock.
// POST /api/admin/redemptions/{redemptionID}/refund
func (h *Handler) RefundRedemption(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "redemptionID")
	if !ok {
		return
	}
	var req RefundRequest
	if !decodeBody(w, r, &req) {
		return
	}
	red, err := h.Engine.RefundRedemption(r.Context(), shop.RedemptionID(id), req.Admin, req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to refund redemption", err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(*red))
}

// AdminGrant adds currency, premium currency or XP.
// POST /api/admin/grants
func (h *Handler) AdminGrant(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.Engine.AdminGrant, "Failed to grant")
}

// AdminTake removes currency, premium currency or XP.
// POST /api/admin/takes
func (h *Handler) AdminTake(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.Engine.AdminTake, "Failed to take")
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request, op func(context.Context, engine.AdminAdjustment) (engine.AdminResult, error), failure string) {
	var req AdjustmentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := op(r.Context(), engine.AdminAdjustment{
		UserID:   ledger.UserID(req.UserID),
		Resource: ledger.Resource(req.Resource),
		Amount:   req.Amount,
		Reason:   req.Reason,
		Admin:    req.Admin,
	})
	if err != nil {
		writeDomainError(w, failure, err)
		return
	}
	writeJSON(w, http.StatusOK, AdminResultDTO{
		Resource:   string(res.Resource),
		NewBalance: res.NewBalance,
		Level:      res.Level,
		Outcome:    toOutcomeDTO(res.Outcome),
	})
}

// SaveItem creates or updates a shop item. ID 0 creates.
// PUT /api/admin/items
func (h *Handler) SaveItem(w http.ResponseWriter, r *http.Request) {
	var req ItemDTO
	if !decodeBody(w, r, &req) {
		return
	}
	item, err := h.Engine.SaveItem(r.Context(), fromItemDTO(req))
	if err != nil {
		writeDomainError(w, "Failed to save item", err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(*item))
}

// GrantAchievement checks one achievement for a user and unlocks it if the
// condition holds.
// POST /api/admin/users/{userID}/achievements/{name}
func (h *Handler) GrantAchievement(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	unlock, out, err := h.Engine.GrantAchievement(r.Context(), id, chi.URLParam(r, "name"))
	if err != nil {
		writeDomainError(w, "Failed to check achievement", err)
		return
	}
	writeJSON(w, http.StatusOK, GrantAchievementDTO{Unlocked: unlock != nil, Outcome: toOutcomeDTO(out)})
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func userIDParam(w http.ResponseWriter, r *http.Request) (ledger.UserID, bool) {
	id, ok := int64Param(w, r, "userID")
	return ledger.UserID(id), ok
}

func int64Param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid "+name, err)
		return 0, false
	}
	return v, true
}

func listLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the ledger error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	var denial *ledger.DenialError
	var funds *ledger.InsufficientFundsError

	switch {
	case errors.As(err, &funds):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: message,
			Code:  string(ledger.DenialInsufficientFunds),
			Details: map[string]any{
				"resource":  string(funds.Resource),
				"available": funds.Available,
				"requested": funds.Requested,
			},
		})
	case errors.As(err, &denial):
		status := http.StatusConflict
		if denial.Code == ledger.DenialItemNotFound {
			status = http.StatusNotFound
		}
		details := map[string]any{"reason": denial.Reason}
		if denial.RetryAfter > 0 {
			details["retry_after_seconds"] = ceilSeconds(denial.RetryAfter)
		}
		writeJSON(w, status, ErrorResponse{Error: message, Code: string(denial.Code), Details: details})
	case ledger.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: message, Code: "not_found", Details: err.Error()})
	case ledger.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Code: "invalid", Details: err.Error()})
	case ledger.IsIntegrity(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: message, Code: "conflict", Details: err.Error()})
	default:
		log.Printf("[API] %s: %v", message, err)
		writeError(w, http.StatusInternalServerError, message, nil)
	}
}
