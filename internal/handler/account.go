package handler

import (
	"net/http"

	"papertrade/internal/domain"
	"papertrade/internal/service"
)

// AccountHandler handles HTTP requests for account and holding endpoints.
type AccountHandler struct {
	accountSvc *service.AccountService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountSvc *service.AccountService) *AccountHandler {
	return &AccountHandler{accountSvc: accountSvc}
}

// accountResponse is the JSON response for account endpoints. Balances
// are decimal strings to preserve precision across the wire.
type accountResponse struct {
	UserID           string `json:"user_id"`
	WalletBalance    string `json:"wallet_balance"`
	LockedBalance    string `json:"locked_balance"`
	AvailableBalance string `json:"available_balance"`
	CreatedAt        string `json:"created_at"`
}

// holdingResponse is a single holding in GET /holdings.
type holdingResponse struct {
	HoldingID         string `json:"holding_id"`
	Currency          string `json:"currency"`
	Quantity          string `json:"quantity"`
	LockedQuantity    string `json:"locked_quantity"`
	AvailableQuantity string `json:"available_quantity"`
	PurchasePrice     string `json:"purchase_price"`
	CurrentPrice      string `json:"current_price"`
	CreatedAt         string `json:"created_at"`
}

// depositRequest is the JSON request body for POST /account/deposit.
type depositRequest struct {
	Amount string `json:"amount"`
}

// GetAccount handles GET /account.
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	account, err := h.accountSvc.GetAccount(r.Context(), userID)
	if err != nil {
		mapDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildAccountResponse(account))
}

// Deposit handles POST /account/deposit.
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	var req depositRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	account, err := h.accountSvc.Deposit(r.Context(), userID, req.Amount)
	if err != nil {
		mapDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildAccountResponse(account))
}

// ListHoldings handles GET /holdings.
func (h *AccountHandler) ListHoldings(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	holdings, err := h.accountSvc.ListHoldings(r.Context(), userID)
	if err != nil {
		mapDomainError(w, err)
		return
	}

	result := make([]holdingResponse, len(holdings))
	for i, holding := range holdings {
		result[i] = holdingResponse{
			HoldingID:         holding.ID,
			Currency:          holding.Currency,
			Quantity:          holding.Quantity.String(),
			LockedQuantity:    holding.LockedQuantity.String(),
			AvailableQuantity: holding.AvailableQuantity().String(),
			PurchasePrice:     holding.PurchasePrice.String(),
			CurrentPrice:      holding.CurrentPrice.String(),
			CreatedAt:         holding.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
	}

	WriteJSON(w, http.StatusOK, result)
}

// buildAccountResponse converts a domain account to its wire form.
func buildAccountResponse(a *domain.Account) accountResponse {
	return accountResponse{
		UserID:           a.UserID,
		WalletBalance:    a.WalletBalance.String(),
		LockedBalance:    a.LockedBalance.String(),
		AvailableBalance: a.AvailableBalance().String(),
		CreatedAt:        a.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}
