// Package httpapi exposes the orchestration operations over HTTP.
package httpapi

import (
	"context"
	"encoding/hex"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pixelmint/orchestrator/internal/account"
	"github.com/pixelmint/orchestrator/internal/market"
	"github.com/pixelmint/orchestrator/internal/minting"
	"github.com/pixelmint/orchestrator/internal/oerr"
	"github.com/pixelmint/orchestrator/internal/signer"
)

// Registry is the account surface of the API.
type Registry interface {
	GetOrCreate(ctx context.Context, owner common.Address) (account.Result, error)
	Predict(ctx context.Context, owner common.Address) (common.Address, bool, error)
}

// Minter mints approved proposals.
type Minter interface {
	Mint(ctx context.Context, proposalID int64) (minting.Result, error)
}

// Market runs the marketplace operations.
type Market interface {
	List(ctx context.Context, tokenID *big.Int, priceUnits string, cred signer.Credential) (market.Result, error)
	Cancel(ctx context.Context, tokenID *big.Int, cred signer.Credential) (market.Result, error)
	Buy(ctx context.Context, tokenID *big.Int, cred signer.Credential) (market.Result, error)
	GetListing(ctx context.Context, tokenID *big.Int) (market.ListingDetail, error)
}

// Balances is the read-through balance cache.
type Balances interface {
	Read(ctx context.Context, acct common.Address) (units *big.Int, cached bool, err error)
}

// Handler wires the API routes onto a Gin engine.
type Handler struct {
	registry Registry
	minter   Minter
	market   Market
	balances Balances
	log      *zap.Logger
}

func NewHandler(registry Registry, minter Minter, mkt Market, balances Balances, log *zap.Logger) *Handler {
	return &Handler{registry: registry, minter: minter, market: mkt, balances: balances, log: log}
}

// Register mounts all routes on the group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/accounts", h.handleGetOrCreateAccount)
	rg.GET("/accounts/:owner", h.handlePredictAccount)
	rg.POST("/proposals/:id/mint", h.handleMint)
	rg.POST("/market/listings", h.handleList)
	rg.DELETE("/market/listings/:tokenId", h.handleCancel)
	rg.GET("/market/listings/:tokenId", h.handleGetListing)
	rg.POST("/market/purchases", h.handleBuy)
	rg.GET("/balances/:address", h.handleBalance)
}

// authPayload is the wire form of a credential. Exactly one variant must be
// populated: (userId, passphrase) or signedTx.
type authPayload struct {
	UserID     string `json:"userId"`
	Passphrase string `json:"passphrase"`
	SignedTx   string `json:"signedTx"`
}

func (a authPayload) credential() (signer.Credential, error) {
	hasDerived := a.UserID != "" || a.Passphrase != ""
	hasExternal := a.SignedTx != ""
	switch {
	case hasDerived && hasExternal:
		return nil, oerr.New(oerr.CodeInvalidCredential, "supply either a passphrase or a signed transaction, not both")
	case hasDerived:
		return signer.DerivedKeyAuth{UserID: a.UserID, Passphrase: a.Passphrase}, nil
	case hasExternal:
		raw, err := hex.DecodeString(strings.TrimPrefix(a.SignedTx, "0x"))
		if err != nil {
			return nil, oerr.Wrap(oerr.CodeInvalidCredential, "invalid signed transaction hex", err)
		}
		return signer.ExternalSignatureAuth{RawTx: raw}, nil
	default:
		return nil, oerr.New(oerr.CodeInvalidCredential, "missing credential")
	}
}

// ── Accounts ────────────────────────────────────────────────────────────────

func (h *Handler) handleGetOrCreateAccount(c *gin.Context) {
	var req struct {
		Owner string `json:"owner"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, oerr.Validation("invalid request body"))
		return
	}
	owner, err := market.NormalizeAddress(req.Owner)
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.registry.GetOrCreate(c.Request.Context(), owner)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": res.Address.Hex(), "created": res.Created})
}

func (h *Handler) handlePredictAccount(c *gin.Context) {
	owner, err := market.NormalizeAddress(c.Param("owner"))
	if err != nil {
		writeError(c, err)
		return
	}
	addr, deployed, err := h.registry.Predict(c.Request.Context(), owner)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": addr.Hex(), "deployed": deployed})
}

// ── Minting ─────────────────────────────────────────────────────────────────

func (h *Handler) handleMint(c *gin.Context) {
	proposalID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, oerr.Validation("invalid proposal id"))
		return
	}
	res, err := h.minter.Mint(c.Request.Context(), proposalID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokenId": res.TokenID.String(), "txHash": res.TxHash.Hex()})
}

// ── Marketplace ─────────────────────────────────────────────────────────────

func (h *Handler) handleList(c *gin.Context) {
	var req struct {
		TokenID string      `json:"tokenId"`
		Price   string      `json:"price"`
		Auth    authPayload `json:"auth"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, oerr.Validation("invalid request body"))
		return
	}
	tokenID, err := parseTokenID(req.TokenID)
	if err != nil {
		writeError(c, err)
		return
	}
	cred, err := req.Auth.credential()
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.market.List(c.Request.Context(), tokenID, req.Price, cred)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"txHash": res.TxHash.Hex()})
}

func (h *Handler) handleCancel(c *gin.Context) {
	tokenID, err := parseTokenID(c.Param("tokenId"))
	if err != nil {
		writeError(c, err)
		return
	}
	var req struct {
		Auth authPayload `json:"auth"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, oerr.Validation("invalid request body"))
		return
	}
	cred, err := req.Auth.credential()
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.market.Cancel(c.Request.Context(), tokenID, cred)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"txHash": res.TxHash.Hex()})
}

func (h *Handler) handleBuy(c *gin.Context) {
	var req struct {
		TokenID string      `json:"tokenId"`
		Auth    authPayload `json:"auth"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, oerr.Validation("invalid request body"))
		return
	}
	tokenID, err := parseTokenID(req.TokenID)
	if err != nil {
		writeError(c, err)
		return
	}
	cred, err := req.Auth.credential()
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.market.Buy(c.Request.Context(), tokenID, cred)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"txHash": res.TxHash.Hex()})
}

func (h *Handler) handleGetListing(c *gin.Context) {
	tokenID, err := parseTokenID(c.Param("tokenId"))
	if err != nil {
		writeError(c, err)
		return
	}
	listing, err := h.market.GetListing(c.Request.Context(), tokenID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tokenId": tokenID.String(),
		"seller":  listing.Seller.Hex(),
		"price":   listing.Price.String(),
		"active":  listing.Active,
		"feeBps":  listing.FeeBps.String(),
	})
}

// ── Balances ────────────────────────────────────────────────────────────────

func (h *Handler) handleBalance(c *gin.Context) {
	addr, err := market.NormalizeAddress(c.Param("address"))
	if err != nil {
		writeError(c, err)
		return
	}
	units, cached, err := h.balances.Read(c.Request.Context(), addr)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"units": units.String(), "cached": cached})
}

// ── Helpers ─────────────────────────────────────────────────────────────────

func parseTokenID(s string) (*big.Int, error) {
	tokenID, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || tokenID.Sign() < 0 {
		return nil, oerr.Newf(oerr.CodeValidation, "invalid token id: %q", s)
	}
	return tokenID, nil
}

func writeError(c *gin.Context, err error) {
	code := oerr.CodeOf(err)
	c.JSON(statusFor(code), gin.H{"code": string(code), "error": oerr.ReasonOf(err)})
}

func statusFor(code oerr.Code) int {
	switch code {
	case oerr.CodeValidation, oerr.CodeInvalidCredential, oerr.CodeAddressResolution:
		return http.StatusBadRequest
	case oerr.CodeNotFound:
		return http.StatusNotFound
	case oerr.CodeContractRevert:
		return http.StatusConflict
	case oerr.CodeSubmissionTimeout:
		return http.StatusGatewayTimeout
	case oerr.CodeRPCTransient:
		return http.StatusBadGateway
	default: // CONFIGURATION, OWNERSHIP_MISMATCH, DEPLOYMENT_FAILED
		return http.StatusInternalServerError
	}
}
