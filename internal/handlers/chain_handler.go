package handlers

import (
	"net/http"

	"aa-backend/internal/dto"
	"aa-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ChainHandler exposes disbursement, OTP and ledger operation endpoints
type ChainHandler struct {
	disbursements *services.DisbursementService
	otp           *services.OtpService
	chainOps      *services.ChainOpsService
	logger        *logrus.Logger
}

// NewChainHandler creates the chain handler
func NewChainHandler(
	disbursements *services.DisbursementService,
	otp *services.OtpService,
	chainOps *services.ChainOpsService,
	logger *logrus.Logger,
) *ChainHandler {
	return &ChainHandler{
		disbursements: disbursements,
		otp:           otp,
		chainOps:      chainOps,
		logger:        logger,
	}
}

// DisburseHandler starts a disbursement run.
// POST /api/v1/disbursements
func (h *ChainHandler) DisburseHandler(c *gin.Context) {
	var req dto.DisburseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
			"code":    "INVALID_REQUEST",
		})
		return
	}

	resp, err := h.disbursements.Disburse(c.Request.Context(), &req)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"dName":  req.DName,
			"groups": len(req.Groups),
			"error":  err.Error(),
		}).Error("disbursement request failed")
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"data":    resp,
	})
}

// SendOtpHandler issues an OTP bound to a redemption amount.
// POST /api/v1/otp/send
func (h *ChainHandler) SendOtpHandler(c *gin.Context) {
	var req dto.SendOtpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
			"code":    "INVALID_REQUEST",
		})
		return
	}

	resp, err := h.otp.SendOtp(c.Request.Context(), &req)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"phoneNumber": req.PhoneNumber,
			"vendorUuid":  req.VendorUuid,
			"error":       err.Error(),
		}).Warn("OTP issuance failed")
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    resp,
	})
}

// VerifyOtpHandler checks and consumes an OTP.
// POST /api/v1/otp/verify
func (h *ChainHandler) VerifyOtpHandler(c *gin.Context) {
	var req dto.VerifyOtpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
			"code":    "INVALID_REQUEST",
		})
		return
	}

	if err := h.otp.VerifyOtp(c.Request.Context(), &req); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "OTP verified",
	})
}

// RedeemHandler transfers tokens from a beneficiary to a vendor.
// POST /api/v1/redeem
func (h *ChainHandler) RedeemHandler(c *gin.Context) {
	var req dto.RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
			"code":    "INVALID_REQUEST",
		})
		return
	}

	resp, err := h.otp.Redeem(c.Request.Context(), &req)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"phoneNumber": req.PhoneNumber,
			"vendor":      req.VendorWalletAddress,
			"error":       err.Error(),
		}).Warn("redeem failed")
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    resp,
	})
}

// AssignTokensHandler enqueues a project token assignment.
// POST /api/v1/tokens/assign
func (h *ChainHandler) AssignTokensHandler(c *gin.Context) {
	var req dto.AssignTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
			"code":    "INVALID_REQUEST",
		})
		return
	}

	jobID, err := h.chainOps.AssignTokens(c.Request.Context(), c.Query("chain"), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"jobId":   jobID,
	})
}

// FundAccountHandler enqueues a native-asset top-up.
// POST /api/v1/accounts/fund
func (h *ChainHandler) FundAccountHandler(c *gin.Context) {
	var req dto.FundAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
			"code":    "INVALID_REQUEST",
		})
		return
	}

	jobID, err := h.chainOps.FundAccount(c.Request.Context(), c.Query("chain"), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"jobId":   jobID,
	})
}

// TransferTokensHandler enqueues a service-account token transfer.
// POST /api/v1/tokens/transfer
func (h *ChainHandler) TransferTokensHandler(c *gin.Context) {
	var req dto.TransferTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
			"code":    "INVALID_REQUEST",
		})
		return
	}

	jobID, err := h.chainOps.TransferTokens(c.Request.Context(), c.Query("chain"), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"jobId":   jobID,
	})
}

// BalanceHandler reads the balances of one address.
// GET /api/v1/wallets/:address/balance
func (h *ChainHandler) BalanceHandler(c *gin.Context) {
	address := c.Param("address")

	balance, err := h.chainOps.GetBalance(c.Request.Context(), c.Query("chain"), address)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    balance,
	})
}
