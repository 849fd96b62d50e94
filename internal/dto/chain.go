package dto

// DisburseRequest starts a disbursement. Groups may be empty, in which case
// every disbursable group is selected.
type DisburseRequest struct {
	DName  string   `json:"dName" binding:"required"`
	Groups []string `json:"groups"`
}

// GroupDisbursementState one group in the immediate disburse response
type GroupDisbursementState struct {
	GroupUUID string `json:"groupUuid"`
	JobID     string `json:"jobId"`
	Status    string `json:"status"`
}

// DisburseResponse immediate acknowledgement listing per-group jobs
type DisburseResponse struct {
	DName  string                   `json:"dName"`
	Groups []GroupDisbursementState `json:"groups"`
}

// SendOtpRequest issues an OTP bound to a redemption amount
type SendOtpRequest struct {
	PhoneNumber string `json:"phoneNumber" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	VendorUuid  string `json:"vendorUuid" binding:"required"`
}

// SendOtpResponse acknowledges OTP issuance (the code itself travels out of
// band).
type SendOtpResponse struct {
	PhoneNumber string `json:"phoneNumber"`
	ExpiresAt   string `json:"expiresAt"`
}

// VerifyOtpRequest verifies a code against the stored hash
type VerifyOtpRequest struct {
	PhoneNumber string `json:"phoneNumber" binding:"required"`
	Otp         string `json:"otp" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
}

// RedeemRequest moves tokens from a beneficiary to a vendor after OTP
// verification.
type RedeemRequest struct {
	VendorWalletAddress string `json:"vendorWalletAddress" binding:"required"`
	PhoneNumber         string `json:"phoneNumber" binding:"required"`
	Otp                 string `json:"otp" binding:"required"`
	Amount              string `json:"amount" binding:"required"`
}

// RedeemResponse reports the completed transfer
type RedeemResponse struct {
	RedeemUUID string `json:"redeemUuid"`
	TxHash     string `json:"txHash"`
	Status     string `json:"status"`
}

// AssignTokensRequest assigns project tokens to one beneficiary
type AssignTokensRequest struct {
	BeneficiaryAddress string `json:"beneficiaryAddress" binding:"required"`
	Amount             string `json:"amount" binding:"required"`
}

// FundAccountRequest tops up an account with the native asset
type FundAccountRequest struct {
	WalletAddress string `json:"walletAddress" binding:"required"`
	Amount        string `json:"amount"`
}

// TransferTokensRequest moves project tokens between two addresses
type TransferTokensRequest struct {
	FromAddress string `json:"fromAddress" binding:"required"`
	ToAddress   string `json:"toAddress" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
}

// AddTriggerRequest commits a trigger definition on-chain
type AddTriggerRequest struct {
	ID          string                 `json:"id" binding:"required"`
	TriggerType string                 `json:"triggerType"`
	Phase       string                 `json:"phase"`
	Title       string                 `json:"title"`
	Source      string                 `json:"source"`
	RiverBasin  string                 `json:"riverBasin"`
	IsMandatory bool                   `json:"isMandatory"`
	Params      map[string]interface{} `json:"params"`

	// ParamsHash is derived server-side before the job runs
	ParamsHash string `json:"-"`
}

// UpdateTriggerParamsRequest updates selected fields of a committed trigger.
// ID comes from the URL path, not the body.
type UpdateTriggerParamsRequest struct {
	ID          string                 `json:"id"`
	TriggerType *string                `json:"triggerType"`
	Phase       *string                `json:"phase"`
	Title       *string                `json:"title"`
	Source      *string                `json:"source"`
	RiverBasin  *string                `json:"riverBasin"`
	IsMandatory *bool                  `json:"isMandatory"`
	Params      map[string]interface{} `json:"params"`

	// ParamsHash is derived server-side when Params is present
	ParamsHash *string `json:"-"`
}

// BalanceInfo one asset balance, shaped like a horizon balance line for both
// ledger families.
type BalanceInfo struct {
	AssetCode string `json:"asset_code"`
	AssetType string `json:"asset_type"` // "native" | "credit_alphanum4" | "erc20"
	Balance   string `json:"balance"`
}

// WalletBalanceResponse balances held by one address
type WalletBalanceResponse struct {
	Address  string        `json:"address"`
	Chain    string        `json:"chain"`
	Balances []BalanceInfo `json:"balances"`
}

// JobStatusResponse queue job state for polling clients
type JobStatusResponse struct {
	ID          string `json:"id"`
	Queue       string `json:"queue"`
	JobType     string `json:"jobType"`
	JobName     string `json:"jobName,omitempty"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"maxAttempts"`
	LastError   string `json:"lastError,omitempty"`
	Result      string `json:"result,omitempty"`
}
