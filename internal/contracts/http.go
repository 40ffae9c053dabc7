package contracts

type SuccessResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type ErrorResponse struct {
	Status string       `json:"status"`
	Error  ErrorPayload `json:"error"`
}

type ErrorPayload struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"request_id,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

type ChargeRequest struct {
	Credits float64 `json:"credits"`
}

type ChargeResponse struct {
	UserDID   string  `json:"user_did"`
	Remaining float64 `json:"remaining"`
}

type LedgerStateResponse struct {
	UserDID    string  `json:"user_did"`
	Balance    float64 `json:"balance"`
	HeldAmount float64 `json:"held_amount"`
	Blocked    bool    `json:"blocked"`
}

type OverrideBalanceRequest struct {
	AuthoritativeBalance float64 `json:"authoritative_balance"`
}

type OverrideBalanceResponse struct {
	UserDID    string  `json:"user_did"`
	NewBalance float64 `json:"new_balance"`
	Clamped    bool    `json:"clamped"`
}

type CycleReportResponse struct {
	CycleID      string  `json:"cycle_id"`
	UsersScanned int     `json:"users_scanned"`
	UsersSettled int     `json:"users_settled"`
	UsersSkipped int     `json:"users_skipped"`
	UsersFailed  int     `json:"users_failed"`
	TotalSettled float64 `json:"total_settled"`
}

type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}
