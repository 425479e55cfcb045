package domain

// ============================================================
// Health, metrics and dashboard responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// GatewayMetrics is returned by GET /v1/metrics/gateway.
type GatewayMetrics struct {
	BalanceCalls       int64   `json:"balanceCalls"`
	StatementCalls     int64   `json:"statementCalls"`
	TransferCalls      int64   `json:"transferCalls"`
	ErrorRate          float64 `json:"errorRate"`
	TransfersConfirmed int64   `json:"transfersConfirmed"`
	TransfersPending   int64   `json:"transfersPending"`
	TransfersRejected  int64   `json:"transfersRejected"`
	DirectoryHitRate   float64 `json:"directoryHitRate"`
	Period             string  `json:"period"`
}

// AccountBalance is one row of the tenant overview. Exactly one of
// Balance and Error is set; a failing account never hides the others.
type AccountBalance struct {
	Account AccountSummary   `json:"account"`
	Balance *BalanceSnapshot `json:"balance,omitempty"`
	Error   *ErrorBody       `json:"error,omitempty"`
}

// ErrorBody is the wire shape of a gateway error.
type ErrorBody struct {
	Code      ErrorKind `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable,omitempty"`
}
