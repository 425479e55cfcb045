package provider

import (
	"strings"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
)

var rejectionMarkers = []struct {
	reason  string
	markers []string
}{
	{domain.RejectInsufficientFunds, []string{"insufficient", "no funds", "not enough", "saldo"}},
	{domain.RejectInvalidDestination, []string{"destination", "beneficiary", "recipient", "payee", "key not found", "invalid key", "chave"}},
	{domain.RejectLimitExceeded, []string{"limit", "exceed", "too large"}},
	{domain.RejectComplianceHold, []string{"compliance", "aml", "fraud", "sanction", "hold", "blocked account"}},
}

// rejection maps a provider's denial text onto a fixed reason. The text
// itself is kept as Detail.
func rejection(provider domain.ProviderID, detail string) *domain.ErrTransferRejected {
	lower := strings.ToLower(detail)
	for _, r := range rejectionMarkers {
		for _, m := range r.markers {
			if strings.Contains(lower, m) {
				return &domain.ErrTransferRejected{Provider: provider, Reason: r.reason, Detail: detail}
			}
		}
	}
	return &domain.ErrTransferRejected{Provider: provider, Reason: domain.RejectOther, Detail: detail}
}
