package provider

import "github.com/boddenberg/pj-gateway-go/internal/domain"

// guard fails a call for an operation the account is not configured for.
func guard(provider domain.ProviderID, account *domain.Account, capability domain.Capability) error {
	if !account.Capabilities.Has(capability) {
		return &domain.ErrUnsupportedByProvider{Provider: provider, Capability: capability}
	}
	return nil
}

// guardStatement is guard for statements plus the range ordering check.
func guardStatement(provider domain.ProviderID, account *domain.Account, rng domain.DateRange) error {
	if err := guard(provider, account, domain.CapabilityStatement); err != nil {
		return err
	}
	if rng.Start.After(rng.End) {
		return &domain.ErrInvalidRange{Start: rng.Start, End: rng.End}
	}
	return nil
}
