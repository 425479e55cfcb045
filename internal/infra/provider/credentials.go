package provider

import (
	"encoding/json"
	"errors"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
)

// decodeCredentials parses the account's credential document. A missing
// or malformed document is reported as an auth failure: the provider can
// never accept it.
func decodeCredentials(provider domain.ProviderID, account *domain.Account, v any) error {
	if len(account.Credentials) == 0 {
		return &domain.ErrAuthFailure{Provider: provider, Err: errors.New("account has no credentials configured")}
	}
	if err := json.Unmarshal(account.Credentials, v); err != nil {
		return &domain.ErrAuthFailure{Provider: provider, Err: errors.New("credentials document is not valid JSON")}
	}
	return nil
}
