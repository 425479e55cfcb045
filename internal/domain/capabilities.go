package domain

// Capability names a single financial operation an account may support.
type Capability string

const (
	CapabilityInstantTransferIn Capability = "instant_transfer_in"
	CapabilityVoucherBilling    Capability = "voucher_billing"
	CapabilityCreditCard        Capability = "credit_card"
	CapabilityDebitCard         Capability = "debit_card"
	CapabilityRecurringBilling  Capability = "recurring_billing"
	CapabilityPaymentSplit      Capability = "payment_split"
	CapabilityTransfer          Capability = "transfer"
	CapabilityBalance           Capability = "balance"
	CapabilityStatement         Capability = "statement"
)

// AllCapabilities lists every capability in declaration order.
var AllCapabilities = []Capability{
	CapabilityInstantTransferIn,
	CapabilityVoucherBilling,
	CapabilityCreditCard,
	CapabilityDebitCard,
	CapabilityRecurringBilling,
	CapabilityPaymentSplit,
	CapabilityTransfer,
	CapabilityBalance,
	CapabilityStatement,
}

// Capabilities is the fixed capability set of an account or provider.
type Capabilities struct {
	InstantTransferIn bool `json:"instantTransferIn"`
	VoucherBilling    bool `json:"voucherBilling"`
	CreditCard        bool `json:"creditCard"`
	DebitCard         bool `json:"debitCard"`
	RecurringBilling  bool `json:"recurringBilling"`
	PaymentSplit      bool `json:"paymentSplit"`
	Transfer          bool `json:"transfer"`
	Balance           bool `json:"balance"`
	Statement         bool `json:"statement"`
}

// Has reports whether the set contains capability c.
func (c Capabilities) Has(capability Capability) bool {
	switch capability {
	case CapabilityInstantTransferIn:
		return c.InstantTransferIn
	case CapabilityVoucherBilling:
		return c.VoucherBilling
	case CapabilityCreditCard:
		return c.CreditCard
	case CapabilityDebitCard:
		return c.DebitCard
	case CapabilityRecurringBilling:
		return c.RecurringBilling
	case CapabilityPaymentSplit:
		return c.PaymentSplit
	case CapabilityTransfer:
		return c.Transfer
	case CapabilityBalance:
		return c.Balance
	case CapabilityStatement:
		return c.Statement
	}
	return false
}

// List returns the enabled capabilities.
func (c Capabilities) List() []Capability {
	out := make([]Capability, 0, len(AllCapabilities))
	for _, capability := range AllCapabilities {
		if c.Has(capability) {
			out = append(out, capability)
		}
	}
	return out
}

// Missing returns the capabilities enabled in c but absent from other.
// An empty result means c is a subset of other.
func (c Capabilities) Missing(other Capabilities) []Capability {
	var out []Capability
	for _, capability := range c.List() {
		if !other.Has(capability) {
			out = append(out, capability)
		}
	}
	return out
}
