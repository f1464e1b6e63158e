package models

import "strings"

// CommissionType is the business event family a commission or rule belongs to
type CommissionType string

const (
	CommissionTypeTransaction        CommissionType = "transaction"
	CommissionTypeReferral           CommissionType = "referral"
	CommissionTypeMerchantOnboarding CommissionType = "merchant_onboarding"
	CommissionTypeUserRegistration   CommissionType = "user_registration"
	CommissionTypeSubscription       CommissionType = "subscription"
	CommissionTypeAffiliate          CommissionType = "affiliate"
	CommissionTypePerformance        CommissionType = "performance"
	CommissionTypeBonus              CommissionType = "bonus"
	CommissionTypeCustom             CommissionType = "custom"
)

// CommissionTypes lists every supported type in display order.
var CommissionTypes = []CommissionType{
	CommissionTypeTransaction,
	CommissionTypeReferral,
	CommissionTypeMerchantOnboarding,
	CommissionTypeUserRegistration,
	CommissionTypeSubscription,
	CommissionTypeAffiliate,
	CommissionTypePerformance,
	CommissionTypeBonus,
	CommissionTypeCustom,
}

// ParseCommissionType validates a raw type string
func ParseCommissionType(raw string) (CommissionType, error) {
	t := CommissionType(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range CommissionTypes {
		if t == known {
			return t, nil
		}
	}
	return "", NewValidationError("type", "unknown commission type "+raw)
}

// CommissionStatus is a node of the commission state machine
type CommissionStatus string

const (
	CommissionStatusPending    CommissionStatus = "pending"
	CommissionStatusCalculated CommissionStatus = "calculated"
	CommissionStatusApproved   CommissionStatus = "approved"
	CommissionStatusPaid       CommissionStatus = "paid"
	CommissionStatusCancelled  CommissionStatus = "cancelled"
	CommissionStatusDisputed   CommissionStatus = "disputed"
	CommissionStatusExpired    CommissionStatus = "expired"
)

// CommissionStatuses lists every commission status.
var CommissionStatuses = []CommissionStatus{
	CommissionStatusPending,
	CommissionStatusCalculated,
	CommissionStatusApproved,
	CommissionStatusPaid,
	CommissionStatusCancelled,
	CommissionStatusDisputed,
	CommissionStatusExpired,
}

var commissionTransitions = map[CommissionStatus][]CommissionStatus{
	CommissionStatusPending: {
		CommissionStatusCalculated,
		CommissionStatusDisputed,
		CommissionStatusExpired,
		CommissionStatusCancelled,
	},
	CommissionStatusCalculated: {
		CommissionStatusApproved,
		CommissionStatusDisputed,
		CommissionStatusExpired,
		CommissionStatusCancelled,
	},
	CommissionStatusApproved: {
		CommissionStatusPaid,
		CommissionStatusDisputed,
		CommissionStatusCancelled,
	},
	CommissionStatusDisputed: {
		CommissionStatusCalculated,
		CommissionStatusCancelled,
	},
}

// ParseCommissionStatus validates a raw status string
func ParseCommissionStatus(raw string) (CommissionStatus, error) {
	s := CommissionStatus(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range CommissionStatuses {
		if s == known {
			return s, nil
		}
	}
	return "", NewValidationError("status", "unknown commission status "+raw)
}

// CanTransitionTo reports whether the graph has an edge s -> target.
func (s CommissionStatus) CanTransitionTo(target CommissionStatus) bool {
	for _, next := range commissionTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s CommissionStatus) IsTerminal() bool {
	return len(commissionTransitions[s]) == 0
}

// IsOutstanding reports whether the commission is still owed but not settled.
// Expired, cancelled, disputed and paid commissions are excluded.
func (s CommissionStatus) IsOutstanding() bool {
	switch s {
	case CommissionStatusPending, CommissionStatusCalculated, CommissionStatusApproved:
		return true
	}
	return false
}

// PayoutStatus is a node of the payout state machine
type PayoutStatus string

const (
	PayoutStatusScheduled  PayoutStatus = "scheduled"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
	PayoutStatusCancelled  PayoutStatus = "cancelled"
)

// PayoutStatuses lists every payout status.
var PayoutStatuses = []PayoutStatus{
	PayoutStatusScheduled,
	PayoutStatusProcessing,
	PayoutStatusCompleted,
	PayoutStatusFailed,
	PayoutStatusCancelled,
}

var payoutTransitions = map[PayoutStatus][]PayoutStatus{
	PayoutStatusScheduled:  {PayoutStatusProcessing, PayoutStatusCancelled},
	PayoutStatusProcessing: {PayoutStatusCompleted, PayoutStatusFailed},
}

// ParsePayoutStatus validates a raw status string
func ParsePayoutStatus(raw string) (PayoutStatus, error) {
	s := PayoutStatus(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range PayoutStatuses {
		if s == known {
			return s, nil
		}
	}
	return "", NewValidationError("status", "unknown payout status "+raw)
}

// CanTransitionTo reports whether the graph has an edge s -> target.
func (s PayoutStatus) CanTransitionTo(target PayoutStatus) bool {
	for _, next := range payoutTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// HoldsClaims reports whether a payout in this status keeps its commissions claimed.
func (s PayoutStatus) HoldsClaims() bool {
	return s != PayoutStatusCancelled && s != PayoutStatusFailed
}

// PayoutMethod is the settlement rail chosen for a payout
type PayoutMethod string

const (
	PayoutMethodBankTransfer PayoutMethod = "bank_transfer"
	PayoutMethodPayPal       PayoutMethod = "paypal"
	PayoutMethodCrypto       PayoutMethod = "crypto"
	PayoutMethodWallet       PayoutMethod = "wallet"
	PayoutMethodCheck        PayoutMethod = "check"
	PayoutMethodMobileMoney  PayoutMethod = "mobile_money"
)

// PayoutMethods lists every supported method.
var PayoutMethods = []PayoutMethod{
	PayoutMethodBankTransfer,
	PayoutMethodPayPal,
	PayoutMethodCrypto,
	PayoutMethodWallet,
	PayoutMethodCheck,
	PayoutMethodMobileMoney,
}

// ParsePayoutMethod validates a raw method string
func ParsePayoutMethod(raw string) (PayoutMethod, error) {
	m := PayoutMethod(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range PayoutMethods {
		if m == known {
			return m, nil
		}
	}
	return "", NewValidationError("method", "unknown payout method "+raw)
}
