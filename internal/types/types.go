package types

type Side string

type TransactionKind string

type TransactionStatus string

type AccountTier string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

const (
	TransactionKindDeposit    TransactionKind = "deposit"
	TransactionKindWithdrawal TransactionKind = "withdrawal"
	TransactionKindBonus      TransactionKind = "bonus"
	TransactionKindCredit     TransactionKind = "credit"
)

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusSuccessful TransactionStatus = "successful"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusCanceled   TransactionStatus = "canceled"
	TransactionStatusRejected   TransactionStatus = "rejected"
)

const (
	TierStudent  AccountTier = "student"
	TierStandard AccountTier = "standard"
	TierBronze   AccountTier = "bronze"
	TierSilver   AccountTier = "silver"
	TierGold     AccountTier = "gold"
	TierVIP      AccountTier = "vip"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

func (k TransactionKind) Valid() bool {
	switch k {
	case TransactionKindDeposit, TransactionKindWithdrawal, TransactionKindBonus, TransactionKindCredit:
		return true
	}
	return false
}

// Terminal reports whether no further status transition is allowed.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusSuccessful || s == TransactionStatusFailed ||
		s == TransactionStatusCanceled || s == TransactionStatusRejected
}
