package services

import "time"

const (
	KeyWallet           = "wallet:%d"
	KeyUserActiveDice   = "user:%d:active_dice"
	KeyUserSettlements  = "user:%d:settlements"
	KeyDice             = "dice:%s"
	KeyDiceLock         = "dice:%s:lock"
	KeySettlement       = "settlement:%s"
	KeyCase             = "case:%s"
	KeyItem             = "item:%s"
	KeyEventChannelUser = "%s%d"

	// Settlements are audit records and are kept forever; the per-user index
	// is trimmed.
	MaxUserSettlementHistory = 500

	DefaultLockTTL = 5 * time.Second
)
