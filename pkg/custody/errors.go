package custody

import "errors"

// Kind classifies a custody error for callers that map failures to responses.
type Kind string

const (
	KindUnknown       Kind = "UNKNOWN"
	KindAuthorization Kind = "AUTHORIZATION"
	KindCapacity      Kind = "CAPACITY"
	KindState         Kind = "STATE"
	KindConsensus     Kind = "CONSENSUS"
	KindFunds         Kind = "FUNDS"
	KindIntegrity     Kind = "INTEGRITY"
)

// Error is a typed custody failure. Every error returned by the core either is
// one of the sentinels below or wraps one.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	base *Error
}

func (e *Error) Error() string {
	return e.Msg
}

// Is lets a specialised error (ErrMaxVaults) match its general form (ErrHitLimit).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e == t || (e.base != nil && e.base == t)
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

func specialise(base *Error, code, msg string) *Error {
	return &Error{Kind: base.Kind, Code: code, Msg: msg, base: base}
}

// Authorization
var ErrNotAuthorized = newError(KindAuthorization, "NotAuthorized", "not authorized")

// Capacity
var (
	ErrHitLimit  = newError(KindCapacity, "HitLimit", "hit limit")
	ErrMaxVaults = specialise(ErrHitLimit, "MaxVaults", "max vaults reached")
	ErrMaxAutos  = specialise(ErrHitLimit, "MaxAutos", "max automations reached")
)

// State
var (
	ErrVaultLocked       = newError(KindState, "VaultLocked", "vault is locked")
	ErrAutomationLocked  = newError(KindState, "AutomationLocked", "automation is active and cannot be changed")
	ErrInvalidVault      = newError(KindState, "InvalidVault", "invalid vault")
	ErrInvalidAutomation = newError(KindState, "InvalidAutomation", "invalid automation")
	ErrInvalidAction     = newError(KindState, "InvalidAction", "invalid action")
	ErrInvalidTrigger    = newError(KindState, "InvalidTrigger", "invalid trigger")
	ErrInvalidName       = newError(KindState, "InvalidName", "invalid name")
	ErrInvalidTreasury   = newError(KindState, "InvalidStacheId", "invalid treasury")
	ErrTreasuryNotEmpty  = newError(KindState, "TreasuryNotEmpty", "treasury still owns vaults or automations")
)

// Consensus
var ErrAlreadyApproved = newError(KindConsensus, "AlreadyApproved", "already approved")

// Funds
var ErrInsufficientFunds = newError(KindFunds, "InsufficientFunds", "insufficient funds")

// Integrity
var (
	ErrDupeAccount              = newError(KindIntegrity, "DupeAccount", "duplicate account")
	ErrNonMatchingTokenAccounts = newError(KindIntegrity, "NonMatchingTokenAccounts", "token accounts do not match")
	ErrTokenAccountsMismatch    = newError(KindIntegrity, "TokenAccountsMismatch", "token accounts mismatch recorded payload")
)

// KindOf returns the kind of the first custody error in err's chain.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// CodeOf returns the stable code of the first custody error in err's chain, or "".
func CodeOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
