// Package zkerr defines the error taxonomy shared by the safe, proposal and proof packages.
package zkerr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind groups error codes by how a caller should react to them.
type Kind int

const (
	KindValidation Kind = iota
	KindNotFound
	KindConflict
	KindExternal
	KindInvariant
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindExternal:
		return "external"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Code identifies a specific failure. Two errors with the same code match under errors.Is.
type Code string

const (
	CodeInvalidInput         Code = "invalid_input"
	CodeInvalidThreshold     Code = "invalid_threshold"
	CodeInvalidProofData     Code = "invalid_proof_data"
	CodeSafeNotFound         Code = "safe_not_found"
	CodePolicyNotFound       Code = "policy_not_found"
	CodeProposalNotFound     Code = "proposal_not_found"
	CodeProofNotFound        Code = "proof_not_found"
	CodeDuplicateSafe        Code = "duplicate_safe"
	CodeDuplicateSignature   Code = "duplicate_signature"
	CodeDuplicateProof       Code = "duplicate_proof"
	CodeProposalMismatch     Code = "proposal_mismatch"
	CodeInsufficientProofs   Code = "insufficient_proofs"
	CodeMissingZkData        Code = "missing_zk_data"
	CodeNotReady             Code = "not_ready"
	CodeAlreadyDeployed      Code = "already_deployed"
	CodeDeploymentHalted     Code = "deployment_halted"
	CodeChainRead            Code = "chain_read_error"
	CodeChainWrite           Code = "chain_write_error"
	CodeProvingBackend       Code = "proving_backend_error"
	CodeExecutionReverted    Code = "execution_reverted"
	CodeEventFormat          Code = "event_format_error"
	CodeOwnerAddressMismatch Code = "owner_address_mismatch"
)

var kinds = map[Code]Kind{
	CodeInvalidInput:         KindValidation,
	CodeInvalidThreshold:     KindValidation,
	CodeInvalidProofData:     KindValidation,
	CodeSafeNotFound:         KindNotFound,
	CodePolicyNotFound:       KindNotFound,
	CodeProposalNotFound:     KindNotFound,
	CodeProofNotFound:        KindNotFound,
	CodeDuplicateSafe:        KindConflict,
	CodeDuplicateSignature:   KindConflict,
	CodeDuplicateProof:       KindConflict,
	CodeProposalMismatch:     KindConflict,
	CodeInsufficientProofs:   KindConflict,
	CodeMissingZkData:        KindConflict,
	CodeNotReady:             KindConflict,
	CodeAlreadyDeployed:      KindConflict,
	CodeDeploymentHalted:     KindConflict,
	CodeChainRead:            KindExternal,
	CodeChainWrite:           KindExternal,
	CodeProvingBackend:       KindExternal,
	CodeExecutionReverted:    KindExternal,
	CodeEventFormat:          KindInvariant,
	CodeOwnerAddressMismatch: KindInvariant,
}

// Sentinels for errors.Is matching.
var (
	ErrInvalidInput         = sentinel(CodeInvalidInput, "invalid input")
	ErrInvalidThreshold     = sentinel(CodeInvalidThreshold, "threshold must be at least 1")
	ErrInvalidProofData     = sentinel(CodeInvalidProofData, "invalid zk proof data")
	ErrSafeNotFound         = sentinel(CodeSafeNotFound, "safe not found")
	ErrPolicyNotFound       = sentinel(CodePolicyNotFound, "no safe matches the address")
	ErrProposalNotFound     = sentinel(CodeProposalNotFound, "proposal not found")
	ErrProofNotFound        = sentinel(CodeProofNotFound, "proof not found")
	ErrDuplicateSafe        = sentinel(CodeDuplicateSafe, "safe already exists for owner address")
	ErrDuplicateSignature   = sentinel(CodeDuplicateSignature, "signer already signed this safe")
	ErrDuplicateProof       = sentinel(CodeDuplicateProof, "proof already submitted")
	ErrProposalMismatch     = sentinel(CodeProposalMismatch, "proposal does not belong to the safe")
	ErrInsufficientProofs   = sentinel(CodeInsufficientProofs, "not enough proofs to aggregate")
	ErrMissingZkData        = sentinel(CodeMissingZkData, "proof has no zk data")
	ErrNotReady             = sentinel(CodeNotReady, "safe has fewer signatures than its threshold")
	ErrAlreadyDeployed      = sentinel(CodeAlreadyDeployed, "safe already deployed")
	ErrDeploymentHalted     = sentinel(CodeDeploymentHalted, "previous deployment attempt needs investigation")
	ErrChainRead            = sentinel(CodeChainRead, "chain read failed")
	ErrChainWrite           = sentinel(CodeChainWrite, "chain write failed")
	ErrProvingBackend       = sentinel(CodeProvingBackend, "proving backend failed")
	ErrExecutionReverted    = sentinel(CodeExecutionReverted, "transaction reverted")
	ErrEventFormat          = sentinel(CodeEventFormat, "deployment event missing or malformed")
	ErrOwnerAddressMismatch = sentinel(CodeOwnerAddressMismatch, "deployed owner differs from precomputed owner")
)

// Error is a classified failure carrying its cause and identifying context.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Cause   error
	Context map[string]any
}

func sentinel(code Code, message string) *Error {
	return &Error{Kind: kinds[code], Code: code, Message: message}
}

// New creates an error for code with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Kind:    kinds[code],
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Context: make(map[string]any),
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" [")
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
		b.WriteByte(']')
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithCause adds a cause error
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithContext adds context information
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the kind of err, or KindInvariant for unclassified errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInvariant
}

// CodeOf reports the code of err, or "" for unclassified errors.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}
