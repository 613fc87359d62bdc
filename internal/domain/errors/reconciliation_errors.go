package errors

import "errors"

// Sentinel errors specific to the reconciliation pipeline. Wrapped with
// fmt.Errorf("...: %w", ...) at call sites and unwrapped with errors.Is.
var (
	// ErrConfigMissingContractID is returned at startup when
	// SNAPSHOT_CONTRACT_ID is unset. Fatal: the listener refuses to start.
	ErrConfigMissingContractID = errors.New("SNAPSHOT_CONTRACT_ID is required")

	// ErrSnapshotNotFound indicates the backend has not yet produced a
	// snapshot for the requested epoch.
	ErrSnapshotNotFound = errors.New("backend snapshot not found for epoch")

	// ErrEventNotFound indicates no contract event exists for the given id.
	ErrEventNotFound = errors.New("contract event not found")

	// RPC Client error categories.
	ErrRPCTransport = errors.New("rpc transport error")
	ErrRPCProtocol  = errors.New("rpc protocol error")
	ErrRPCServer    = errors.New("rpc error object returned by server")
	ErrRPCDecode    = errors.New("rpc response decode error")
)

// ShouldRetry classifies whether an error from the reconciliation pipeline
// is worth a retry. Transport and protocol errors are transient; decode
// errors and RPC error objects are not (the RPC client already distinguishes
// "not found" RPC errors from genuine errors before this is consulted).
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRPCTransport) || errors.Is(err, ErrRPCProtocol)
}
