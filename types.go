package spendauth

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Network is a chain identifier in CAIP-2 format, e.g. "eip155:84532".
type Network string

// Parse splits the network into namespace and reference components
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.Split(string(n), ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// ChainID returns the numeric chain ID of an eip155 network.
func (n Network) ChainID() (*big.Int, error) {
	namespace, reference, err := n.Parse()
	if err != nil {
		return nil, err
	}
	if namespace != "eip155" {
		return nil, fmt.Errorf("unsupported network namespace: %s", namespace)
	}
	id, ok := new(big.Int).SetString(reference, 10)
	if !ok || id.Sign() <= 0 {
		return nil, fmt.Errorf("invalid chain id: %s", reference)
	}
	return id, nil
}

// NetworkFor returns the eip155 network for chainID.
func NetworkFor(chainID *big.Int) Network {
	return Network("eip155:" + chainID.String())
}

// Known chain IDs.
var (
	ChainIDBase        = big.NewInt(8453)
	ChainIDBaseSepolia = big.NewInt(84532)
)

// Receipt is returned by the verifier for an accepted redemption or call batch.
type Receipt struct {
	ID          string    `json:"id"`
	TxHash      string    `json:"txHash,omitempty"`
	Status      uint64    `json:"status"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Receipt statuses, matching transaction receipt status values.
const (
	ReceiptStatusFailed  uint64 = 0
	ReceiptStatusSuccess uint64 = 1
)

// PermissionState is the lifecycle state of a spend permission.
type PermissionState string

const (
	PermissionDraft    PermissionState = "draft"
	PermissionSigned   PermissionState = "signed"
	PermissionRedeemed PermissionState = "redeemed"
	PermissionExpired  PermissionState = "expired"
	PermissionRevoked  PermissionState = "revoked"
)

// Terminal reports whether no further transition is possible.
func (s PermissionState) Terminal() bool {
	return s == PermissionExpired || s == PermissionRevoked
}

// SubAccountState is the resolution state of a session's delegated sub-account.
type SubAccountState string

const (
	SubAccountUnresolved SubAccountState = "unresolved"
	SubAccountReady      SubAccountState = "ready"
	SubAccountFallback   SubAccountState = "fallback"
)
