// internal/workers/contract/execute-contract/models.go
package executecontract

import "settlement-engine/internal/contracts"

type Input struct {
	ContractID string `json:"contractId"`
	Attempt    int    `json:"attempt"`
}

type Output struct {
	ContractID string            `json:"contractId"`
	Outcome    contracts.Outcome `json:"outcome"`
}
