package evm

import (
	"github.com/zkrollup/zkos/config"
	"github.com/zkrollup/zkos/resources"
)

// Gas tiers per Yellow Paper Appendix G, expressed in plain EVM-gas units.
// Converted to ergs via costs.ErgsPerGas at charge time (adapted from the
// teacher's core/vm/gas.go constant block).
const (
	gasZero    uint64 = 0
	gasBase    uint64 = 2
	gasVerylow uint64 = 3
	gasLow     uint64 = 5
	gasMid     uint64 = 8
	gasHigh    uint64 = 10
	gasExt     uint64 = 20

	gasJumpdest uint64 = 1
	gasExp      uint64 = 10
	gasExpByte  uint64 = 50

	gasLogBase  uint64 = 375
	gasLogTopic uint64 = 375
	gasLogData  uint64 = 8

	gasSelfdestruct uint64 = 5000
)

// ergs converts a plain gas amount into ergs at the configured rate.
func ergs(c config.Costs, gas uint64) resources.Ergs {
	return resources.Ergs(gas * c.ErgsPerGas)
}

func tierCost(c config.Costs, gas uint64) resources.Cost {
	return resources.Cost{Ergs: ergs(c, gas)}
}
