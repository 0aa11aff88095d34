// Package config holds the open cost parameters of the execution engine.
//
// The original source marks several of these values with TODO comments
// (BN254_ECADD_NATIVE_COST, MODEXP_WORST_CASE_NATIVE_PER_GAS,
// L1_TX_NATIVE_PRICE, ...). Rather than bake them in as constants, they are
// fields on Costs so an operator can tune them without a rebuild.
package config

// Costs is the full set of tunable ergs/native parameters used across the
// bootloader, IO subsystem, and EVM interpreter.
type Costs struct {
	// ErgsPerGas is the fixed EVM-gas to ergs conversion rate.
	ErgsPerGas uint64

	// Intrinsic transaction costs, in ergs.
	L2TxBaseErgs        uint64
	L1TxBaseErgs        uint64
	DeploymentExtraErgs uint64
	CalldataZeroErgs    uint64
	CalldataNonZeroErgs uint64

	// Native overhead per transaction class.
	L1TxNativeOverhead uint64
	L2TxNativeOverhead uint64

	// UpgradeTxNativePerGasMultiplier scales native cost for upgrade
	// transactions above the L1 rate (spec: 10x).
	UpgradeTxNativePerGasMultiplier uint64

	// Storage access costs, in ergs.
	ColdStorageReadErgs  uint64
	WarmStorageReadErgs  uint64
	ColdStorageWriteExtraErgs uint64

	// Storage access costs, native units.
	ColdStorageReadNativeNewSlot      uint64
	ColdStorageReadNativeExistingSlot uint64
	ColdStorageWriteNative            uint64

	// Transient storage, flat cost.
	TransientAccessErgs uint64

	// Account property access, in ergs (address warm/cold, per EIP-2929).
	ColdAccountAccessErgs uint64
	WarmAccountAccessErgs uint64

	// Bytecode pre-analysis, native per byte.
	BytecodePreprocessNativePerByte uint64

	// System function worst-case costs used when a precise per-input
	// formula isn't pinned by the spec.
	ModExpWorstCaseNativePerGas uint64
	Bn254EcaddErgs              uint64
	Bn254EcaddNativeCost        uint64
	Bn254EcmulErgs              uint64
	Bn254EcmulNativeCost        uint64
	Bn254PairingNativeBase      uint64
	Bn254PairingNativePerPair   uint64
	Bn254PairingBaseErgs        uint64
	Bn254PairingPerPairErgs     uint64

	// Remaining system function costs (spec §4.4): static + per-word ergs,
	// plus a native cost per word (or a flat native cost for asymmetric
	// primitives whose circuit cost doesn't scale with input length).
	EcrecoverErgs          uint64
	EcrecoverNative        uint64
	Sha256BaseErgs         uint64
	Sha256PerWordErgs      uint64
	Sha256NativePerWord    uint64
	Ripemd160BaseErgs      uint64
	Ripemd160PerWordErgs   uint64
	Ripemd160NativePerWord uint64
	IdentityBaseErgs       uint64
	IdentityPerWordErgs    uint64
	IdentityNativePerWord  uint64
	P256VerifyErgs         uint64
	P256VerifyNative       uint64

	// L1TxNativePrice is the native-resource price of servicing one unit of
	// L1 transaction gas (distinct from L2TxNativeOverhead, which is a flat
	// per-tx charge).
	L1TxNativePrice uint64

	// NativeBudgetPerTx is the prover-complexity ceiling every transaction
	// is granted before its class-specific native overhead (L1/L2/upgrade)
	// is deducted. Spec §9 flags the overhead constants as open
	// configuration; this ceiling is the ceiling they're deducted from.
	NativeBudgetPerTx uint64

	// EVM interpreter costs (spec §4.10).
	MemoryNativePerWord       uint64
	Keccak256BaseErgs         uint64
	Keccak256PerWordErgs      uint64
	Keccak256NativePerWord    uint64
	CallNativeOverhead        uint64
	CreateNativeOverhead      uint64
	CallStipendErgs           uint64
	CallValueTransferErgs     uint64
	CallNewAccountErgs        uint64
	LogBaseErgs               uint64
	LogTopicErgs              uint64
	LogDataErgs               uint64
	CreateBaseErgs            uint64
	CodeDepositErgsPerByte    uint64
}

// Default returns Ethereum-equivalent defaults for every cost parameter.
// Every value here is intentionally a plain field, not a const: callers are
// expected to override fields for their deployment.
func Default() Costs {
	return Costs{
		ErgsPerGas: 256,

		L2TxBaseErgs:        18_000 * 256,
		L1TxBaseErgs:        11_000 * 256,
		DeploymentExtraErgs: 32_000 * 256,
		CalldataZeroErgs:    4 * 256,
		CalldataNonZeroErgs: 16 * 256,

		L1TxNativeOverhead: 10_000,
		L2TxNativeOverhead: 4_000,

		UpgradeTxNativePerGasMultiplier: 10,

		ColdStorageReadErgs:       2100,
		WarmStorageReadErgs:       100,
		ColdStorageWriteExtraErgs: 100,

		ColdStorageReadNativeNewSlot:      50,
		ColdStorageReadNativeExistingSlot: 30,
		ColdStorageWriteNative:            40,

		TransientAccessErgs: 100,

		ColdAccountAccessErgs: 2600,
		WarmAccountAccessErgs: 100,

		BytecodePreprocessNativePerByte: 1,

		ModExpWorstCaseNativePerGas: 1,
		Bn254EcaddErgs:              150,
		Bn254EcaddNativeCost:        20,
		Bn254EcmulErgs:              6000,
		Bn254EcmulNativeCost:        40,
		Bn254PairingNativeBase:      100,
		Bn254PairingNativePerPair:   60,
		Bn254PairingBaseErgs:        45000,
		Bn254PairingPerPairErgs:     34000,

		EcrecoverErgs:          3000,
		EcrecoverNative:        300,
		Sha256BaseErgs:         60,
		Sha256PerWordErgs:      12,
		Sha256NativePerWord:    4,
		Ripemd160BaseErgs:      600,
		Ripemd160PerWordErgs:   120,
		Ripemd160NativePerWord: 6,
		IdentityBaseErgs:       15,
		IdentityPerWordErgs:    3,
		IdentityNativePerWord:  1,
		P256VerifyErgs:         3450,
		P256VerifyNative:       200,

		L1TxNativePrice: 1,

		NativeBudgetPerTx: 10_000_000,

		MemoryNativePerWord:    1,
		Keccak256BaseErgs:      30 * 256,
		Keccak256PerWordErgs:   6 * 256,
		Keccak256NativePerWord: 4,
		CallNativeOverhead:     200,
		CreateNativeOverhead:   500,
		CallStipendErgs:        2300 * 256,
		CallValueTransferErgs:  9000 * 256,
		CallNewAccountErgs:     25000 * 256,
		LogBaseErgs:            375 * 256,
		LogTopicErgs:           375 * 256,
		LogDataErgs:            8 * 256,
		CreateBaseErgs:         32000 * 256,
		CodeDepositErgsPerByte: 200 * 256,
	}
}
