package manifest

// StepKind is the tag of a Step (spec §3). The set below is closed —
// dispatch in the executor is a match over Kind, never open
// polymorphism, so a new kind requires matching protocol work and a
// deliberate decision to wire it in.
type StepKind string

const (
	KindBulkCmd           StepKind = "bulkcmd"
	KindRun               StepKind = "run"
	KindWriteSimpleMemory StepKind = "writeSimpleMemory"
	KindWriteLargeMemory  StepKind = "writeLargeMemory"
	KindWriteAMLCData     StepKind = "writeAMLCData"
	KindBL2Boot           StepKind = "bl2Boot"
	KindRestorePartition  StepKind = "restorePartition"
	KindWriteEnv          StepKind = "writeEnv"
	KindLog               StepKind = "log"
	KindWait              StepKind = "wait"

	// Parseable for forward compatibility but refused by the executor
	// (spec §3).
	KindIdentify              StepKind = "identify"
	KindBulkCmdStat           StepKind = "bulkcmdStat"
	KindReadSimpleMemory      StepKind = "readSimpleMemory"
	KindReadLargeMemory       StepKind = "readLargeMemory"
	KindGetBootAMLC           StepKind = "getBootAMLC"
	KindValidatePartitionSize StepKind = "validatePartitionSize"
)

// supportedKinds and unsupportedKinds partition the full set recognized
// by the parser; anything outside both fails to parse.
var supportedKinds = map[StepKind]bool{
	KindBulkCmd:           true,
	KindRun:               true,
	KindWriteSimpleMemory: true,
	KindWriteLargeMemory:  true,
	KindWriteAMLCData:     true,
	KindBL2Boot:           true,
	KindRestorePartition:  true,
	KindWriteEnv:          true,
	KindLog:               true,
	KindWait:              true,
}

var unsupportedKinds = map[StepKind]bool{
	KindIdentify:              true,
	KindBulkCmdStat:           true,
	KindReadSimpleMemory:      true,
	KindReadLargeMemory:       true,
	KindGetBootAMLC:           true,
	KindValidatePartitionSize: true,
}

// IsUnsupported reports whether kind parses but must fail at execution
// time with flasherr.Unsupported.
func (k StepKind) IsUnsupported() bool { return unsupportedKinds[k] }

func (k StepKind) isKnown() bool { return supportedKinds[k] || unsupportedKinds[k] }

// Step is the canonical tagged-variant sum type (spec §9: "do not model
// it with open polymorphism"). Payload holds exactly one of the
// Kind*Payload structs below, chosen by Kind.
type Step struct {
	Kind    StepKind
	Payload any
}

// Payload shapes, one per supported Kind.

type BulkCmdPayload struct {
	Command string `json:"command"`
}

type RunPayload struct {
	Address   FlexUint `json:"address"`
	KeepPower bool     `json:"keepPower"`
}

type WriteSimpleMemoryPayload struct {
	Address FlexUint   `json:"address"`
	Data    DataOrFile `json:"data"`
}

type WriteLargeMemoryPayload struct {
	Address     FlexUint   `json:"address"`
	Data        DataOrFile `json:"data"`
	BlockLength FlexUint   `json:"blockLength"`
	AppendZeros bool       `json:"appendZeros"`
}

type WriteAMLCDataPayload struct {
	Seq        FlexUint   `json:"seq"`
	AMLCOffset FlexUint   `json:"amlcOffset"`
	Data       DataOrFile `json:"data"`
}

type BL2BootPayload struct {
	BL2        DataOrFile `json:"bl2"`
	Bootloader DataOrFile `json:"bootloader"`
}

type RestorePartitionPayload struct {
	Name string     `json:"name"`
	Data DataOrFile `json:"data"`
}

type WriteEnvPayload struct {
	Text StringOrFile `json:"text"`
}

type LogPayload struct {
	Message string `json:"message"`
}

// WaitKind is the sub-type of a wait step (spec §3's `{ type: "time",
// time: u32 }` and the parseable-but-unsupported `{type:"userInput"}`).
type WaitKind string

const (
	WaitTime      WaitKind = "time"
	WaitUserInput WaitKind = "userInput"
)

type WaitPayload struct {
	Type WaitKind `json:"type"`
	Time FlexUint `json:"time"`
}
