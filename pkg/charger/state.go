package charger

// State is a step of the charge or discharge state machine.
type State string

const (
	StateIdle            State = "Idle"
	StatePrecharge       State = "Precharge"
	StateConstantCurrent State = "ConstantCurrent"
	StateConstantVoltage State = "ConstantVoltage"
	StateDischarge       State = "Discharge"
	StateDone            State = "Done"
)

// taperRatio is the fraction of the constant current below which the
// battery is considered to be tapering.
const taperRatio = 0.95
