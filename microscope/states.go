package microscope

// StateID enumerates the microscope's procedure states.
type StateID int

const (
	// Unbound is returned by generic terminal states whose continuation is
	// supplied by the active context.
	Unbound StateID = iota

	Ready
	ReturnToReady

	ScanStep
	ScanWaitUntilMoved
	ScanCapture
	ScanWaitUntilCaptured
	ScanFinished

	OptimizationInit
	OptimizationInitSubStep
	OptimizationWait
	OptimizationStep
	OptimizationFinished

	Waiting
	WaitingFinished

	CharacterizationStep
	CharacterizationGotoEmitter
	CharacterizationOptimizationFinished
	CharacterizationFinished

	HBTGoto
	HBTBegin
	HBTWaitForInit
	HBTAcquiring
	HBTFinished
	CharacterizationHBTFinished

	SampleStep
	SampleFindEmitters
	SampleAdvanceCell
	SampleFinished
)

var stateNames = map[StateID]string{
	Unbound:                              "Unbound",
	Ready:                                "Ready",
	ReturnToReady:                        "ReturnToReady",
	ScanStep:                             "ScanStep",
	ScanWaitUntilMoved:                   "ScanWaitUntilMoved",
	ScanCapture:                          "ScanCapture",
	ScanWaitUntilCaptured:                "ScanWaitUntilCaptured",
	ScanFinished:                         "ScanFinished",
	OptimizationInit:                     "OptimizationInit",
	OptimizationInitSubStep:              "OptimizationInitSubStep",
	OptimizationWait:                     "OptimizationWait",
	OptimizationStep:                     "OptimizationStep",
	OptimizationFinished:                 "OptimizationFinished",
	Waiting:                              "Waiting",
	WaitingFinished:                      "WaitingFinished",
	CharacterizationStep:                 "CharacterizationStep",
	CharacterizationGotoEmitter:          "CharacterizationGotoEmitter",
	CharacterizationOptimizationFinished: "CharacterizationOptimizationFinished",
	CharacterizationFinished:             "CharacterizationFinished",
	HBTGoto:                              "HBTGoto",
	HBTBegin:                             "HBTBegin",
	HBTWaitForInit:                       "HBTWaitForInit",
	HBTAcquiring:                         "HBTAcquiring",
	HBTFinished:                          "HBTFinished",
	CharacterizationHBTFinished:          "CharacterizationHBTFinished",
	SampleStep:                           "SampleStep",
	SampleFindEmitters:                   "SampleFindEmitters",
	SampleAdvanceCell:                    "SampleAdvanceCell",
	SampleFinished:                       "SampleFinished",
}

func (s StateID) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "StateID(?)"
}
