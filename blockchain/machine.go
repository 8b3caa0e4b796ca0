package blockchain

// Event drives the blockchain state machine.
type Event int

const (
	EventStart Event = iota
	EventStarted
	EventStop
	EventRollback
	EventSuccess
	EventFailure
	EventNetworkStart
	EventSynced
	EventNotSynced
	EventPaused
	EventNetworkHalted
	EventDownloaded
	EventNoBlock
	EventProcessFinished
	EventSyncFinished
	EventWakeUp
	EventNewBlock
	EventFork
	EventTest
)

var eventNames = [...]string{
	EventStart:           "START",
	EventStarted:         "STARTED",
	EventStop:            "STOP",
	EventRollback:        "ROLLBACK",
	EventSuccess:         "SUCCESS",
	EventFailure:         "FAILURE",
	EventNetworkStart:    "NETWORKSTART",
	EventSynced:          "SYNCED",
	EventNotSynced:       "NOTSYNCED",
	EventPaused:          "PAUSED",
	EventNetworkHalted:   "NETWORKHALTED",
	EventDownloaded:      "DOWNLOADED",
	EventNoBlock:         "NOBLOCK",
	EventProcessFinished: "PROCESSFINISHED",
	EventSyncFinished:    "SYNCFINISHED",
	EventWakeUp:          "WAKEUP",
	EventNewBlock:        "NEWBLOCK",
	EventFork:            "FORK",
	EventTest:            "TEST",
}

func (e Event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return "UNKNOWN"
}

// State is a node of the blockchain state machine.
type State int

const (
	StateUninitialised State = iota
	StateInit
	StateRollback
	StateSyncing
	StateDownloadBlocks
	StateDownloadFinished
	StateDownloadPaused
	StateProcessFinished
	StateSyncEnd
	StateIdle
	StateProcessingBlock
	StateFork
	StateStopped
	StateExit
)

var stateNames = [...]string{
	StateUninitialised:    "uninitialised",
	StateInit:             "init",
	StateRollback:         "rollback",
	StateSyncing:          "syncing",
	StateDownloadBlocks:   "downloadBlocks",
	StateDownloadFinished: "downloadFinished",
	StateDownloadPaused:   "downloadPaused",
	StateProcessFinished:  "processFinished",
	StateSyncEnd:          "syncEnd",
	StateIdle:             "idle",
	StateProcessingBlock:  "processingBlock",
	StateFork:             "fork",
	StateStopped:          "stopped",
	StateExit:             "exit",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// IsSyncing reports whether s is one of the network synchronisation states.
func (s State) IsSyncing() bool {
	switch s {
	case StateSyncing, StateDownloadBlocks, StateDownloadFinished, StateDownloadPaused, StateProcessFinished, StateSyncEnd:
		return true
	}
	return false
}

type transitions map[Event]State

var machine = map[State]transitions{
	StateUninitialised: {
		EventStart: StateInit,
	},
	StateInit: {
		EventNetworkStart: StateIdle,
		EventStarted:      StateSyncing,
		EventRollback:     StateRollback,
		EventFailure:      StateExit,
		EventStop:         StateStopped,
	},
	StateRollback: {
		EventSuccess: StateInit,
		EventFailure: StateExit,
		EventStop:    StateStopped,
	},
	StateSyncing: {
		EventSynced:        StateDownloadFinished,
		EventNotSynced:     StateDownloadBlocks,
		EventPaused:        StateDownloadPaused,
		EventNetworkHalted: StateSyncEnd,
	},
	StateDownloadBlocks: {
		EventDownloaded: StateSyncing,
		EventNoBlock:    StateSyncing,
		EventPaused:     StateDownloadPaused,
	},
	StateDownloadFinished: {
		EventProcessFinished: StateProcessFinished,
	},
	StateDownloadPaused: {
		EventProcessFinished: StateProcessFinished,
	},
	StateProcessFinished: {
		EventSynced:    StateSyncEnd,
		EventNotSynced: StateSyncing,
	},
	StateSyncEnd: {},
	StateIdle: {
		EventWakeUp:   StateSyncing,
		EventNewBlock: StateProcessingBlock,
		EventStop:     StateStopped,
	},
	StateProcessingBlock: {
		EventSuccess: StateIdle,
		EventFailure: StateIdle,
		EventFork:    StateFork,
		EventStop:    StateStopped,
	},
	StateFork: {
		EventSuccess: StateSyncing,
		EventFailure: StateExit,
		EventStop:    StateStopped,
	},
	StateStopped: {},
	StateExit:    {},
}

// transitions shared by every synchronisation state
var syncing = transitions{
	EventFork:         StateFork,
	EventSyncFinished: StateIdle,
	EventTest:         StateIdle,
	EventStop:         StateStopped,
}

// Transition returns the state reached from s on e. False means e is not
// handled in s and the machine stays where it is.
func Transition(s State, e Event) (State, bool) {
	if next, ok := machine[s][e]; ok {
		return next, true
	}
	if s.IsSyncing() {
		if next, ok := syncing[e]; ok {
			return next, true
		}
	}
	return s, false
}
