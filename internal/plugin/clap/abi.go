//go:build darwin || linux

package clap

// C layouts of the CLAP 1.x structs the adapter touches. Pointers are
// uintptr; offsets match the C ABI of 64-bit darwin and linux.

type clapVersion struct {
	Major, Minor, Revision uint32
}

var hostClapVersion = clapVersion{Major: 1, Minor: 2, Revision: 0}

type clapPluginEntry struct {
	Version    clapVersion
	_          uint32
	Init       uintptr
	Deinit     uintptr
	GetFactory uintptr
}

type clapPluginFactory struct {
	GetPluginCount      uintptr
	GetPluginDescriptor uintptr
	CreatePlugin        uintptr
}

type clapPluginDescriptor struct {
	Version     clapVersion
	_           uint32
	ID          uintptr
	Name        uintptr
	Vendor      uintptr
	URL         uintptr
	ManualURL   uintptr
	SupportURL  uintptr
	VersionStr  uintptr
	Description uintptr
	Features    uintptr
}

type clapHost struct {
	Version         clapVersion
	_               uint32
	HostData        uintptr
	Name            uintptr
	Vendor          uintptr
	URL             uintptr
	VersionStr      uintptr
	GetExtension    uintptr
	RequestRestart  uintptr
	RequestProcess  uintptr
	RequestCallback uintptr
}

type clapPlugin struct {
	Desc            uintptr
	PluginData      uintptr
	Init            uintptr
	Destroy         uintptr
	Activate        uintptr
	Deactivate      uintptr
	StartProcessing uintptr
	StopProcessing  uintptr
	Reset           uintptr
	Process         uintptr
	GetExtension    uintptr
	OnMainThread    uintptr
}

type clapProcess struct {
	SteadyTime        int64
	FramesCount       uint32
	_                 uint32
	Transport         uintptr
	AudioInputs       uintptr
	AudioOutputs      uintptr
	AudioInputsCount  uint32
	AudioOutputsCount uint32
	InEvents          uintptr
	OutEvents         uintptr
}

type clapAudioBuffer struct {
	Data32       uintptr
	Data64       uintptr
	ChannelCount uint32
	Latency      uint32
	ConstantMask uint64
}

type clapInputEvents struct {
	Ctx  uintptr
	Size uintptr
	Get  uintptr
}

type clapOutputEvents struct {
	Ctx     uintptr
	TryPush uintptr
}

type clapEventHeader struct {
	Size    uint32
	Time    uint32
	SpaceID uint16
	Type    uint16
	Flags   uint32
}

type clapEventNote struct {
	Header    clapEventHeader
	NoteID    int32
	PortIndex int16
	Channel   int16
	Key       int16
	Velocity  float64
}

type clapEventParamValue struct {
	Header    clapEventHeader
	ParamID   uint32
	Cookie    uintptr
	NoteID    int32
	PortIndex int16
	Channel   int16
	Key       int16
	Value     float64
}

type clapEventParamGesture struct {
	Header  clapEventHeader
	ParamID uint32
}

type clapEventTransport struct {
	Header           clapEventHeader
	Flags            uint32
	SongPosBeats     int64
	SongPosSeconds   int64
	Tempo            float64
	TempoInc         float64
	LoopStartBeats   int64
	LoopEndBeats     int64
	LoopStartSeconds int64
	LoopEndSeconds   int64
	BarStart         int64
	BarNumber        int32
	TSigNum          uint16
	TSigDenom        uint16
}

type clapAudioPortInfo struct {
	ID           uint32
	Name         [256]byte
	Flags        uint32
	ChannelCount uint32
	PortType     uintptr
	InPlacePair  uint32
}

type clapNotePortInfo struct {
	ID                uint32
	SupportedDialects uint32
	PreferredDialect  uint32
	Name              [256]byte
}

type clapParamInfo struct {
	ID           uint32
	Flags        uint32
	Cookie       uintptr
	Name         [256]byte
	Module       [1024]byte
	MinValue     float64
	MaxValue     float64
	DefaultValue float64
}

type clapOStream struct {
	Ctx   uintptr
	Write uintptr
}

type clapIStream struct {
	Ctx  uintptr
	Read uintptr
}

// Plugin extensions.

type clapPluginAudioPorts struct {
	Count uintptr
	Get   uintptr
}

type clapPluginNotePorts struct {
	Count uintptr
	Get   uintptr
}

type clapPluginParams struct {
	Count       uintptr
	GetInfo     uintptr
	GetValue    uintptr
	ValueToText uintptr
	TextToValue uintptr
	Flush       uintptr
}

type clapPluginLatency struct {
	Get uintptr
}

type clapPluginState struct {
	Save uintptr
	Load uintptr
}

type clapPluginGUI struct {
	IsAPISupported uintptr
	// The remaining entries are not called by the engine core.
	_ [14]uintptr
}

type clapPluginTimerSupport struct {
	OnTimer uintptr
}

// Host extensions.

type clapHostLog struct {
	Log uintptr
}

type clapHostThreadCheck struct {
	IsMainThread  uintptr
	IsAudioThread uintptr
}

type clapHostParams struct {
	Rescan       uintptr
	Clear        uintptr
	RequestFlush uintptr
}

type clapHostAudioPorts struct {
	IsRescanFlagSupported uintptr
	Rescan                uintptr
}

type clapHostNotePorts struct {
	SupportedDialects uintptr
	Rescan            uintptr
}

type clapHostLatency struct {
	Changed uintptr
}

type clapHostState struct {
	MarkDirty uintptr
}

type clapHostGUI struct {
	ResizeHintsChanged uintptr
	RequestResize      uintptr
	RequestShow        uintptr
	RequestHide        uintptr
	Closed             uintptr
}

type clapHostTimerSupport struct {
	RegisterTimer   uintptr
	UnregisterTimer uintptr
}

const (
	clapPluginFactoryID = "clap.plugin-factory"

	extAudioPorts   = "clap.audio-ports"
	extNotePorts    = "clap.note-ports"
	extParams       = "clap.params"
	extLatency      = "clap.latency"
	extState        = "clap.state"
	extGUI          = "clap.gui"
	extTimerSupport = "clap.timer-support"
	extLog          = "clap.log"
	extThreadCheck  = "clap.thread-check"

	coreEventSpace = 0

	eventNoteOn            = 0
	eventNoteOff           = 1
	eventNoteChoke         = 2
	eventNoteEnd           = 3
	eventParamValue        = 5
	eventParamMod          = 6
	eventParamGestureBegin = 7
	eventParamGestureEnd   = 8
	eventTransport         = 9

	processError              = 0
	processContinue           = 1
	processContinueIfNotQuiet = 2
	processTail               = 3
	processSleep              = 4

	audioPortIsMain         = 1 << 0
	audioPortSupports64Bits = 1 << 1

	noteDialectCLAP = 1 << 0

	invalidID = ^uint32(0)

	transportHasTempo         = 1 << 0
	transportHasBeatsTimeline = 1 << 1
	transportHasSecondsTime   = 1 << 2
	transportHasTimeSignature = 1 << 3
	transportIsPlaying        = 1 << 4
	transportIsLoopActive     = 1 << 6

	beatTimeFactor = 1 << 31
	secTimeFactor  = 1 << 31
)

// CLAP param info flags.
const (
	clapParamIsStepped       = 1 << 0
	clapParamIsPeriodic      = 1 << 1
	clapParamIsHidden        = 1 << 2
	clapParamIsReadonly      = 1 << 3
	clapParamIsBypass        = 1 << 4
	clapParamIsAutomatable   = 1 << 5
	clapParamIsModulatable   = 1 << 10
	clapParamRequiresProcess = 1 << 15
	clapParamIsEnum          = 1 << 16
)
