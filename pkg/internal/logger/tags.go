package logger

// Tag identifies the layer a log line comes from.
// Values are stable and index bits of a TagMask; new tags go before TagCount.
type Tag uint8

const (
	// System
	TagBoot Tag = iota
	TagSys

	// MCAL
	TagMcalMcu
	TagMcalPort
	TagMcalDio
	TagMcalGpt
	TagMcalIcu
	TagMcalAdc
	TagMcalPwm
	TagMcalCan
	TagMcalUart

	// ECU abstraction
	TagEcuPortIf
	TagEcuSensorIf
	TagEcuAdcIf
	TagEcuPwmIf
	TagEcuMotorIf
	TagEcuCanIf
	TagEcuUartIf

	// Services
	TagSrvEcuM
	TagSrvPduR
	TagSrvCom
	TagSrvDet
	TagSrvLogger

	TagRte

	// Application
	TagAppSensorSupervisor
	TagAppObstacleDetection
	TagAppPedalReader
	TagAppMotorControl

	TagSrvCanTp

	TagCount
)

var tagNames = [TagCount]string{
	"BOOT", "SYS",
	"MCAL.MCU", "MCAL.PORT", "MCAL.DIO", "MCAL.GPT", "MCAL.ICU", "MCAL.ADC", "MCAL.PWM", "MCAL.CAN", "MCAL.UART",
	"ECU.PortIf", "ECU.SensorIf", "ECU.AdcIf", "ECU.PwmIf", "ECU.MotorIf", "ECU.CanIf", "ECU.UartIf",
	"SRV.ECUM", "SRV.Pdur", "SRV.Com", "SRV.Det", "SRV.Logger",
	"RTE",
	"APP.SensorSupervisor", "APP.ObstacleDetection", "APP.PedalReader", "APP.MotorControl",
	"SRV.CanTp",
}

var tagAbbrevs = [TagCount]string{
	"BOOT", "SYS",
	"M.MCU", "M.PRT", "M.DIO", "M.GPT", "M.ICU", "M.ADC", "M.PWM", "M.CAN", "M.UAR",
	"E.PRT", "E.SNS", "E.ADC", "E.PWM", "E.MOT", "E.CIF", "E.UIF",
	"SRV.ECUM", "SRV.Pdur", "SRV.Com", "SRV.Det", "SRV.Logger",
	"RTE",
	"A.SSV", "A.OBS", "A.PDL", "A.MOT",
	"S.CTP",
}

// String returns the full tag name
func (t Tag) String() string {
	if t >= TagCount {
		return "UNKNOWN"
	}
	return tagNames[t]
}

// Abbrev returns the short tag label used as log prefix
func (t Tag) Abbrev() string {
	if t >= TagCount {
		return "UNK"
	}
	return tagAbbrevs[t]
}

// TagMask is a bit set of enabled tags
type TagMask uint64

const (
	TagMaskNone TagMask = 0
	TagMaskAll  TagMask = ^TagMask(0)
)

// Bit returns the mask bit of t
func (t Tag) Bit() TagMask {
	return TagMask(1) << t
}

// DefaultTagMask enables system, diagnostic and communication tags
var DefaultTagMask = TagBoot.Bit() | TagSys.Bit() |
	TagSrvEcuM.Bit() | TagSrvDet.Bit() | TagSrvLogger.Bit() |
	TagMcalCan.Bit() | TagMcalUart.Bit() |
	TagEcuCanIf.Bit() | TagEcuUartIf.Bit() |
	TagSrvCanTp.Bit()

// Enabled reports whether t is set in m
func (m TagMask) Enabled(t Tag) bool {
	return m&t.Bit() != 0
}

// ParseTagMask builds a mask from tag names or abbreviations.
// Unknown names are returned separately.
func ParseTagMask(names []string) (TagMask, []string) {
	var mask TagMask
	var unknown []string
	for _, name := range names {
		if name == "all" || name == "*" {
			mask = TagMaskAll
			continue
		}
		found := false
		for t := Tag(0); t < TagCount; t++ {
			if name == t.String() || name == t.Abbrev() {
				mask |= t.Bit()
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, name)
		}
	}
	return mask, unknown
}

// TaggedLogger prefixes every line with a tag label and drops lines whose
// tag is disabled by the mask
type TaggedLogger struct {
	next    Logger
	tag     Tag
	prefix  string
	enabled bool
}

// Tagged wraps l for the given tag
func Tagged(l Logger, tag Tag, mask TagMask) *TaggedLogger {
	if l == nil {
		l = NewNoOpLogger()
	}
	return &TaggedLogger{
		next:    l,
		tag:     tag,
		prefix:  "[" + tag.Abbrev() + "] ",
		enabled: mask.Enabled(tag),
	}
}

// Tag returns the tag of the logger
func (l *TaggedLogger) Tag() Tag {
	return l.tag
}

// Debug logs debug message
func (l *TaggedLogger) Debug(format string, args ...interface{}) {
	if l.enabled {
		l.next.Debug(l.prefix+format, args...)
	}
}

// Info logs info message
func (l *TaggedLogger) Info(format string, args ...interface{}) {
	if l.enabled {
		l.next.Info(l.prefix+format, args...)
	}
}

// Warn logs warning message
func (l *TaggedLogger) Warn(format string, args ...interface{}) {
	if l.enabled {
		l.next.Warn(l.prefix+format, args...)
	}
}

// Error logs error message. Errors pass regardless of the mask.
func (l *TaggedLogger) Error(format string, args ...interface{}) {
	l.next.Error(l.prefix+format, args...)
}

// SetLevel sets the level of the wrapped logger
func (l *TaggedLogger) SetLevel(level Level) {
	l.next.SetLevel(level)
}
