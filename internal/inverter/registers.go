package inverter

import (
	"fmt"
	"sort"
)

// Register codes. Values are the keys of the command table, not protocol
// addresses; the protocol addresses registers by mnemonic.
const (
	CodeAddress             = 0
	CodeType                = 1
	CodeSoftwareVersion     = 2
	CodeDateDay             = 3
	CodeDateMonth           = 4
	CodeDateYear            = 5
	CodeTimeHours           = 6
	CodeTimeMinutes         = 7
	CodeError1Number        = 8
	CodeError1Day           = 9
	CodeError1Month         = 10
	CodeError1Hour          = 11
	CodeError1Minute        = 12
	CodeError2Number        = 13
	CodeError2Day           = 14
	CodeError2Month         = 15
	CodeError2Hour          = 16
	CodeError2Minute        = 17
	CodeError3Number        = 18
	CodeError3Day           = 19
	CodeError3Month         = 20
	CodeError3Hour          = 21
	CodeError3Minute        = 22
	CodeOperatingHours      = 23
	CodeEnergyToday         = 24
	CodeEnergyYesterday     = 25
	CodeEnergyThisMonth     = 26
	CodeEnergyLastMonth     = 27
	CodeEnergyThisYear      = 28
	CodeEnergyLastYear      = 29
	CodeEnergyTotal         = 30
	CodeLanguage            = 31
	CodeDCVoltage           = 32
	CodeACVoltage           = 33
	CodeDCCurrent           = 34
	CodeACCurrent           = 35
	CodeACPower             = 36
	CodePowerInstalled      = 37
	CodeLoadPercent         = 38
	CodeStartups            = 39
	CodeFRD                 = 40
	CodeSCD                 = 41
	CodeSE1                 = 42
	CodeSE2                 = 43
	CodeSPR                 = 44
	CodeHeatSinkTemperature = 45
	CodeACFrequency         = 46
	CodeOperationState      = 47
	CodeBuildNumber         = 48
	CodeErrorCode00         = 49
	CodeErrorCode01         = 50
	CodeErrorCode02         = 51
	CodeErrorCode03         = 52
	CodeErrorCode04         = 53
	CodeErrorCode05         = 54
	CodeErrorCode06         = 55
	CodeErrorCode07         = 56
	CodeErrorCode08         = 57
)

// Command describes one readable register.
type Command struct {
	Code        int    `json:"code"`
	Mnemonic    string `json:"mnemonic"`
	Description string `json:"description"`
	Unit        string `json:"unit,omitempty"`
	Scale       Scale  `json:"scale"`
	// Unverified marks registers whose meaning was never confirmed
	// against device documentation.
	Unverified bool `json:"unverified,omitempty"`
}

// Decode converts the raw hex payload of a response for this command.
func (c Command) Decode(raw string) (Value, error) {
	return c.Scale.Decode(raw)
}

var commands = map[int]Command{
	CodeAddress:             {Code: CodeAddress, Mnemonic: "ADR", Description: "Address", Scale: Int()},
	CodeType:                {Code: CodeType, Mnemonic: "TYP", Description: "Type", Scale: Tag()},
	CodeSoftwareVersion:     {Code: CodeSoftwareVersion, Mnemonic: "SWV", Description: "Software version", Scale: Tenth()},
	CodeDateDay:             {Code: CodeDateDay, Mnemonic: "DDY", Description: "Date day", Scale: Int()},
	CodeDateMonth:           {Code: CodeDateMonth, Mnemonic: "DMT", Description: "Date month", Scale: Int()},
	CodeDateYear:            {Code: CodeDateYear, Mnemonic: "DYR", Description: "Date year", Scale: Int()},
	CodeTimeHours:           {Code: CodeTimeHours, Mnemonic: "THR", Description: "Time hours", Scale: Int()},
	CodeTimeMinutes:         {Code: CodeTimeMinutes, Mnemonic: "TMI", Description: "Time minutes", Scale: Int()},
	CodeError1Number:        {Code: CodeError1Number, Mnemonic: "E11", Description: "???Error 1, number???", Scale: Int(), Unverified: true},
	CodeError1Day:           {Code: CodeError1Day, Mnemonic: "E1D", Description: "???Error 1, day???", Scale: Int(), Unverified: true},
	CodeError1Month:         {Code: CodeError1Month, Mnemonic: "E1M", Description: "???Error 1, month???", Scale: Int(), Unverified: true},
	CodeError1Hour:          {Code: CodeError1Hour, Mnemonic: "E1h", Description: "???Error 1, hour???", Scale: Int(), Unverified: true},
	CodeError1Minute:        {Code: CodeError1Minute, Mnemonic: "E1m", Description: "???Error 1, minute???", Scale: Int(), Unverified: true},
	CodeError2Number:        {Code: CodeError2Number, Mnemonic: "E21", Description: "???Error 2, number???", Scale: Int(), Unverified: true},
	CodeError2Day:           {Code: CodeError2Day, Mnemonic: "E2D", Description: "???Error 2, day???", Scale: Int(), Unverified: true},
	CodeError2Month:         {Code: CodeError2Month, Mnemonic: "E2M", Description: "???Error 2, month???", Scale: Int(), Unverified: true},
	CodeError2Hour:          {Code: CodeError2Hour, Mnemonic: "E2h", Description: "???Error 2, hour???", Scale: Int(), Unverified: true},
	CodeError2Minute:        {Code: CodeError2Minute, Mnemonic: "E2m", Description: "???Error 2, minute???", Scale: Int(), Unverified: true},
	CodeError3Number:        {Code: CodeError3Number, Mnemonic: "E31", Description: "???Error 3, number???", Scale: Int(), Unverified: true},
	CodeError3Day:           {Code: CodeError3Day, Mnemonic: "E3D", Description: "???Error 3, day???", Scale: Int(), Unverified: true},
	CodeError3Month:         {Code: CodeError3Month, Mnemonic: "E3M", Description: "???Error 3, month???", Scale: Int(), Unverified: true},
	CodeError3Hour:          {Code: CodeError3Hour, Mnemonic: "E3h", Description: "???Error 3, hour???", Scale: Int(), Unverified: true},
	CodeError3Minute:        {Code: CodeError3Minute, Mnemonic: "E3m", Description: "???Error 3, minute???", Scale: Int(), Unverified: true},
	CodeOperatingHours:      {Code: CodeOperatingHours, Mnemonic: "KHR", Description: "Operating hours", Scale: Int(), Unit: "h"},
	CodeEnergyToday:         {Code: CodeEnergyToday, Mnemonic: "KDY", Description: "Energy today [Wh]", Scale: Times(100), Unit: "Wh"},
	CodeEnergyYesterday:     {Code: CodeEnergyYesterday, Mnemonic: "KLD", Description: "Energy yesterday [kWh]", Scale: Times(100), Unit: "kWh"},
	CodeEnergyThisMonth:     {Code: CodeEnergyThisMonth, Mnemonic: "KMT", Description: "Energy this month [kWh]", Scale: Int(), Unit: "kWh"},
	CodeEnergyLastMonth:     {Code: CodeEnergyLastMonth, Mnemonic: "KLM", Description: "Energy last monh [kWh]", Scale: Int(), Unit: "kWh"},
	CodeEnergyThisYear:      {Code: CodeEnergyThisYear, Mnemonic: "KYR", Description: "Energy this year [kWh]", Scale: Int(), Unit: "kWh"},
	CodeEnergyLastYear:      {Code: CodeEnergyLastYear, Mnemonic: "KLY", Description: "Energy last year [kWh]", Scale: Int(), Unit: "kWh"},
	CodeEnergyTotal:         {Code: CodeEnergyTotal, Mnemonic: "KT0", Description: "Energy total [kWh]", Scale: Int(), Unit: "kWh"},
	CodeLanguage:            {Code: CodeLanguage, Mnemonic: "LAN", Description: "Language", Scale: Int()},
	CodeDCVoltage:           {Code: CodeDCVoltage, Mnemonic: "UDC", Description: "DC voltage [mV]", Scale: Times(100), Unit: "mV"},
	CodeACVoltage:           {Code: CodeACVoltage, Mnemonic: "UL1", Description: "AC voltage [mV]", Scale: Times(100), Unit: "mV"},
	CodeDCCurrent:           {Code: CodeDCCurrent, Mnemonic: "IDC", Description: "DC current [mA]", Scale: Times(10), Unit: "mA"},
	CodeACCurrent:           {Code: CodeACCurrent, Mnemonic: "IL1", Description: "AC current [mA]", Scale: Times(10), Unit: "mA"},
	CodeACPower:             {Code: CodeACPower, Mnemonic: "PAC", Description: "AC power [mW]", Scale: Times(500), Unit: "mW"},
	CodePowerInstalled:      {Code: CodePowerInstalled, Mnemonic: "PIN", Description: "Power installed [mW]", Scale: Times(500), Unit: "mW"},
	CodeLoadPercent:         {Code: CodeLoadPercent, Mnemonic: "PRL", Description: "AC power [%]", Scale: Int(), Unit: "%"},
	CodeStartups:            {Code: CodeStartups, Mnemonic: "CAC", Description: "Start ups", Scale: Int()},
	CodeFRD:                 {Code: CodeFRD, Mnemonic: "FRD", Description: "???", Scale: Tag(), Unverified: true},
	CodeSCD:                 {Code: CodeSCD, Mnemonic: "SCD", Description: "???", Scale: Tag(), Unverified: true},
	CodeSE1:                 {Code: CodeSE1, Mnemonic: "SE1", Description: "???", Scale: Tag(), Unverified: true},
	CodeSE2:                 {Code: CodeSE2, Mnemonic: "SE2", Description: "???", Scale: Tag(), Unverified: true},
	CodeSPR:                 {Code: CodeSPR, Mnemonic: "SPR", Description: "???", Scale: Tag(), Unverified: true},
	CodeHeatSinkTemperature: {Code: CodeHeatSinkTemperature, Mnemonic: "TKK", Description: "Temerature Heat Sink", Scale: Int(), Unit: "°C"},
	CodeACFrequency:         {Code: CodeACFrequency, Mnemonic: "TNF", Description: "AC Frequency", Scale: DividedBy(100), Unit: "Hz"},
	CodeOperationState:      {Code: CodeOperationState, Mnemonic: "SYS", Description: "Operation State", Scale: Int()},
	CodeBuildNumber:         {Code: CodeBuildNumber, Mnemonic: "BDN", Description: "Build number", Scale: Int()},
	CodeErrorCode00:         {Code: CodeErrorCode00, Mnemonic: "EC00", Description: "Error-Code(?) 00", Scale: Int(), Unverified: true},
	CodeErrorCode01:         {Code: CodeErrorCode01, Mnemonic: "EC01", Description: "Error-Code(?) 01", Scale: Int(), Unverified: true},
	CodeErrorCode02:         {Code: CodeErrorCode02, Mnemonic: "EC02", Description: "Error-Code(?) 02", Scale: Int(), Unverified: true},
	CodeErrorCode03:         {Code: CodeErrorCode03, Mnemonic: "EC03", Description: "Error-Code(?) 03", Scale: Int(), Unverified: true},
	CodeErrorCode04:         {Code: CodeErrorCode04, Mnemonic: "EC04", Description: "Error-Code(?) 04", Scale: Int(), Unverified: true},
	CodeErrorCode05:         {Code: CodeErrorCode05, Mnemonic: "EC05", Description: "Error-Code(?) 05", Scale: Int(), Unverified: true},
	CodeErrorCode06:         {Code: CodeErrorCode06, Mnemonic: "EC06", Description: "Error-Code(?) 06", Scale: Int(), Unverified: true},
	CodeErrorCode07:         {Code: CodeErrorCode07, Mnemonic: "EC07", Description: "Error-Code(?) 07", Scale: Int(), Unverified: true},
	CodeErrorCode08:         {Code: CodeErrorCode08, Mnemonic: "EC08", Description: "Error-Code(?) 08", Scale: Int(), Unverified: true},
}

var byMnemonic = func() map[string]Command {
	m := make(map[string]Command, len(commands))
	for _, c := range commands {
		m[c.Mnemonic] = c
	}
	return m
}()

// Lookup returns the command registered under code.
func Lookup(code int) (Command, error) {
	c, ok := commands[code]
	if !ok {
		return Command{}, fmt.Errorf("%w: %d", ErrUnknownCommand, code)
	}
	return c, nil
}

// ByMnemonic returns the command with the given protocol mnemonic.
func ByMnemonic(mnemonic string) (Command, bool) {
	c, ok := byMnemonic[mnemonic]
	return c, ok
}

// Commands returns every known command ordered by code.
func Commands() []Command {
	out := make([]Command, 0, len(commands))
	for _, c := range commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Codes returns every known code in ascending order.
func Codes() []int {
	cmds := Commands()
	codes := make([]int, len(cmds))
	for i, c := range cmds {
		codes[i] = c.Code
	}
	return codes
}

// HeadlineCodes are the registers shown by default in summaries.
var HeadlineCodes = []int{
	CodeACPower,
	CodeEnergyToday,
	CodeEnergyTotal,
	CodeHeatSinkTemperature,
	CodeACFrequency,
}
