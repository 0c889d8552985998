package sunspec

// Group is a repeating block of points at the end of a model
type Group struct {
	Name   string
	Count  string // point holding the repeat count; empty means fill the remaining length
	Points []Point
}

// Definition is the layout of a model body (the ID and L header registers are not included)
type Definition struct {
	ID     uint16
	Name   string
	Points []Point
	Group  *Group
}

// Model IDs with built-in definitions
const (
	ModelCommon             = 1
	ModelSolarModule        = 502
	ModelDERMeasureAC       = 701
	ModelDERStorageCapacity = 713
	ModelDERMeasureDC       = 714
)

func pt(name string, t PointType) Point { return Point{Name: name, Type: t} }
func str(name string, n int) Point      { return Point{Name: name, Type: String, Len: n} }

// acPhase returns the per-phase points of model 701
func acPhase(phase, lineToLine string) []Point {
	return []Point{
		pt("W"+phase, Int16),
		pt("VA"+phase, Int16),
		pt("Var"+phase, Int16),
		pt("PF"+phase, Int16),
		pt("A"+phase, Int16),
		pt("V"+lineToLine, Uint16),
		pt("V"+phase, Uint16),
		pt("TotWhInj"+phase, Acc64),
		pt("TotWhAbs"+phase, Acc64),
		pt("TotVarhInj"+phase, Acc64),
		pt("TotVarhAbs"+phase, Acc64),
	}
}

func derMeasureAC() Definition {
	points := []Point{
		pt("ACType", Enum16),
		pt("St", Enum16),
		pt("InvSt", Enum16),
		pt("ConnSt", Enum16),
		pt("Alrm", Bitfield32),
		pt("DERMode", Bitfield32),
		pt("W", Int16),
		pt("VA", Int16),
		pt("Var", Int16),
		pt("PF", Int16),
		pt("A", Int16),
		pt("LLV", Uint16),
		pt("LNV", Uint16),
		pt("Hz", Uint32),
		pt("TotWhInj", Acc64),
		pt("TotWhAbs", Acc64),
		pt("TotVarhInj", Acc64),
		pt("TotVarhAbs", Acc64),
		pt("TmpAmb", Int16),
		pt("TmpCab", Int16),
		pt("TmpSnk", Int16),
		pt("TmpTrns", Int16),
		pt("TmpSw", Int16),
		pt("TmpOt", Int16),
	}
	points = append(points, acPhase("L1", "L1L2")...)
	points = append(points, acPhase("L2", "L2L3")...)
	points = append(points, acPhase("L3", "L3L1")...)
	points = append(points,
		pt("ThrotPct", Uint16),
		pt("ThrotSrc", Bitfield32),
		pt("A_SF", Sunssf),
		pt("V_SF", Sunssf),
		pt("Hz_SF", Sunssf),
		pt("W_SF", Sunssf),
		pt("PF_SF", Sunssf),
		pt("VA_SF", Sunssf),
		pt("Var_SF", Sunssf),
		pt("TotWh_SF", Sunssf),
		pt("TotVarh_SF", Sunssf),
		pt("Tmp_SF", Sunssf),
		str("MnAlrmInfo", 32),
	)
	return Definition{ID: ModelDERMeasureAC, Name: "DERMeasureAC", Points: points}
}

// definitions holds every model layout the scanner can decode.
// Models not listed here are kept with their raw registers.
var definitions = map[uint16]Definition{
	ModelCommon: {
		ID:   ModelCommon,
		Name: "common",
		Points: []Point{
			str("Mn", 16),
			str("Md", 16),
			str("Opt", 8),
			str("Vr", 8),
			str("SN", 16),
			pt("DA", Uint16),
			pt("Pad", Pad),
		},
	},
	ModelSolarModule: {
		ID:   ModelSolarModule,
		Name: "SolarModule",
		Points: []Point{
			pt("A_SF", Sunssf),
			pt("V_SF", Sunssf),
			pt("W_SF", Sunssf),
			pt("Wh_SF", Sunssf),
			pt("Stat", Enum16),
			pt("StatVend", Enum16),
			pt("Evt", Bitfield32),
			pt("EvtVend", Bitfield32),
			pt("Ctl", Enum16),
			pt("CtlVend", Enum32),
			pt("CtlVal", Int32),
			pt("Tms", Uint32),
			pt("OutA", Int16),
			pt("OutV", Int16),
			pt("OutWh", Acc32),
			pt("OutPw", Int16),
			pt("Tmp", Int16),
			pt("InA", Int16),
			pt("InV", Int16),
			pt("InWh", Acc32),
			pt("InW", Int16),
		},
	},
	ModelDERMeasureAC: derMeasureAC(),
	ModelDERStorageCapacity: {
		ID:   ModelDERStorageCapacity,
		Name: "DERStorageCapacity",
		Points: []Point{
			pt("WHRtg", Uint16),
			pt("WHAvail", Uint16),
			pt("SoC", Uint16),
			pt("SoH", Uint16),
			pt("Sta", Enum16),
			pt("WH_SF", Sunssf),
			pt("Pct_SF", Sunssf),
		},
	},
	ModelDERMeasureDC: {
		ID:   ModelDERMeasureDC,
		Name: "DERMeasureDC",
		Points: []Point{
			pt("PrtAlrms", Bitfield32),
			pt("NPrt", Uint16),
			pt("DCA", Int16),
			pt("DCW", Int16),
			pt("DCWhInj", Acc64),
			pt("DCWhAbs", Acc64),
			pt("DCA_SF", Sunssf),
			pt("DCV_SF", Sunssf),
			pt("DCW_SF", Sunssf),
			pt("DCWH_SF", Sunssf),
			pt("Tmp_SF", Sunssf),
		},
		Group: &Group{
			Name:  "Prt",
			Count: "NPrt",
			Points: []Point{
				pt("PrtTyp", Enum16),
				pt("ID", Uint32),
				str("IDStr", 8),
				pt("DCA", Int16),
				pt("DCV", Uint16),
				pt("DCW", Int16),
				pt("DCWhInj", Acc64),
				pt("DCWhAbs", Acc64),
				pt("Tmp", Int16),
				pt("DCSta", Enum16),
				pt("DCAlrm", Bitfield32),
			},
		},
	},
}

// Lookup returns the built-in definition for a model ID
func Lookup(id uint16) (Definition, bool) {
	d, ok := definitions[id]
	return d, ok
}
