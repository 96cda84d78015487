package fleet

// Region is the cabinet's territory, which selects game-region-specific
// behavior on real hardware (boot splash, default language, and so on).
type Region string

const (
	RegionJapan     Region = "japan"
	RegionUSA       Region = "usa"
	RegionExport    Region = "export"
	RegionKorea     Region = "korea"
	RegionAustralia Region = "australia"

	// RegionUnknown aliases RegionJapan rather than being a distinct sixth
	// value. It is only a name: NewCabinet and Load still reject an empty
	// or unrecognized region string instead of mapping it to Japan.
	RegionUnknown = RegionJapan
)

func validRegion(r Region) bool {
	switch r {
	case RegionJapan, RegionUSA, RegionExport, RegionKorea, RegionAustralia:
		return true
	default:
		return false
	}
}
