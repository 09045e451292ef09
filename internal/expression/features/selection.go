package features

// PointGroup is a named, fixed set of landmark indices in the 66-point layout.
type PointGroup int

// Point groups in the canonical order used when building column indices.
const (
	GroupContour PointGroup = iota
	GroupBrowRight
	GroupBrowLeft
	GroupEyeRight
	GroupEyeLeft
	GroupNose
	GroupMouthCorners
	GroupLipUpper
	GroupLipLower
	groupCount
)

var groupNames = [groupCount]string{
	"contour",
	"brow_right",
	"brow_left",
	"eye_right",
	"eye_left",
	"nose",
	"mouth_corners",
	"lip_upper",
	"lip_lower",
}

var groupPoints = [groupCount][]int{
	GroupContour:      {0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
	GroupBrowRight:    {17, 18, 19, 20, 21},
	GroupBrowLeft:     {22, 23, 24, 25, 26},
	GroupEyeRight:     {36, 37, 38, 39, 40, 41},
	GroupEyeLeft:      {42, 43, 44, 45, 46, 47},
	GroupNose:         {27, 28, 29, 30, 31, 32, 33, 34, 35},
	GroupMouthCorners: {58, 62},
	GroupLipUpper:     {48, 49, 50, 51, 52, 53, 54, 59, 60, 61},
	GroupLipLower:     {55, 56, 57, 63, 64, 65},
}

// Groups returns every point group in canonical order.
func Groups() []PointGroup {
	out := make([]PointGroup, groupCount)
	for i := range out {
		out[i] = PointGroup(i)
	}
	return out
}

func (g PointGroup) String() string {
	if g < 0 || g >= groupCount {
		return "unknown"
	}
	return groupNames[g]
}

// Points returns a copy of the group's landmark indices.
func (g PointGroup) Points() []int {
	if g < 0 || g >= groupCount {
		return nil
	}
	return append([]int(nil), groupPoints[g]...)
}

// Selection enables point groups for training. The base scalar block is
// always included. Mouth corners have no flag of their own and follow Nose.
type Selection struct {
	Contour   bool `json:"contour"`
	BrowRight bool `json:"brow_right"`
	BrowLeft  bool `json:"brow_left"`
	EyeRight  bool `json:"eye_right"`
	EyeLeft   bool `json:"eye_left"`
	Nose      bool `json:"nose"`
	LipUpper  bool `json:"lip_upper"`
	LipLower  bool `json:"lip_lower"`
}

// AllSelected enables every group.
func AllSelected() Selection {
	return Selection{
		Contour:   true,
		BrowRight: true,
		BrowLeft:  true,
		EyeRight:  true,
		EyeLeft:   true,
		Nose:      true,
		LipUpper:  true,
		LipLower:  true,
	}
}

// Enabled reports whether g contributes columns under s.
func (s Selection) Enabled(g PointGroup) bool {
	switch g {
	case GroupContour:
		return s.Contour
	case GroupBrowRight:
		return s.BrowRight
	case GroupBrowLeft:
		return s.BrowLeft
	case GroupEyeRight:
		return s.EyeRight
	case GroupEyeLeft:
		return s.EyeLeft
	case GroupNose, GroupMouthCorners:
		return s.Nose
	case GroupLipUpper:
		return s.LipUpper
	case GroupLipLower:
		return s.LipLower
	}
	return false
}

// SelectIndices returns the feature vector columns for s: the base block
// first, then x, y, z of every landmark in each enabled group.
func SelectIndices(s Selection) []int {
	indices := make([]int, 0, ColsFull)
	for i := 0; i < ColsBase; i++ {
		indices = append(indices, i)
	}
	for _, g := range Groups() {
		if !s.Enabled(g) {
			continue
		}
		for _, p := range groupPoints[g] {
			off := ColsBase + 3*p
			indices = append(indices, off, off+1, off+2)
		}
	}
	return indices
}

// NaturalIndices returns every column in vector order.
func NaturalIndices() []int {
	indices := make([]int, ColsFull)
	for i := range indices {
		indices[i] = i
	}
	return indices
}

// ValidIndices reports whether every index lies in [0, ColsFull) with no
// repeats and at least the base block present.
func ValidIndices(indices []int) bool {
	if len(indices) < ColsBase || len(indices) > ColsFull {
		return false
	}
	var seen [ColsFull]bool
	for _, idx := range indices {
		if idx < 0 || idx >= ColsFull || seen[idx] {
			return false
		}
		seen[idx] = true
	}
	return true
}
