package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a CUDA driver or runtime version. The driver and runtime report
// (major, minor); Patch is only set for versions given as "11.4.2". Versions
// are ordered lexicographically: major, then minor, then patch.
type Version struct {
	Major int `yaml:"major" json:"major"`
	Minor int `yaml:"minor" json:"minor"`
	Patch int `yaml:"patch,omitempty" json:"patch,omitempty"`
}

// FromCUDA decodes the integer encoding used by cuDriverGetVersion and
// cudaRuntimeGetVersion: 1000*major + 10*minor.
func FromCUDA(v int) Version {
	major := v / 1000
	minor := (v - major*1000) / 10
	return Version{Major: major, Minor: minor}
}

// Parse reads a dot-separated version such as "11.2" or "11.4.2". Missing
// components are zero. Every component must be an integer; components past
// the patch level are checked but not kept.
func Parse(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, fmt.Errorf("empty version string")
	}
	parts := strings.Split(s, ".")
	nums := make([]int, max(len(parts), 3))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
		}
		if n < 0 {
			return Version{}, fmt.Errorf("invalid version %q: negative component", s)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// Compare returns -1, 0 or +1 when v is less than, equal to, or greater than o.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major < o.Major:
		return -1
	case v.Major > o.Major:
		return 1
	case v.Minor < o.Minor:
		return -1
	case v.Minor > o.Minor:
		return 1
	case v.Patch < o.Patch:
		return -1
	case v.Patch > o.Patch:
		return 1
	}
	return 0
}

// Less reports whether v is strictly older than o.
func (v Version) Less(o Version) bool {
	return v.Compare(o) < 0
}

func (v Version) String() string {
	if v.Patch != 0 {
		return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	}
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}
