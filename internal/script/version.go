package script

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is the dotted index of an incremental script. The indexes of the
// directories on the script's path come first, followed by the file's own.
type Version struct {
	indexes []int64
}

// ParseVersion parses a dotted index such as "1.2.10".
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, nil
	}
	parts := strings.Split(s, ".")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("invalid version %q", s)
		}
		out = append(out, n)
	}
	return Version{indexes: out}, nil
}

// NewVersion builds a version from explicit indexes.
func NewVersion(indexes ...int64) Version {
	return Version{indexes: append([]int64(nil), indexes...)}
}

// IsZero reports whether the version carries no index.
func (v Version) IsZero() bool { return len(v.indexes) == 0 }

// Indexes returns a copy of the index components.
func (v Version) Indexes() []int64 { return append([]int64(nil), v.indexes...) }

// Compare orders versions component by component. A version that is a
// prefix of another sorts first.
func (v Version) Compare(o Version) int {
	for i := 0; i < len(v.indexes) && i < len(o.indexes); i++ {
		switch {
		case v.indexes[i] < o.indexes[i]:
			return -1
		case v.indexes[i] > o.indexes[i]:
			return 1
		}
	}
	switch {
	case len(v.indexes) < len(o.indexes):
		return -1
	case len(v.indexes) > len(o.indexes):
		return 1
	}
	return 0
}

// Equal reports whether both versions have the same indexes.
func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }

func (v Version) String() string {
	parts := make([]string, len(v.indexes))
	for i, n := range v.indexes {
		parts[i] = strconv.FormatInt(n, 10)
	}
	return strings.Join(parts, ".")
}
