package vision

import "fmt"

// Kind selects which segmentation model is resident. The set is closed:
// every switch over Kind must handle both values.
type Kind int

const (
	KindParts Kind = iota
	KindDefects
)

func (k Kind) String() string {
	switch k {
	case KindParts:
		return "parts"
	case KindDefects:
		return "defects"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps the wire/config spelling to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "parts":
		return KindParts, nil
	case "defects":
		return KindDefects, nil
	default:
		return 0, fmt.Errorf("unknown model kind %q", s)
	}
}
