package transform

import (
	"strings"

	dterrors "github.com/vnykmshr/datatide/pkg/common/errors"
)

var deniedPatterns = []string{
	// process control and system access
	"os.",
	"exec.",
	"syscall.",
	// module loading and dynamic code
	"plugin.",
	"unsafe.",
	"reflect.",
	"runtime.",
	"go func",
	// timer scheduling
	"time.AfterFunc(",
	"time.Tick(",
	"time.NewTicker(",
	"time.NewTimer(",
}

var delayPatterns = []string{
	"time.Sleep(",
	"time.After(",
}

// Scanner checks the text form of a transform against a deny-list.
type Scanner struct {
	patterns []string
}

// NewScanner returns a scanner with the standard deny-list. Delay
// primitives are denied unless allowDelays is set.
func NewScanner(allowDelays bool) *Scanner {
	patterns := append([]string(nil), deniedPatterns...)
	if !allowDelays {
		patterns = append(patterns, delayPatterns...)
	}
	return &Scanner{patterns: patterns}
}

// Patterns returns the active deny-list.
func (s *Scanner) Patterns() []string {
	return append([]string(nil), s.patterns...)
}

// Scan returns an UnsafeTransformError for the first pattern found in text.
// A pattern only matches at the start of an identifier, so "kos.Run"
// does not match "os.".
func (s *Scanner) Scan(step, text string) error {
	for _, p := range s.patterns {
		if containsToken(text, p) {
			return &dterrors.UnsafeTransformError{Step: step, Pattern: p}
		}
	}
	return nil
}

func containsToken(text, pattern string) bool {
	for off := 0; ; {
		i := strings.Index(text[off:], pattern)
		if i < 0 {
			return false
		}
		at := off + i
		if at == 0 || !isIdentByte(text[at-1]) {
			return true
		}
		off = at + 1
	}
}

func isIdentByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}
