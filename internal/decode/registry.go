package decode

import (
	"fmt"
	"sort"
)

// Params carries the per-channel decoder parameters from configuration
type Params struct {
	Count   int
	Divisor float64
}

type builder func(p Params) (Func, error)

var registry = map[string]builder{
	"uint16le": func(p Params) (Func, error) {
		if p.Count <= 0 {
			return nil, fmt.Errorf("uint16le requires count > 0")
		}
		return Uint16LE(p.Count), nil
	},
	"int16le_scaled": func(p Params) (Func, error) {
		if p.Count <= 0 {
			return nil, fmt.Errorf("int16le_scaled requires count > 0")
		}
		if p.Divisor == 0 {
			return nil, fmt.Errorf("int16le_scaled requires a non-zero divisor")
		}
		return Int16LEScaled(p.Count, p.Divisor), nil
	},
	"battery": func(Params) (Func, error) { return Battery(), nil },
	"letter":  func(Params) (Func, error) { return Letter(), nil },
}

// Lookup returns the decoder registered under kind
func Lookup(kind string, p Params) (Func, error) {
	b, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("unknown decoder %q (known: %v)", kind, Kinds())
	}
	return b(p)
}

// Kinds lists the registered decoder names
func Kinds() []string {
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
