package session

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/flexlink/internal/device"
)

// DecodeFunc turns a raw notification payload into channel values
type DecodeFunc func(data []byte) ([]float64, error)

// CharacteristicSpec binds a characteristic UUID to a named channel and its decoder
type CharacteristicSpec struct {
	UUID    string
	Channel string
	Decode  DecodeFunc
}

type channelTable = orderedmap.OrderedMap[string, []CharacteristicSpec]

// buildChannelTable validates specs and groups them by normalized UUID,
// keeping configuration order.
func buildChannelTable(specs []CharacteristicSpec) (*channelTable, error) {
	if len(specs) == 0 {
		return nil, newError(KindConfig, "at least one characteristic is required", nil)
	}

	table := orderedmap.New[string, []CharacteristicSpec]()
	for i, spec := range specs {
		if spec.Channel == "" {
			return nil, newError(KindConfig, fmt.Sprintf("characteristic %d has no channel name", i), nil)
		}
		if spec.Decode == nil {
			return nil, newError(KindConfig, fmt.Sprintf("channel %q has no decoder", spec.Channel), nil)
		}
		norm, err := device.ValidateUUID(spec.UUID)
		if err != nil {
			return nil, newError(KindConfig, fmt.Sprintf("channel %q", spec.Channel), err)
		}
		group, _ := table.Get(norm[0])
		table.Set(norm[0], append(group, spec))
	}

	if dups := lo.FindDuplicatesBy(specs, func(s CharacteristicSpec) string { return s.Channel }); len(dups) > 0 {
		names := lo.Map(dups, func(s CharacteristicSpec, _ int) string { return s.Channel })
		return nil, newError(KindConfig, fmt.Sprintf("duplicate channel names: %s", strings.Join(names, ", ")), nil)
	}

	return table, nil
}

func channelNames(specs []CharacteristicSpec) []string {
	return lo.Map(specs, func(s CharacteristicSpec, _ int) string { return s.Channel })
}
