package decode

// ESP32 glove GATT layout
const (
	GloveService     = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"
	GloveFlexUUID    = "beb5483e-36e1-4688-b7f5-ea07361b26ac"
	GloveBatteryUUID = "beb5483e-36e1-4688-b7f5-ea07361b26ad"
	GloveAccelUUID   = "beb5483e-36e1-4688-b7f5-ea07361b26ae"
	GloveFingers     = 5
	AccelLSBPerG     = 16384.0
	GloveNamePrefix  = "ESP32"
)

// Channel describes one configured glove channel
type Channel struct {
	Name    string
	UUID    string
	Decoder string
	Params  Params
}

// GloveDefaults returns the stock glove channel table in notification order
func GloveDefaults() []Channel {
	return []Channel{
		{Name: "flex", UUID: GloveFlexUUID, Decoder: "uint16le", Params: Params{Count: GloveFingers}},
		{Name: "battery", UUID: GloveBatteryUUID, Decoder: "battery"},
		{Name: "accel", UUID: GloveAccelUUID, Decoder: "int16le_scaled", Params: Params{Count: 3, Divisor: AccelLSBPerG}},
	}
}
