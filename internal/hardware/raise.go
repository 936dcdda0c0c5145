// internal/hardware/raise.go
package hardware

import (
	"go.uber.org/zap"

	"keyboard-service/internal/model"
)

const (
	// DygmaVendorID is the pid.codes vendor id used by Dygma
	DygmaVendorID uint16 = 0x1209

	// RaiseProductID is the Raise in application mode
	RaiseProductID uint16 = 0x2201

	// RaiseBootloaderProductID is the Raise while its Neuron runs the bootloader
	RaiseBootloaderProductID uint16 = 0x2200
)

const raiseUpdateInstructions = "To update the firmware, the keyboard needs a special reset. " +
	"When you see the light on the Neuron go off, press and hold the Escape key. " +
	"The Neuron's light should start a blue pulsing pattern"

var raiseURLs = []URL{{Name: "Homepage", URL: "https://www.dygma.com/raise/"}}

// RaiseKeyboard returns the application-mode entry for a layout
func RaiseKeyboard(layout string, newClient ClientFactory) Device {
	d := Device{
		Info:    raiseInfo(layout),
		USB:     model.HardwareDescriptor{VendorID: DygmaVendorID, ProductID: RaiseProductID, KeyboardType: layout, IsSerial: true},
		Rows:    5,
		Columns: 16,

		Instructions: map[string]string{
			"en": raiseUpdateInstructions,
		},
	}
	if newClient != nil {
		d.Variant = LayoutVariant{Layout: layout, NewClient: newClient}
	}
	return d
}

// RaiseBootloader returns the bootloader-mode entry for a layout
func RaiseBootloader(layout string) Device {
	return Device{
		Info:       raiseInfo(layout),
		USB:        model.HardwareDescriptor{VendorID: DygmaVendorID, ProductID: RaiseBootloaderProductID, KeyboardType: layout},
		Bootloader: true,
	}
}

func raiseInfo(layout string) Info {
	return Info{
		Vendor:       "Dygma",
		Product:      "Raise",
		KeyboardType: layout,
		DisplayName:  "Dygma Raise " + layout,
		URLs:         raiseURLs,
	}
}

// RegisterDefaultDevices registers every supported keyboard and its bootloader
func RegisterDefaultDevices(registry *Registry, newClient ClientFactory, logger *zap.Logger) {
	for _, layout := range []string{"ANSI", "ISO"} {
		registry.Register(RaiseKeyboard(layout, newClient))
		registry.Register(RaiseBootloader(layout))
	}

	logger.Info("Dygma Raise devices registered", zap.Strings("layouts", []string{"ANSI", "ISO"}))
}
