package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"keyboard-service/internal/model"
)

var (
	ansi     = model.HardwareDescriptor{VendorID: 0x1209, ProductID: 0x2201, KeyboardType: "ANSI", IsSerial: true}
	iso      = model.HardwareDescriptor{VendorID: 0x1209, ProductID: 0x2201, KeyboardType: "ISO", IsSerial: true}
	ansiBoot = model.HardwareDescriptor{VendorID: 0x1209, ProductID: 0x2200, KeyboardType: "ANSI"}
	isoBoot  = model.HardwareDescriptor{VendorID: 0x1209, ProductID: 0x2200, KeyboardType: "ISO"}
)

// fakeScanner matches candidates against a fixed set of attached devices
type fakeScanner struct {
	kind      string
	available bool
	attached  []model.DiscoveredDevice
	err       error
	scans     int
}

func (f *fakeScanner) Scan(ctx context.Context, candidates []model.HardwareDescriptor) ([]model.DiscoveredDevice, error) {
	f.scans++
	if f.err != nil {
		return nil, f.err
	}
	var found []model.DiscoveredDevice
	for _, a := range f.attached {
		for _, c := range candidates {
			if c.MatchesUSB(a.Descriptor.VendorID, a.Descriptor.ProductID) {
				found = append(found, model.DiscoveredDevice{
					Descriptor:   c,
					Path:         a.Path,
					SerialNumber: a.SerialNumber,
				})
			}
		}
	}
	return found, nil
}

func (f *fakeScanner) GetScannerType() string { return f.kind }
func (f *fakeScanner) IsAvailable() bool      { return f.available }

type layoutChecker map[string]string

func (l layoutChecker) IsDeviceSupported(ctx context.Context, d model.DiscoveredDevice) (bool, error) {
	layout, ok := l[d.Path]
	if !ok {
		return false, errors.New("port busy")
	}
	return layout == d.Descriptor.KeyboardType, nil
}

func TestDetectBootloader_USBThenSerialPath(t *testing.T) {
	usb := &fakeScanner{kind: ScannerTypeUSB, available: true, attached: []model.DiscoveredDevice{{Descriptor: ansiBoot}}}
	serial := &fakeScanner{kind: ScannerTypeSerial, available: true, attached: []model.DiscoveredDevice{{Descriptor: ansiBoot, Path: "/dev/ttyACM1"}}}

	d := NewDetector(usb, serial, nil, zaptest.NewLogger(t))
	device, found, err := d.DetectBootloader(context.Background(), []model.HardwareDescriptor{ansiBoot, isoBoot})

	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ansiBoot, device.Descriptor, "first candidate wins")
	assert.Equal(t, "/dev/ttyACM1", device.Path)
}

func TestDetectBootloader_NotFound(t *testing.T) {
	usb := &fakeScanner{kind: ScannerTypeUSB, available: true, attached: []model.DiscoveredDevice{{Descriptor: ansi}}}
	serial := &fakeScanner{kind: ScannerTypeSerial, available: true}

	d := NewDetector(usb, serial, nil, zaptest.NewLogger(t))
	_, found, err := d.DetectBootloader(context.Background(), []model.HardwareDescriptor{ansiBoot})

	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, serial.scans)
}

func TestDetectBootloader_USBWithoutSerialInterface(t *testing.T) {
	usb := &fakeScanner{kind: ScannerTypeUSB, available: true, attached: []model.DiscoveredDevice{{Descriptor: isoBoot}}}
	serial := &fakeScanner{kind: ScannerTypeSerial, available: true}

	d := NewDetector(usb, serial, nil, zaptest.NewLogger(t))
	device, found, err := d.DetectBootloader(context.Background(), []model.HardwareDescriptor{isoBoot})

	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, device.HasTransport())
}

func TestDetectBootloader_FallsBackToSerial(t *testing.T) {
	usb := &fakeScanner{kind: ScannerTypeUSB, available: false}
	serial := &fakeScanner{kind: ScannerTypeSerial, available: true, attached: []model.DiscoveredDevice{{Descriptor: ansiBoot, Path: "COM4"}}}

	d := NewDetector(usb, serial, nil, zaptest.NewLogger(t))
	device, found, err := d.DetectBootloader(context.Background(), []model.HardwareDescriptor{ansiBoot})

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "COM4", device.Path)
	assert.Zero(t, usb.scans)
}

func TestDetectBootloader_EnumerationError(t *testing.T) {
	usb := &fakeScanner{kind: ScannerTypeUSB, available: true, err: errors.New("libusb: access denied")}
	serial := &fakeScanner{kind: ScannerTypeSerial, available: true}

	d := NewDetector(usb, serial, nil, zaptest.NewLogger(t))
	_, found, err := d.DetectBootloader(context.Background(), []model.HardwareDescriptor{ansiBoot})

	assert.Error(t, err)
	assert.False(t, found)
}

func TestDetectKeyboard_CrossChecksKeyboardType(t *testing.T) {
	serial := &fakeScanner{kind: ScannerTypeSerial, available: true, attached: []model.DiscoveredDevice{
		{Descriptor: ansi, Path: "/dev/ttyACM0"},
		{Descriptor: ansi, Path: "/dev/ttyACM1"},
		{Descriptor: ansi, Path: "/dev/ttyACM2"},
	}}
	checker := layoutChecker{
		"/dev/ttyACM0": "ANSI",
		"/dev/ttyACM2": "ISO",
	}

	d := NewDetector(nil, serial, checker, zaptest.NewLogger(t))
	device, found, err := d.DetectKeyboard(context.Background(), iso)

	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "/dev/ttyACM2", device.Path)
	assert.Equal(t, iso, device.Descriptor)
}

func TestDetectKeyboard_Absent(t *testing.T) {
	serial := &fakeScanner{kind: ScannerTypeSerial, available: true}

	d := NewDetector(nil, serial, nil, zaptest.NewLogger(t))
	_, found, err := d.DetectKeyboard(context.Background(), ansi)

	require.NoError(t, err)
	assert.False(t, found)
}

func TestDetectKeyboard_WithoutChecker(t *testing.T) {
	serial := &fakeScanner{kind: ScannerTypeSerial, available: true, attached: []model.DiscoveredDevice{{Descriptor: ansi, Path: "/dev/ttyACM0"}}}

	d := NewDetector(nil, serial, nil, zaptest.NewLogger(t))
	device, found, err := d.DetectKeyboard(context.Background(), ansi)

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "/dev/ttyACM0", device.Path)
}

func TestScannerManager_ScanAllDedupes(t *testing.T) {
	usb := &fakeScanner{kind: ScannerTypeUSB, available: true, attached: []model.DiscoveredDevice{{Descriptor: ansi}}}
	serial := &fakeScanner{kind: ScannerTypeSerial, available: true, attached: []model.DiscoveredDevice{{Descriptor: ansi, Path: "/dev/ttyACM0"}}}
	broken := &fakeScanner{kind: "broken", available: true, err: errors.New("boom")}
	offline := &fakeScanner{kind: "offline", available: false}

	sm := NewScannerManager(zaptest.NewLogger(t))
	for _, s := range []DeviceScanner{usb, serial, broken, offline} {
		sm.RegisterScanner(s)
	}

	found, err := sm.ScanAll(context.Background(), []model.HardwareDescriptor{ansi})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "/dev/ttyACM0", found[0].Path)
	assert.Zero(t, offline.scans)

	assert.Equal(t, []string{"broken", ScannerTypeSerial, ScannerTypeUSB}, sm.GetAvailableScanners())

	_, err = sm.ScanByType(context.Background(), "offline", nil)
	assert.Error(t, err)
	_, err = sm.ScanByType(context.Background(), "tcp", nil)
	assert.Error(t, err)
}
