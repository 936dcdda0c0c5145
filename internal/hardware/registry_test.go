package hardware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"keyboard-service/internal/focus"
	"keyboard-service/internal/model"
	"keyboard-service/internal/protocol"
	"keyboard-service/internal/protocol/prototest"
)

// layoutClients returns a factory whose clients talk to a device reporting layout
func layoutClients(t *testing.T, layout string) (ClientFactory, *[]*prototest.Transport) {
	t.Helper()
	var opened []*prototest.Transport

	dialer := protocol.DialerFunc(func(ctx context.Context, path string) (protocol.Transport, error) {
		tr := prototest.NewTransport(path)
		tr.OnLine(func(line string) string {
			if line == "hardware.layout" {
				return prototest.Reply(layout + " ")
			}
			return prototest.Reply()
		})
		opened = append(opened, tr)
		return tr, nil
	})

	return func() *focus.Client {
		return focus.NewClient(dialer, nil, zaptest.NewLogger(t))
	}, &opened
}

func TestRegisterDefaultDevices(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	RegisterDefaultDevices(r, nil, zaptest.NewLogger(t))

	keyboards := r.Keyboards()
	require.Len(t, keyboards, 2)
	assert.Equal(t, "ANSI", keyboards[0].KeyboardType)
	assert.Equal(t, "ISO", keyboards[1].KeyboardType)
	for _, k := range keyboards {
		assert.Equal(t, DygmaVendorID, k.VendorID)
		assert.Equal(t, RaiseProductID, k.ProductID)
		assert.True(t, k.IsSerial)
	}

	bootloaders := r.Bootloaders()
	require.Len(t, bootloaders, 2)
	for _, b := range bootloaders {
		assert.Equal(t, RaiseBootloaderProductID, b.ProductID)
		assert.False(t, b.IsSerial)
	}

	entry, ok := r.Lookup(keyboards[1])
	require.True(t, ok)
	assert.Equal(t, "Dygma Raise ISO", entry.Info.DisplayName)
	assert.Contains(t, entry.UpdateInstructions("hu"), "press and hold the Escape key")
}

func TestRegistry_BootloaderFor(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	RegisterDefaultDevices(r, nil, zaptest.NewLogger(t))

	iso := RaiseKeyboard("ISO", nil).USB
	got := r.BootloaderFor(iso)
	require.Len(t, got, 1)
	assert.Equal(t, "ISO", got[0].KeyboardType)

	unknown := model.HardwareDescriptor{VendorID: 0x1209, ProductID: 0x2201, KeyboardType: "JIS"}
	assert.Len(t, r.BootloaderFor(unknown), 2)
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	r.Register(RaiseKeyboard("ANSI", nil))

	replacement := RaiseKeyboard("ANSI", nil)
	replacement.Info.DisplayName = "Raise"
	r.Register(replacement)

	require.Len(t, r.Devices(), 1)
	assert.Equal(t, "Raise", r.Devices()[0].Info.DisplayName)
}

func TestRegistry_IsDeviceSupported(t *testing.T) {
	ctx := context.Background()

	t.Run("layout matches", func(t *testing.T) {
		factory, opened := layoutClients(t, "ANSI")
		r := NewRegistry(zaptest.NewLogger(t))
		RegisterDefaultDevices(r, factory, zaptest.NewLogger(t))

		ok, err := r.IsDeviceSupported(ctx, model.DiscoveredDevice{
			Descriptor: RaiseKeyboard("ANSI", nil).USB,
			Path:       "/dev/ttyACM0",
		})
		require.NoError(t, err)
		assert.True(t, ok)

		require.Len(t, *opened, 1)
		assert.True(t, (*opened)[0].Closed(), "check must close its connection")
	})

	t.Run("layout differs", func(t *testing.T) {
		factory, _ := layoutClients(t, "ANSI")
		r := NewRegistry(zaptest.NewLogger(t))
		RegisterDefaultDevices(r, factory, zaptest.NewLogger(t))

		ok, err := r.IsDeviceSupported(ctx, model.DiscoveredDevice{
			Descriptor: RaiseKeyboard("ISO", nil).USB,
			Path:       "/dev/ttyACM0",
		})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("no variant", func(t *testing.T) {
		r := NewRegistry(zaptest.NewLogger(t))
		RegisterDefaultDevices(r, nil, zaptest.NewLogger(t))

		ok, err := r.IsDeviceSupported(ctx, model.DiscoveredDevice{Descriptor: RaiseBootloader("ISO").USB})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("unknown descriptor", func(t *testing.T) {
		r := NewRegistry(zaptest.NewLogger(t))

		_, err := r.IsDeviceSupported(ctx, model.DiscoveredDevice{Descriptor: model.HardwareDescriptor{VendorID: 1}})
		assert.Error(t, err)
	})
}
