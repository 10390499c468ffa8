package rhi

import (
	"errors"
	"slices"
	"testing"

	"github.com/gogpu/gputypes"
)

// stubDevice satisfies Device for registry tests; only identity methods
// are implemented.
type stubDevice struct {
	Device
	api API
}

func (d stubDevice) API() API                           { return d.api }
func (d stubDevice) AdapterInfo() gputypes.AdapterInfo { return gputypes.AdapterInfo{Name: "stub"} }

type stubBackend struct {
	api  API
	fail error
	seen *Config
}

func (b stubBackend) API() API { return b.api }

func (b stubBackend) Open(cfg Config) (Device, error) {
	if b.seen != nil {
		*b.seen = cfg
	}
	if b.fail != nil {
		return nil, b.fail
	}
	return stubDevice{api: b.api}, nil
}

func register(t *testing.T, b stubBackend) {
	t.Helper()
	Register(b.api, func() Backend { return b })
	t.Cleanup(func() { Unregister(b.api) })
}

func TestDefaultPriority(t *testing.T) {
	if got := defaultPriority("darwin")[0]; got != APIMetal {
		t.Errorf("darwin prefers %s", got)
	}
	if got := defaultPriority("linux")[0]; got != APIVulkan {
		t.Errorf("linux prefers %s", got)
	}
	if n := len(defaultPriority("windows")); n != 4 {
		t.Errorf("priority lists %d APIs", n)
	}
}

func TestNewDeviceNotRegistered(t *testing.T) {
	if IsRegistered(APIOpenGL) {
		t.Skip("opengl registered by another test")
	}
	_, err := NewDevice(WithAPI(APIOpenGL))
	if !errors.Is(err, ErrBackendNotRegistered) {
		t.Errorf("got %v, want ErrBackendNotRegistered", err)
	}
}

func TestNewDeviceExplicit(t *testing.T) {
	var seen Config
	register(t, stubBackend{api: APIDirectX, seen: &seen})

	dev, err := NewDevice(WithAPI(APIDirectX), WithLabel("explicit"))
	if err != nil {
		t.Fatal(err)
	}
	if dev.API() != APIDirectX {
		t.Errorf("API() = %s", dev.API())
	}
	if seen.Label != "explicit" || seen.API != APIDirectX {
		t.Errorf("backend saw %+v", seen)
	}
	if !IsRegistered(APIDirectX) || !slices.Contains(Available(), APIDirectX) {
		t.Error("registered backend not reported")
	}
}

func TestNewDeviceFallsBack(t *testing.T) {
	errDown := errors.New("driver missing")
	register(t, stubBackend{api: APIDirectX, fail: errDown})
	register(t, stubBackend{api: APIOpenGL})

	dev, err := NewDevice()
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	if dev.API() != APIOpenGL {
		t.Errorf("fell back to %s, want opengl", dev.API())
	}

	Unregister(APIOpenGL)
	_, err = NewDevice(WithAPI(APIDirectX))
	if !errors.Is(err, errDown) {
		t.Errorf("got %v, want the backend error", err)
	}
}

func TestRegisterReplaces(t *testing.T) {
	register(t, stubBackend{api: APIDirectX, fail: errors.New("first")})
	register(t, stubBackend{api: APIDirectX})
	if _, err := NewDevice(WithAPI(APIDirectX)); err != nil {
		t.Errorf("second registration not used: %v", err)
	}
}
