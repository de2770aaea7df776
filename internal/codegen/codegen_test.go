package codegen

import (
	"errors"
	"sync"
	"testing"

	"github.com/rapidsai/ptxcompiler/internal/errs"
	"github.com/rapidsai/ptxcompiler/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedStrategy struct {
	name  string
	calls int
}

func (s *namedStrategy) Name() string { return s.name }

func (s *namedStrategy) Cubin(lib *Library, arch Arch) ([]byte, error) {
	s.calls++
	return []byte(s.name + ":" + arch.SMName()), nil
}

func TestArch(t *testing.T) {
	assert.Equal(t, "sm_75", Arch{Major: 7, Minor: 5}.SMName())
	assert.Equal(t, "sm_90", Arch{Major: 9}.SMName())
	assert.Equal(t, "8.6", Arch{Major: 8, Minor: 6}.String())
	assert.True(t, Arch{}.IsZero())
}

func TestParseArch(t *testing.T) {
	for _, s := range []string{"sm_75", "75", "7.5", " sm_75 "} {
		a, err := ParseArch(s)
		require.NoError(t, err, s)
		assert.Equal(t, Arch{Major: 7, Minor: 5}, a, s)
	}
	a, err := ParseArch("sm_100")
	require.NoError(t, err)
	assert.Equal(t, Arch{Major: 10, Minor: 0}, a)

	for _, s := range []string{"", "sm_", "sm_x5", "7", "7.x", "-7.5"} {
		_, err := ParseArch(s)
		assert.Error(t, err, s)
	}
}

func TestRegistry_Install(t *testing.T) {
	first := &namedStrategy{name: "first"}
	second := &namedStrategy{name: "second"}
	reg := NewRegistry(first)

	assert.Same(t, first, reg.Current())
	prev := reg.Install(second)
	assert.Same(t, first, prev)
	assert.Same(t, second, reg.Current())
}

func TestRegistry_ConcurrentReaders(t *testing.T) {
	first := &namedStrategy{name: "first"}
	second := &namedStrategy{name: "second"}
	reg := NewRegistry(first)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				s := reg.Current()
				if s != Strategy(first) && s != Strategy(second) {
					t.Errorf("unexpected strategy %v", s)
					return
				}
			}
		}()
	}
	reg.Install(second)
	wg.Wait()
	assert.Same(t, second, reg.Current())
}

func TestCodegen_NewLibraryBindsCurrentStrategy(t *testing.T) {
	first := &namedStrategy{name: "first"}
	second := &namedStrategy{name: "second"}
	cg := New(NewRegistry(first), nil)

	before := cg.NewLibrary("before")
	cg.Registry().Install(second)
	after := cg.NewLibrary("after")

	assert.Same(t, first, before.Strategy())
	assert.Same(t, second, after.Strategy())

	out, err := before.Cubin(Arch{Major: 7, Minor: 5})
	require.NoError(t, err)
	assert.Equal(t, "first:sm_75", string(out))
}

func TestCodegen_Version(t *testing.T) {
	v, err := New(NewRegistry(&namedStrategy{}), nil).Version()
	require.NoError(t, err)
	assert.Equal(t, FrameworkVersion, v)

	v, err = New(NewRegistry(&namedStrategy{}), nil, WithVersion(version.Version{Major: 0, Minor: 57})).Version()
	require.NoError(t, err)
	assert.Equal(t, 57, v.Minor)
}

func TestLibrary_CubinQueriesDevice(t *testing.T) {
	s := &namedStrategy{name: "s"}
	device := DeviceQueryFunc(func() (Arch, error) { return Arch{Major: 8, Minor: 6}, nil })
	lib := New(NewRegistry(s), device).NewLibrary("lib")

	out, err := lib.Cubin(Arch{})
	require.NoError(t, err)
	assert.Equal(t, "s:sm_86", string(out))

	t.Run("no device", func(t *testing.T) {
		lib := New(NewRegistry(s), nil).NewLibrary("lib")
		_, err := lib.Cubin(Arch{})
		assert.Equal(t, errs.State, errs.KindOf(err))
	})

	t.Run("device error", func(t *testing.T) {
		failing := DeviceQueryFunc(func() (Arch, error) { return Arch{}, errors.New("no device") })
		lib := New(NewRegistry(s), failing).NewLibrary("lib")
		_, err := lib.Cubin(Arch{})
		assert.ErrorContains(t, err, "no device")
	})
}

func TestLibrary_PTXesAndCache(t *testing.T) {
	lib := New(NewRegistry(&namedStrategy{}), nil).NewLibrary("lib")
	sm75 := Arch{Major: 7, Minor: 5}

	lib.AddPTX(sm75, "a")
	lib.AddPTX(sm75, "b")
	got := lib.PTXes(sm75)
	assert.Equal(t, []string{"a", "b"}, got)
	got[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, lib.PTXes(sm75))
	assert.Empty(t, lib.PTXes(Arch{Major: 8}))

	_, ok := lib.CachedCubin(sm75)
	assert.False(t, ok)
	lib.StoreCubin(sm75, []byte("cubin"))
	cubin, ok := lib.CachedCubin(sm75)
	assert.True(t, ok)
	assert.Equal(t, []byte("cubin"), cubin)
}

func TestDriverStrategy(t *testing.T) {
	sm75 := Arch{Major: 7, Minor: 5}
	var linked [][]string
	var maxRegs []int
	linker := LinkerFunc(func(ptxes []string, arch Arch, maxRegisters int) ([]byte, error) {
		linked = append(linked, ptxes)
		maxRegs = append(maxRegs, maxRegisters)
		return []byte("linked:" + arch.SMName()), nil
	})
	reg := NewRegistry(&DriverStrategy{Linker: linker})
	lib := New(reg, nil).NewLibrary("lib")
	lib.MaxRegisters = 32
	lib.AddPTX(sm75, "first")
	lib.AddPTX(sm75, "second")

	out, err := lib.Cubin(sm75)
	require.NoError(t, err)
	assert.Equal(t, "linked:sm_75", string(out))
	assert.Equal(t, [][]string{{"first", "second"}}, linked)
	assert.Equal(t, []int{32}, maxRegs)

	again, err := lib.Cubin(sm75)
	require.NoError(t, err)
	assert.Equal(t, out, again)
	assert.Len(t, linked, 1, "second request must be served from the cache")

	t.Run("no ptx", func(t *testing.T) {
		_, err := lib.Cubin(Arch{Major: 8})
		assert.Equal(t, errs.State, errs.KindOf(err))
	})

	t.Run("link failure", func(t *testing.T) {
		failing := LinkerFunc(func([]string, Arch, int) ([]byte, error) { return nil, errors.New("ptxas failed") })
		lib := New(NewRegistry(&DriverStrategy{Linker: failing}), nil).NewLibrary("broken")
		lib.AddPTX(sm75, "x")
		_, err := lib.Cubin(sm75)
		assert.ErrorContains(t, err, "ptxas failed")
		_, ok := lib.CachedCubin(sm75)
		assert.False(t, ok)
	})
}
