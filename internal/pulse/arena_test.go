package pulse

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/morph/internal/ir"
)

func TestArenaOpenSeal(t *testing.T) {
	a := NewArena()
	z, err := a.Open(a.Root())
	require.NoError(t, err)
	assert.Equal(t, 1, a.Depth())

	h, err := a.Alloc(z, ir.Int(7))
	require.NoError(t, err)

	v, err := a.Get(h)
	require.NoError(t, err)
	assert.Equal(t, ir.Int(7), v)

	n, err := a.Seal(z)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, a.Live())

	_, err = a.Get(h)
	assert.True(t, IsDanglingPulse(err), "reclaimed handle must be stale")
}

func TestArenaOpenRequiresInnermostOpenParent(t *testing.T) {
	a := NewArena()
	z1, err := a.Open(a.Root())
	require.NoError(t, err)
	_, err = a.Open(z1)
	require.NoError(t, err)

	_, err = a.Open(z1)
	assert.True(t, IsInvalidParent(err), "z1 is no longer innermost")

	_, err = a.Open(ZoneID(99))
	assert.True(t, IsInvalidParent(err))
}

func TestArenaOpenUnderSealedParent(t *testing.T) {
	a := NewArena()
	z1, _ := a.Open(a.Root())
	_, err := a.Seal(z1)
	require.NoError(t, err)

	_, err = a.Open(z1)
	assert.True(t, IsInvalidParent(err))
}

func TestArenaSealWithOpenDescendant(t *testing.T) {
	a := NewArena()
	z1, _ := a.Open(a.Root())
	_, _ = a.Open(z1)

	_, err := a.Seal(z1)
	assert.True(t, IsZoneNesting(err))

	_, err = a.Seal(a.Root())
	assert.True(t, IsZoneNesting(err))
}

func TestArenaSealTwice(t *testing.T) {
	a := NewArena()
	z1, _ := a.Open(a.Root())
	_, err := a.Seal(z1)
	require.NoError(t, err)
	_, err = a.Seal(z1)
	assert.True(t, IsZoneNesting(err))
}

func TestClaimMovesToDirectParent(t *testing.T) {
	a := NewArena()
	z1, _ := a.Open(a.Root())
	z2, _ := a.Open(z1)

	h, _ := a.Alloc(z2, ir.Str("kept"))
	require.NoError(t, a.Claim(h, z1))

	owner, err := a.Owner(h)
	require.NoError(t, err)
	assert.Equal(t, z1, owner)
	assert.True(t, a.Claimed(h))

	n, err := a.Seal(z2)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "claimed value is not reclaimed with its creation zone")

	v, err := a.Get(h)
	require.NoError(t, err)
	assert.Equal(t, ir.Str("kept"), v)
}

func TestClaimSkippingLevel(t *testing.T) {
	a := NewArena()
	z1, _ := a.Open(a.Root())
	z2, _ := a.Open(z1)
	z3, _ := a.Open(z2)

	h, _ := a.Alloc(z3, ir.Int(1))
	err := a.Claim(h, z1)
	assert.True(t, IsNotDirectParent(err))

	owner, _ := a.Owner(h)
	assert.Equal(t, z3, owner, "failed claim leaves ownership unchanged")
}

func TestClaimIntoSealedTarget(t *testing.T) {
	a := NewArena()
	z1, _ := a.Open(a.Root())
	z2, _ := a.Open(z1)
	h, _ := a.Alloc(z2, ir.Int(1))

	// Forge the situation by sealing the stack and reopening: the old z1 stays sealed.
	require.NoError(t, a.Unwind(z1))
	z4, _ := a.Open(a.Root())
	_, _ = a.Open(z4)

	err := a.Claim(h, z1)
	assert.True(t, IsDanglingPulse(err), "value was reclaimed by the unwind")

	h2, _ := a.Alloc(a.Top(), ir.Int(2))
	err = a.Claim(h2, z1)
	assert.True(t, IsOwnershipConflict(err))
}

// A value created k levels deep survives to the root after exactly k claims.
func TestClaimTransitiveAcrossLevels(t *testing.T) {
	const k = 3
	a := NewArena()
	zones := []ZoneID{a.Root()}
	for i := 0; i < k; i++ {
		z, err := a.Open(zones[len(zones)-1])
		require.NoError(t, err)
		zones = append(zones, z)
	}
	h, _ := a.Alloc(zones[k], ir.List{ir.Int(1), ir.Int(2)})

	for i := k; i > 0; i-- {
		require.NoError(t, a.Claim(h, zones[i-1]))
		_, err := a.Seal(zones[i])
		require.NoError(t, err)
	}

	owner, err := a.Owner(h)
	require.NoError(t, err)
	assert.Equal(t, a.Root(), owner)
	assert.Equal(t, 1, a.Live(), "loss-free: nothing else was allocated, nothing was lost")
}

func TestClaimMissingOneLevelDangles(t *testing.T) {
	a := NewArena()
	z1, _ := a.Open(a.Root())
	z2, _ := a.Open(z1)
	z3, _ := a.Open(z2)
	h, _ := a.Alloc(z3, ir.Int(1))

	require.NoError(t, a.Claim(h, z2))
	_, _ = a.Seal(z3)
	_, _ = a.Seal(z2) // second claim omitted

	_, err := a.Get(h)
	assert.True(t, IsDanglingPulse(err))
}

// Any interleaving of valid operations keeps zones a stack: sealed zones are
// exactly those popped, and no live value is owned by a sealed zone.
func TestZoneNestingIsAStack(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		a := NewArena()
		model := []ZoneID{a.Root()}
		var handles []Handle

		for step := 0; step < 60; step++ {
			switch rng.Intn(4) {
			case 0:
				z, err := a.Open(model[len(model)-1])
				require.NoError(t, err)
				model = append(model, z)
			case 1:
				if len(model) > 1 {
					top := model[len(model)-1]
					_, err := a.Seal(top)
					require.NoError(t, err)
					model = model[:len(model)-1]
				}
			case 2:
				h, err := a.Alloc(model[len(model)-1], ir.Int(int64(step)))
				require.NoError(t, err)
				handles = append(handles, h)
			case 3:
				if len(handles) > 0 && len(model) > 1 {
					h := handles[rng.Intn(len(handles))]
					if owner, err := a.Owner(h); err == nil && owner == model[len(model)-1] {
						require.NoError(t, a.Claim(h, model[len(model)-2]))
					}
				}
			}
			require.Equal(t, model[len(model)-1], a.Top())
			require.Equal(t, len(model)-1, a.Depth())
		}

		for _, h := range handles {
			owner, err := a.Owner(h)
			if err != nil {
				continue
			}
			status, ok := a.Status(owner)
			require.True(t, ok)
			require.Equal(t, ZoneOpen, status, "live value owned by a sealed zone")
		}
	}
}

func TestUnwindSealsThroughZone(t *testing.T) {
	a := NewArena()
	z1, _ := a.Open(a.Root())
	z2, _ := a.Open(z1)
	_, _ = a.Open(z2)
	_, _ = a.Alloc(z2, ir.Int(1))
	_, _ = a.Alloc(z1, ir.Int(2))
	_, _ = a.Alloc(a.Root(), ir.Int(3))

	require.NoError(t, a.Unwind(z1))
	assert.Equal(t, a.Root(), a.Top())
	assert.Equal(t, 1, a.Live())
}

func TestSlotReuseBumpsGeneration(t *testing.T) {
	a := NewArena()
	z1, _ := a.Open(a.Root())
	old, _ := a.Alloc(z1, ir.Int(1))
	_, _ = a.Seal(z1)

	z2, _ := a.Open(a.Root())
	fresh, _ := a.Alloc(z2, ir.Int(2))
	assert.Equal(t, old.Slot, fresh.Slot)
	assert.NotEqual(t, old.Gen, fresh.Gen)

	_, err := a.Get(old)
	assert.True(t, IsDanglingPulse(err))
}

func TestResetReopensRoot(t *testing.T) {
	a := NewArena()
	z1, _ := a.Open(a.Root())
	_, _ = a.Alloc(z1, ir.Int(1))
	a.Reset()

	assert.Equal(t, 0, a.Live())
	assert.Equal(t, a.Root(), a.Top())
	_, err := a.Open(a.Root())
	assert.NoError(t, err)
}

func TestErrorMessages(t *testing.T) {
	err := NewNotDirectParentError(3, 1)
	assert.Equal(t, "NOT_DIRECT_PARENT: claim target is not the direct parent of the owning zone (zone=3, target=1)", err.Error())

	se := staticError(ErrCodeDanglingPulse, "f/stmt[0]", "x")
	assert.Equal(t, "DANGLING_PULSE: x (at f/stmt[0])", se.Error())
}
