package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint_OrderIndependent(t *testing.T) {
	a := Fingerprint("europa_clipper", KindOutlays, []string{"AWD-1", "AWD-2"}, "outlays-v1")
	b := Fingerprint("europa_clipper", KindOutlays, []string{"AWD-2", "AWD-1"}, "outlays-v1")
	assert.Equal(t, a, b)
}

func TestFingerprint_SensitiveToAwardSet(t *testing.T) {
	base := Fingerprint("europa_clipper", KindOutlays, []string{"AWD-1"}, "outlays-v1")
	grown := Fingerprint("europa_clipper", KindOutlays, []string{"AWD-1", "AWD-2"}, "outlays-v1")
	assert.NotEqual(t, base, grown)
}

func TestFingerprint_SensitiveToLogicVersion(t *testing.T) {
	v1 := Fingerprint("europa_clipper", KindOutlays, []string{"AWD-1"}, "outlays-v1")
	v2 := Fingerprint("europa_clipper", KindOutlays, []string{"AWD-1"}, "outlays-v2")
	assert.NotEqual(t, v1, v2)
}

func TestFingerprint_SensitiveToMissionAndKind(t *testing.T) {
	a := Fingerprint("europa_clipper", KindOutlays, []string{"AWD-1"}, "v1")
	b := Fingerprint("psyche", KindOutlays, []string{"AWD-1"}, "v1")
	c := Fingerprint("europa_clipper", KindGeography, []string{"AWD-1"}, "v1")
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestFingerprint_DoesNotMutateInput(t *testing.T) {
	ids := []string{"Z", "A"}
	Fingerprint("m", KindOutlays, ids, "v1")
	assert.Equal(t, []string{"Z", "A"}, ids)
}
