package tssgdt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mastermochi/mochi/internal/proctab"
	"github.com/mastermochi/mochi/internal/tssgdt"
)

func TestSelectorRPLMatchesBandRing(t *testing.T) {
	g := tssgdt.New()

	assert.EqualValues(t, 0, g.CodeSelector(proctab.KernelKind)&0x3)
	assert.EqualValues(t, 1, g.CodeSelector(proctab.DriverKind)&0x3)
	assert.EqualValues(t, 2, g.CodeSelector(proctab.ServerKind)&0x3)
	assert.EqualValues(t, 3, g.CodeSelector(proctab.UserKind)&0x3)
}

func TestSetKernelStackUpdatesESP0(t *testing.T) {
	var tss tssgdt.TSS
	g := tssgdt.New()

	tss.SetKernelStack(0xF0001000, g.DataSelector(proctab.KernelKind))
	assert.EqualValues(t, 0xF0001000, tss.ESP0)
}
