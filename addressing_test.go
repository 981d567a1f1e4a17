package vsm

import (
	"testing"

	"github.com/bwarrum-ibm/ibmvsm/platform"
	"github.com/bwarrum-ibm/ibmvsm/test"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadAddressing(t *testing.T) {
	l := test.NewLogger()

	tests := []struct {
		name  string
		props map[string][]byte
		want  platform.Addressing
		err   error
	}{
		{
			name: "two cell address and size",
			props: map[string][]byte{
				propDMAWindow:    platform.Cells(0x10, 0, 0, 0, 0x1000, 0x20, 0, 0, 0, 0x1000),
				propAddressCells: platform.Cells(2),
				propSizeCells:    platform.Cells(2),
			},
			want: platform.Addressing{UnitAddress: testUnit, LIOBN: 0x10, RIOBN: 0x20},
		},
		{
			name: "one cell address, two cell size",
			props: map[string][]byte{
				propDMAWindow:    platform.Cells(0x10, 0, 0, 0x1000, 0x20, 0, 0, 0x1000),
				propAddressCells: platform.Cells(1),
				propSizeCells:    platform.Cells(2),
			},
			want: platform.Addressing{UnitAddress: testUnit, LIOBN: 0x10, RIOBN: 0x20},
		},
		{
			name: "cell counts missing",
			props: map[string][]byte{
				propDMAWindow: platform.Cells(0x10, 0, 0x1000, 0x20, 0, 0x1000),
			},
			want: platform.Addressing{UnitAddress: testUnit, LIOBN: 0x10, RIOBN: 0x20},
		},
		{
			name:  "no window",
			props: map[string][]byte{},
			err:   ErrConfigurationMissing,
		},
		{
			name: "window too short for the remote bus",
			props: map[string][]byte{
				propDMAWindow:    platform.Cells(0x10, 0, 0, 0, 0x1000),
				propAddressCells: platform.Cells(2),
				propSizeCells:    platform.Cells(2),
			},
			err: ErrConfigurationMissing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &platform.Node{Unit: testUnit, Properties: tt.props}
			got, err := readAddressing(dev, logrus.NewEntry(l))
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadAddressing_WarnsOnMissingCells(t *testing.T) {
	l, out := test.NewBufferLogger()

	dev := &platform.Node{Unit: testUnit, Properties: map[string][]byte{
		propDMAWindow: platform.Cells(0x10, 0, 0x1000, 0x20, 0, 0x1000),
		propSizeCells: platform.Cells(1),
	}}
	_, err := readAddressing(dev, logrus.NewEntry(l))
	require.NoError(t, err)
	assert.Equal(t, "level=warning msg=\"Device property is missing, assuming 1 cell\" property=\"ibm,#dma-address-cells\"\n", out.String())
}
