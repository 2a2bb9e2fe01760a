package model

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadInputCSV_CanonicalHeaders(t *testing.T) {
	input := strings.Join([]string{
		"density,sleeve,depth,foe_rih,foe_pooh",
		"10.5,1,15000,0,0",
		"11.2,,16000,-5000,",
	}, "\n")

	rows, err := ReadInputCSV(strings.NewReader(input))
	require.NoError(t, err)

	want := []InputRow{
		{Density: "10.5", Sleeve: "1", Depth: "15000", ForceRIH: "0", ForcePOOH: "0"},
		{Density: "11.2", Depth: "16000", ForceRIH: "-5000"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestReadInputCSV_WorksheetCaptions(t *testing.T) {
	input := strings.Join([]string{
		`"Density of Pipe Fluid (PPG)","Input Depth (ft)","RIH-WOB","POOH-WOB"`,
		"9.8,12000,0,1000",
	}, "\n")

	rows, err := ReadInputCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "9.8", rows[0].Density)
	assert.Equal(t, "12000", rows[0].Depth)
	assert.Equal(t, "0", rows[0].ForceRIH)
	assert.Equal(t, "1000", rows[0].ForcePOOH)
}

func TestReadInputCSV_IgnoresUnknownColumns(t *testing.T) {
	input := strings.Join([]string{
		"density,comment,depth",
		"10,operator note,1000",
	}, "\n")

	rows, err := ReadInputCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "10", rows[0].Density)
	assert.Equal(t, "1000", rows[0].Depth)
}

func TestReadInputCSV_RaggedRowsKeepParsing(t *testing.T) {
	input := strings.Join([]string{
		"density,depth,foe_rih",
		"10,1000",
		"11,2000,0",
	}, "\n")

	rows, err := ReadInputCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Empty(t, rows[0].ForceRIH)
	assert.Equal(t, "0", rows[1].ForceRIH)
}

func TestReadInputCSV_NoRecognizedColumns(t *testing.T) {
	_, err := ReadInputCSV(strings.NewReader("a,b\n1,2\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no recognized columns")
}

func TestReadInputCSV_Empty(t *testing.T) {
	_, err := ReadInputCSV(strings.NewReader(""))
	require.Error(t, err)
}

func TestModeSet_ZeroValueCoversAll(t *testing.T) {
	var set ModeSet
	assert.True(t, set.Contains(ModeRIH))
	assert.True(t, set.Contains(ModePOOH))
	assert.Equal(t, []string{"RIH", "POOH"}, set.Names())
}

func TestModeSet_ExplicitSelection(t *testing.T) {
	set := NewModeSet(ModePOOH)
	assert.False(t, set.Contains(ModeRIH))
	assert.True(t, set.Contains(ModePOOH))
	assert.Equal(t, []string{"POOH"}, set.Names())
}

func TestModeSet_EmptyConstructorCoversAll(t *testing.T) {
	set := NewModeSet()
	assert.True(t, set.Contains(ModeRIH))
	assert.True(t, set.Contains(ModePOOH))
}
