package lattice

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeaksJSON(t *testing.T) {
	ps, err := ParsePeaksJSON([]byte(`{"sample": "quartz", "q": [[0.1, 0.2, 0.3], [-1, 0, 2.5]]}`))
	require.NoError(t, err)
	assert.Equal(t, "quartz", ps.SampleID)
	assert.Equal(t, []r3.Vector{{X: 0.1, Y: 0.2, Z: 0.3}, {X: -1, Y: 0, Z: 2.5}}, ps.Q)

	_, err = ParsePeaksJSON([]byte(`{"sample": "empty", "q": []}`))
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = ParsePeaksJSON([]byte(`{"q": [[1, 2]]`))
	assert.Error(t, err)
}

func TestPeakSetMarshalJSON(t *testing.T) {
	ps := PeakSet{SampleID: "nacl", Q: []r3.Vector{{X: 1, Y: 2, Z: 3}}}
	data, err := json.Marshal(ps)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sample": "nacl", "q": [[1, 2, 3]]}`, string(data))
}

func TestParsePeaksText(t *testing.T) {
	text := `# qx qy qz intensity
0.1 0.2 0.3 1500

  -1   0  2.5
# trailing comment
`
	ps, err := ParsePeaksText([]byte(text))
	require.NoError(t, err)
	assert.Equal(t, []r3.Vector{{X: 0.1, Y: 0.2, Z: 0.3}, {X: -1, Y: 0, Z: 2.5}}, ps.Q)
	assert.Empty(t, ps.SampleID)

	tests := []struct {
		name string
		text string
	}{
		{"too few columns", "0.1 0.2\n"},
		{"not a number", "0.1 abc 0.3\n"},
		{"only comments", "# nothing\n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePeaksText([]byte(tt.text))
			assert.Error(t, err)
		})
	}

	for _, text := range []string{"0.1 NaN 0.3\n", "0.1 0.2 -Inf\n", "0 0 1\n+inf 0 0\n"} {
		_, err := ParsePeaksText([]byte(text))
		assert.ErrorIs(t, err, ErrInsufficientData, "%q", text)
	}
}

func TestParsePeaksDetectsFormat(t *testing.T) {
	ps, err := ParsePeaks([]byte("  {\"sample\": \"a\", \"q\": [[1, 0, 0]]}"))
	require.NoError(t, err)
	assert.Equal(t, "a", ps.SampleID)

	ps, err = ParsePeaks([]byte("1 0 0\n0 1 0\n"))
	require.NoError(t, err)
	assert.Len(t, ps.Q, 2)
}

func TestParsePeaksFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run42.txt")
	require.NoError(t, os.WriteFile(path, []byte("1 0 0\n0 1 0\n0 0 1\n"), 0644))

	ps, err := ParsePeaksFile(path)
	require.NoError(t, err)
	assert.Equal(t, "run42", ps.SampleID)
	assert.Len(t, ps.Q, 3)

	_, err = ParsePeaksFile(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}

func TestParseUB(t *testing.T) {
	want := Mat3{{0.2, 0, 0}, {0, 0.25, 0}, {0, 0.01, 0.125}}

	tests := []struct {
		name string
		data string
	}{
		{"json array", `[[0.2, 0, 0], [0, 0.25, 0], [0, 0.01, 0.125]]`},
		{"json object", `{"ub": [[0.2, 0, 0], [0, 0.25, 0], [0, 0.01, 0.125]], "fitError": 0}`},
		{"text rows", "# UB\n0.2 0 0\n0 0.25 0\n0 0.01 0.125\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUB([]byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}

	_, err := ParseUB([]byte("1 0 0\n0 1 0\n"))
	assert.Error(t, err)
	_, err = ParseUB([]byte(`{"lattice": {}}`))
	assert.Error(t, err)
}

func TestParseUBFileFromResult(t *testing.T) {
	ub := orientedUB(LatticeParams{A: 4, B: 6, C: 9, Alpha: 90, Beta: 90, Gamma: 90})
	data, err := json.Marshal(IndexResult{UB: ub})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ub.json")
	require.NoError(t, os.WriteFile(path, data, 0644))

	got, err := ParseUBFile(path)
	require.NoError(t, err)
	assert.Equal(t, ub, got)

	_, err = ParseUBFile(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
