package exporter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/gosom/gmaps-extractor/models"
)

func sample() []models.Record {
	return []models.Record{
		{
			Name:         "Cafe One",
			Category:     "Coffee shop",
			Phone:        "+30 210 1234567",
			Website:      "https://one.example",
			Rating:       4.5,
			ReviewsCount: 120,
			OpeningHours: []string{"Monday 8-20", "Tuesday 8-20"},
			Reviews:      []models.Review{{Author: "ann", Rating: 5, Text: "great"}},
		},
		{Name: "Cafe, Two", Phone: "+30 210 7654321"},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatCSV, false},
		{"CSV", FormatCSV, false},
		{" xlsx ", FormatXLSX, false},
		{"json", FormatJSON, false},
		{"pdf", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseFormat(tc.in)
			if tc.wantErr {
				assert.ErrorIs(t, err, models.ErrBadRequest)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRenderCSV(t *testing.T) {
	out, err := New().Render(context.Background(), sample(), FieldSpec{Format: FormatCSV})
	require.NoError(t, err)
	assert.Equal(t, "csv", out.Extension)

	rows, err := csv.NewReader(bytes.NewReader(out.Data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, (&models.Record{}).CsvHeaders(), rows[0])
	assert.Equal(t, "Cafe One", rows[1][0])
	assert.Equal(t, "4.5", rows[1][6])
	assert.Equal(t, "Monday 8-20; Tuesday 8-20", rows[1][9])
	assert.Equal(t, "ann (5): great", rows[1][10])
	assert.Equal(t, "Cafe, Two", rows[2][0])
}

func TestRenderCSVColumns(t *testing.T) {
	out, err := New().Render(context.Background(), sample(), FieldSpec{Columns: []string{"phone", "name"}})
	require.NoError(t, err)

	rows, err := csv.NewReader(bytes.NewReader(out.Data)).ReadAll()
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"phone", "name"},
		{"+30 210 1234567", "Cafe One"},
		{"+30 210 7654321", "Cafe, Two"},
	}, rows)
}

func TestRenderUnknownColumn(t *testing.T) {
	_, err := New().Render(context.Background(), sample(), FieldSpec{Columns: []string{"nope"}})
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestRenderJSON(t *testing.T) {
	out, err := New().Render(context.Background(), sample(), FieldSpec{Format: FormatJSON})
	require.NoError(t, err)

	var names []string

	sc := bufio.NewScanner(bytes.NewReader(out.Data))
	for sc.Scan() {
		var r models.Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		names = append(names, r.Name)
	}

	assert.Equal(t, []string{"Cafe One", "Cafe, Two"}, names)
}

func TestRenderXLSX(t *testing.T) {
	out, err := New().Render(context.Background(), sample(), FieldSpec{Format: FormatXLSX})
	require.NoError(t, err)
	assert.Equal(t, "xlsx", out.Extension)

	f, err := excelize.OpenReader(bytes.NewReader(out.Data))
	require.NoError(t, err)

	defer f.Close()

	assert.Equal(t, []string{sheetName}, f.GetSheetList())

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "name", rows[0][0])
	assert.Equal(t, "Cafe One", rows[1][0])

	v, err := f.GetCellValue(sheetName, "G2")
	require.NoError(t, err)
	assert.Equal(t, "4.5", v)

	typ, err := f.GetCellType(sheetName, "H2")
	require.NoError(t, err)
	assert.NotEqual(t, excelize.CellTypeSharedString, typ)
}
