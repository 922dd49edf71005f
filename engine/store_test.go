package engine

import (
	"testing"

	"convertd/models"
)

func TestExportSettingsAppliesTo(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		filter string
		ct     models.ConversionType
		want   bool
	}{
		{"empty filter matches", "", models.TypeImage, true},
		{"all matches", "all", models.TypeVideo, true},
		{"listed type matches", "image,pdf", models.TypePDF, true},
		{"unlisted type skipped", "image,pdf", models.TypeAudio, false},
		{"whitespace tolerated", " image , document ", models.TypeDocument, true},
		{"single type", "video", models.TypeVideo, true},
		{"single type mismatch", "video", models.TypeImage, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := ExportSettings{FilterTypes: tc.filter}
			if got := s.AppliesTo(tc.ct); got != tc.want {
				t.Errorf("AppliesTo(%s) with filter %q = %v, want %v", tc.ct, tc.filter, got, tc.want)
			}
		})
	}
}
