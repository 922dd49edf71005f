package models

import "testing"

func TestSupportedFormats(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		ct     ConversionType
		format string
		input  bool
		want   bool
	}{
		{"png image input", TypeImage, "png", true, true},
		{"uppercase tolerated", TypeImage, "PNG", true, true},
		{"svg image input", TypeImage, "svg", true, true},
		{"svg not an output", TypeImage, "svg", false, false},
		{"docx document input", TypeDocument, "docx", true, true},
		{"document pdf output", TypeDocument, "pdf", false, true},
		{"wav audio input", TypeAudio, "wav", true, true},
		{"aac not an audio output", TypeAudio, "aac", false, false},
		{"pdf only pdf input", TypePDF, "png", true, false},
		{"pdf png output", TypePDF, "png", false, true},
		{"unknown category", ConversionType("hologram"), "png", true, false},
		{"nonsense format", TypeImage, "exe", true, false},
		{"empty format", TypeImage, "", true, false},
		{"path separator rejected", TypeImage, "png/../../x", true, false},
		{"dotted name rejected", TypeImage, "png.exe", false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got bool
			if tc.input {
				got = SupportedInputFormat(tc.ct, tc.format)
			} else {
				got = SupportedOutputFormat(tc.ct, tc.format)
			}
			if got != tc.want {
				t.Errorf("supported(%s, %q, input=%v) = %v, want %v", tc.ct, tc.format, tc.input, got, tc.want)
			}
		})
	}
}
