package models

import "strings"

// Supported formats per conversion category. A format not listed here is
// rejected at submission, before any artifact is written.
var (
	imageInputs  = []string{"png", "jpg", "jpeg", "gif", "bmp", "webp", "tiff", "ico", "avif", "qoi", "pnm", "tga", "dds", "hdr", "exr", "svg"}
	imageOutputs = []string{"png", "jpg", "jpeg", "webp", "bmp", "gif", "avif", "qoi", "tiff"}

	documentInputs  = []string{"txt", "md", "markdown", "html", "htm", "doc", "docx", "odt", "rtf", "xls", "xlsx", "ppt", "pptx"}
	documentOutputs = []string{"pdf", "txt", "html"}

	audioInputs  = []string{"mp3", "wav", "ogg", "flac", "aac", "m4a"}
	audioOutputs = []string{"mp3", "wav", "ogg", "flac"}

	videoInputs  = []string{"mp4", "avi", "mkv", "mov", "webm", "wmv"}
	videoOutputs = []string{"mp4", "webm", "avi", "gif"}

	pdfInputs  = []string{"pdf"}
	pdfOutputs = []string{"png", "jpg", "jpeg", "tiff"}
)

func inputFormats(ct ConversionType) []string {
	switch ct {
	case TypeImage:
		return imageInputs
	case TypeDocument:
		return documentInputs
	case TypeAudio:
		return audioInputs
	case TypeVideo:
		return videoInputs
	case TypePDF:
		return pdfInputs
	default:
		return nil
	}
}

func outputFormats(ct ConversionType) []string {
	switch ct {
	case TypeImage:
		return imageOutputs
	case TypeDocument:
		return documentOutputs
	case TypeAudio:
		return audioOutputs
	case TypeVideo:
		return videoOutputs
	case TypePDF:
		return pdfOutputs
	default:
		return nil
	}
}

// SupportedInputFormat reports whether the category accepts the format as
// input. Matching is case-insensitive.
func SupportedInputFormat(ct ConversionType, format string) bool {
	return contains(inputFormats(ct), format)
}

// SupportedOutputFormat reports whether the category can produce the format.
func SupportedOutputFormat(ct ConversionType, format string) bool {
	return contains(outputFormats(ct), format)
}

func contains(formats []string, format string) bool {
	format = strings.ToLower(format)
	for _, f := range formats {
		if f == format {
			return true
		}
	}
	return false
}
