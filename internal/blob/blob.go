// Package blob recovers message text and audio transcription from the
// opaque attributedBody blob Messages.app stores when the plaintext column
// is empty. The format is an undocumented NSKeyedArchiver object graph; this
// is not a full decoder. It is a forensic marker scan with a validity
// predicate, robust against truncated or version-skewed input.
package blob

import (
	"bytes"
	"encoding/binary"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	markerNSString        = []byte("NSString")
	markerNSMutableString = []byte("NSMutableString")
	markerAudioTranscript = []byte("IMAudioTranscription")
	markerNSDotString     = []byte("NS.string")
)

// Decode recovers (messageText, audioTranscription) from an attributedBody
// blob. Either or both may be empty. Decode never panics on truncated or
// malformed input.
func Decode(data []byte) (messageText string, audioTranscription string) {
	return extractMessageText(data), extractAudioTranscription(data)
}

// indexOf returns the start offset of needle in haystack, or -1 if absent.
func indexOf(haystack, needle []byte) int {
	return bytes.Index(haystack, needle)
}

func extractMessageText(data []byte) string {
	for _, marker := range [][]byte{markerNSString, markerNSMutableString} {
		pos := indexOf(data, marker)
		if pos < 0 {
			continue
		}
		if text := scanLengthPrefixed(data[pos+len(marker):]); text != "" {
			return text
		}
	}
	return parseViaPlist(data)
}

// scanLengthPrefixed tries the three 0x2B-prefixed length encodings NSKeyedArchiver
// uses for plain text, returning the first candidate that passes
// isValidMessageText.
func scanLengthPrefixed(data []byte) string {
	for i := 0; i+1 < len(data); i++ {
		if data[i] != 0x2B {
			continue
		}
		rest := data[i+1:]
		if len(rest) < 1 {
			continue
		}

		switch rest[0] {
		case 0x81: // 2-byte little-endian length
			if len(rest) < 3 {
				continue
			}
			n := int(binary.LittleEndian.Uint16(rest[1:3]))
			if text, ok := takeValidText(rest[3:], n); ok {
				return text
			}
		case 0x82: // 4-byte little-endian length
			if len(rest) < 5 {
				continue
			}
			n := int(binary.LittleEndian.Uint32(rest[1:5]))
			if n >= 100_000 {
				continue
			}
			if text, ok := takeValidText(rest[5:], n); ok {
				return text
			}
		default: // 1-byte length
			n := int(rest[0])
			if n <= 0 || n >= 128 {
				continue
			}
			if text, ok := takeValidText(rest[1:], n); ok {
				return text
			}
		}
	}
	return ""
}

func takeValidText(data []byte, n int) (string, bool) {
	if n <= 0 || n > len(data) {
		return "", false
	}
	candidate := data[:n]
	if !utf8.Valid(candidate) {
		return "", false
	}
	text := string(candidate)
	if !isValidMessageText(text) {
		return "", false
	}
	return text, true
}

func isValidMessageText(text string) bool {
	if len(text) <= 1 {
		return false
	}
	for _, r := range text {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func extractAudioTranscription(data []byte) string {
	pos := indexOf(data, markerAudioTranscript)
	if pos < 0 {
		return ""
	}
	rest := data[pos+len(markerAudioTranscript):]

	for i := 0; i < len(rest); i++ {
		slice := rest[i:]

		if len(slice) > 4 && slice[0] == 0x81 {
			n := int(binary.LittleEndian.Uint16(slice[1:3]))
			if n > 10 && n < 5000 && len(slice) > 3+n {
				if text, ok := takeValidText(slice[3:3+n], n); ok {
					return strings.TrimSpace(text)
				}
			}
		}

		if len(slice) > 2 {
			n := int(slice[0])
			if n > 10 && n < 128 && len(slice) > 1+n {
				if text, ok := takeValidText(slice[1:1+n], n); ok {
					return strings.TrimSpace(text)
				}
			}
		}
	}
	return ""
}

// parseViaPlist is the fallback path for blobs where the NSString/
// NSMutableString marker scan turns up nothing: some attributedBody blobs
// keyed-archive the text under an NS.string field inside the archive's
// $objects array instead of next to a bare NSString marker. Rather than
// decode the full keyed-archiver plist, scan for the NS.string key literal
// directly and apply the same length-prefixed decode used elsewhere in this
// file to the bytes that follow it.
func parseViaPlist(data []byte) string {
	pos := indexOf(data, markerNSDotString)
	if pos < 0 {
		return ""
	}
	return scanLengthPrefixed(data[pos+len(markerNSDotString):])
}
