// pkg/audio/audio.go
package audio

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Containers that carry voice notes but are reported under video/.
var audioContainers = map[string]bool{
	"video/mp4":  true,
	"video/webm": true,
	"video/3gpp": true,
}

// Detect returns the sniffed MIME type and file extension of data.
func Detect(data []byte) (string, string) {
	m := mimetype.Detect(data)
	return m.String(), m.Extension()
}

// ValidateAudio checks that data looks like a supported audio file.
func ValidateAudio(data []byte) error {
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		base := strings.SplitN(m.String(), ";", 2)[0]
		if strings.HasPrefix(base, "audio/") || audioContainers[base] {
			return nil
		}
	}
	contentType, _ := Detect(data)
	return fmt.Errorf("invalid file type: %s, only audio allowed", contentType)
}

// Filename names data for upstream APIs that infer the format from the
// extension. Unknown formats fall back to .m4a, the recorder default.
func Filename(base string, data []byte) string {
	_, ext := Detect(data)
	if ext == "" {
		ext = ".m4a"
	}
	return base + ext
}
