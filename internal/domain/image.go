package domain

import (
	"errors"
	"path"
	"strings"
)

// ImageBytes is an immutable file payload. Callers must not mutate Data after construction.
type ImageBytes struct {
	Name     string
	MIMEType string
	Data     []byte
}

func NewImageBytes(name, mimeType string, data []byte) (ImageBytes, error) {
	if len(data) == 0 {
		return ImageBytes{}, errors.New("image data is empty")
	}
	return ImageBytes{
		Name:     strings.TrimSpace(name),
		MIMEType: strings.TrimSpace(mimeType),
		Data:     data,
	}, nil
}

func (b ImageBytes) Len() int {
	return len(b.Data)
}

// BaseName is the file name up to its first dot, without directories.
// "holiday.final.png" yields "holiday"; an empty or dot-leading name yields "image".
func (b ImageBytes) BaseName() string {
	name := path.Base(strings.ReplaceAll(b.Name, "\\", "/"))
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSpace(name)
	if name == "" || name == "/" {
		return "image"
	}
	return name
}

// Extension is the lowercased text after the last dot of Name, or "".
func (b ImageBytes) Extension() string {
	name := path.Base(strings.ReplaceAll(b.Name, "\\", "/"))
	i := strings.LastIndexByte(name, '.')
	if i < 0 || i == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}
