package render

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnsupportedAspectRatio = errors.New("unsupported aspect ratio")

type AspectRatio string

const (
	AspectSquare    AspectRatio = "1:1"
	AspectWide      AspectRatio = "16:9"
	AspectTall      AspectRatio = "9:16"
	AspectLandscape AspectRatio = "4:3"
	AspectPortrait  AspectRatio = "3:4"
)

var aspectRatios = []AspectRatio{AspectSquare, AspectWide, AspectTall, AspectLandscape, AspectPortrait}

// AspectRatios lists the supported ratios in menu order.
func AspectRatios() []AspectRatio {
	return append([]AspectRatio(nil), aspectRatios...)
}

// ParseAspectRatio accepts one of AspectRatios. A blank value means 1:1.
func ParseAspectRatio(s string) (AspectRatio, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if s == "" {
		return AspectSquare, nil
	}
	for _, a := range aspectRatios {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedAspectRatio, s)
}

func (a AspectRatio) String() string { return string(a) }
