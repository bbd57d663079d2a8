package extractor

import (
	"strings"

	"github.com/pkg/errors"
)

// Kind labels the extracted images in their file names.
type Kind string

const (
	KindRGB   Kind = "rgb"
	KindDepth Kind = "depth"
)

// ClassifyTopic derives the kind from the topic name. "rgb" is checked before "depth",
// so a topic containing both is rgb.
func ClassifyTopic(topic string) (Kind, error) {
	switch {
	case strings.Contains(topic, string(KindRGB)):
		return KindRGB, nil
	case strings.Contains(topic, string(KindDepth)):
		return KindDepth, nil
	default:
		return "", &Error{
			Kind: ErrConfiguration,
			Err:  errors.Errorf("can't tell the image kind of topic %q, it must contain %q or %q", topic, KindRGB, KindDepth),
		}
	}
}
