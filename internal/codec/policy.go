package codec

// MarkerFacts are supplied by a metadata scan done before the decode session
// is opened.
type MarkerFacts struct {
	Adobe      bool `json:"adobe"`
	AdobeEmbed bool `json:"adobe_embed"`
}

// CMYKPolicy decides, once per session, whether decoded samples must be
// inverted. Photoshop writes CMYK JPEGs with inverted samples and marks them
// with an Adobe APP14 segment but no Adobe APP12 segment.
type CMYKPolicy struct {
	invert bool
}

// NewCMYKPolicy computes the policy for a stream with the given component count.
func NewCMYKPolicy(components int, facts MarkerFacts) CMYKPolicy {
	return CMYKPolicy{invert: components == 4 && facts.Adobe && !facts.AdobeEmbed}
}

// Active reports whether Apply changes samples.
func (p CMYKPolicy) Active() bool {
	return p.invert
}

// Apply inverts every sample in buf when the policy is active.
func (p CMYKPolicy) Apply(buf []byte) {
	if !p.invert {
		return
	}
	for i, v := range buf {
		buf[i] = 255 - v
	}
}
