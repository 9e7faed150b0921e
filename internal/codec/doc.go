// Package codec wraps the JPEG codec engine behind scanline-oriented decode
// and encode sessions.
//
// A DecodeSession pulls a compressed stream through a bridge.DataProvider,
// exposes the header geometry, and hands out interleaved scanlines on demand.
// An EncodeSession accepts scanlines and optional APPn/COM segments and pushes
// the finished stream through a bridge.DataReceiver.
//
// Each session owns exactly one engine handle. Close releases it and may be
// called any number of times. Errors carry a Kind that callers can test with
// errors.Is against the package sentinels:
//
//	if errors.Is(err, codec.ErrMalformedStream) {
//	    // not a JPEG, or a corrupt header
//	}
//
// CMYKPolicy decides whether the samples of a 4-component stream need the
// Adobe inversion. The decision is computed once per image from the marker
// facts and then applied to every strip.
package codec
