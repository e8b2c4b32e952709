// Package audio defines the sample types shared by every stage of the capture
// pipeline and the conversions between them.
//
// The two primary types are:
//
//   - [Frame]: a block of normalised mono float samples at [SampleRate].
//   - [Payload]: the wire form of a reference block: base64 PCM16 plus a timestamp.
//
// Helpers convert between normalised floats and little-endian PCM16, and
// [FormatConverter] brings raw PCM from devices or subprocesses with other
// rates or channel counts to the pipeline format.
//
// This package lives under pkg/ because external capture sources are expected
// to produce [Frame] and [Payload] values.
package audio
