package voicepipeline

import "encoding/binary"

// resample converts 16-bit little-endian mono PCM from fromRate to
// toRate by linear interpolation. A pass-through when the rates match
// covers the common case (48kHz JACK feeding a 48kHz-native
// recognizer); the interpolation path exists for the 48kHz JACK /
// 16kHz STT mismatch that matters in practice. No resampling library
// appears anywhere in the retrieved corpus, so this is hand-rolled —
// see DESIGN.md.
func resample(pcm []byte, fromRate, toRate int) []byte {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		return pcm
	}

	in := pcmToInt16(pcm)
	if len(in) == 0 {
		return nil
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(float64(len(in)) / ratio)
	if outLen < 1 {
		outLen = 1
	}
	out := make([]int16, outLen)

	for i := range out {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := srcPos - float64(idx)

		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		a := float64(in[idx])
		b := float64(in[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}

	return int16ToPCM(out)
}

func pcmToInt16(pcm []byte) []int16 {
	n := len(pcm) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

func int16ToPCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
