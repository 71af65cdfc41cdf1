package pipeline

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/sylvanops/cogate/pkg/wav"
)

// chimeSampleRate keeps generated cues cheap; aplay resamples fine.
const chimeSampleRate = 22050

// errorChime is the low tone queued when a spoken exchange fails, so the
// user hears that no reply is coming.
var errorChime = chime(330, 180*time.Millisecond)

// chime synthesizes a mono sine tone as a WAV blob. The amplitude fades
// linearly to zero so the tone ends without a click.
func chime(freq float64, d time.Duration) []byte {
	n := int(chimeSampleRate * d.Seconds())
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		amp := 0.4 * float64(n-i) / float64(n)
		v := int16(amp * math.MaxInt16 * math.Sin(2*math.Pi*freq*float64(i)/chimeSampleRate))
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(v))
	}
	return wav.Encode(pcm, wav.Format{SampleRate: chimeSampleRate, Channels: 1})
}
