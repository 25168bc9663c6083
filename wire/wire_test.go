package wire_test

import (
	"github.com/jt05610/flowchem/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestEncode(t *testing.T) {
	pins := wire.Pins{Step: 2, Dir: 5}
	for _, tc := range []struct {
		name   string
		record wire.Record
		want   string
	}{
		{
			name:   "basic",
			record: wire.BasicCommand(pins, 126.5, "forward"),
			want:   `{"type":"basic","stepPin":2,"dirPin":5,"freq":126.5,"direction":"forward"}` + "\n",
		},
		{
			name:   "stop",
			record: wire.StopCommand(pins),
			want:   `{"type":"stop","stepPin":2,"dirPin":5}` + "\n",
		},
		{
			name:   "timed",
			record: wire.TimedCommand(pins, 10, "backward", 90*time.Second),
			want:   `{"type":"timed","stepPin":2,"dirPin":5,"freq":10,"direction":"backward","timeValue":90,"timeUnit":"s"}` + "\n",
		},
		{
			name:   "zero_freq",
			record: wire.BasicCommand(pins, 0, "forward"),
			want:   `{"type":"basic","stepPin":2,"dirPin":5,"freq":0,"direction":"forward"}` + "\n",
		},
		{name: "irate", record: wire.InfuseRate(0.25), want: "irate 0.25 m/m\r"},
		{name: "svolume", record: wire.SyringeVolume(10), want: "svolume 10 ml\r"},
		{name: "diameter", record: wire.Diameter(14.57), want: "diameter 14.57\r"},
		{name: "irun", record: wire.InfuseRun(), want: "irun\r"},
		{name: "halt", record: wire.Halt(), want: "stop\r"},
		{name: "valve", record: wire.Go(3), want: "GO3\r"},
		{name: "terminator", record: wire.Text{Body: "ping", Terminator: "\n"}, want: "ping\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			bb, err := tc.record.Encode()
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(bb))
		})
	}
}

func TestTimeValue(t *testing.T) {
	for _, tc := range []struct {
		d    time.Duration
		v    float64
		unit string
	}{
		{2 * time.Hour, 2, "hr"},
		{90 * time.Minute, 90, "m"},
		{1500 * time.Millisecond, 1500, "ms"},
		{time.Second, 1, "s"},
		{1500 * time.Microsecond, 1.5, "ms"},
	} {
		t.Run(tc.d.String(), func(t *testing.T) {
			v, unit := wire.TimeValue(tc.d)
			assert.Equal(t, tc.v, v)
			assert.Equal(t, tc.unit, unit)
		})
	}
}
