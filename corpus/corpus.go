// Package corpus reads standard MIDI files into note events for pretraining
package corpus

import (
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/spirio-sessions/hmmmusictool/discrete"
	"github.com/spirio-sessions/hmmmusictool/hmm"
	"github.com/spirio-sessions/hmmmusictool/music"
)

// DrumChannel is the zero based General MIDI percussion channel
const DrumChannel = 9

// Recording is one parsed file. Every voice holds the notes of one track
// and channel ordered by onset.
type Recording struct {
	Name   string
	Voices [][]music.Event
}

// Len returns the number of notes in all voices
func (r Recording) Len() int {
	n := 0
	for _, v := range r.Voices {
		n += len(v)
	}
	return n
}

type tempoChange struct {
	tick  int64
	tempo int // microseconds per beat
}

// timeline converts absolute ticks to ms following the tempo map
type timeline struct {
	resolution int
	changes    []tempoChange
}

func (tl timeline) ms(tick int64) (float64, error) {
	total := 0.0
	last := int64(0)
	tempo := discrete.DefaultTempo
	for _, c := range tl.changes {
		if c.tick >= tick {
			break
		}
		seg, err := discrete.TicksToMs(int(c.tick-last), tl.resolution, tempo)
		if err != nil {
			return 0, err
		}
		total += seg
		last, tempo = c.tick, c.tempo
	}
	seg, err := discrete.TicksToMs(int(tick-last), tl.resolution, tempo)
	if err != nil {
		return 0, err
	}
	return total + seg, nil
}

type voiceKey struct {
	track   int
	channel uint8
}

type pending struct {
	tick     int64
	velocity uint8
}

// ReadFile parses a standard MIDI file. Drum channel notes and keys off the
// piano are left out. Files without a metrical time format fail with
// discrete.ErrMissingTimingInfo.
func ReadFile(path string) (Recording, error) {
	rec := Recording{Name: filepath.Base(path)}
	s, err := smf.ReadFile(path)
	if err != nil {
		return rec, errors.Wrap(err, path)
	}
	ticks, ok := s.TimeFormat.(smf.MetricTicks)
	if !ok || ticks.Resolution() == 0 {
		return rec, errors.Wrap(discrete.ErrMissingTimingInfo, path)
	}
	tl := timeline{resolution: int(ticks.Resolution())}

	type span struct {
		start, end int64
		key, vel   uint8
	}
	spans := map[voiceKey][]span{}
	order := []voiceKey{}
	for ti, track := range s.Tracks {
		var tick int64
		open := map[[2]uint8][]pending{}
		for _, ev := range track {
			tick += int64(ev.Delta)
			var bpm float64
			var ch, key, vel uint8
			switch {
			case ev.Message.GetMetaTempo(&bpm):
				if bpm > 0 {
					tl.changes = append(tl.changes, tempoChange{tick: tick, tempo: int(60000000 / bpm)})
				}
			case midi.Message(ev.Message).GetNoteStart(&ch, &key, &vel):
				open[[2]uint8{ch, key}] = append(open[[2]uint8{ch, key}], pending{tick: tick, velocity: vel})
			case midi.Message(ev.Message).GetNoteEnd(&ch, &key):
				k := [2]uint8{ch, key}
				if len(open[k]) == 0 {
					continue
				}
				p := open[k][0]
				open[k] = open[k][1:]
				if ch == DrumChannel || !music.OnKeyboard(int(key)) {
					continue
				}
				vk := voiceKey{track: ti, channel: ch}
				if _, seen := spans[vk]; !seen {
					order = append(order, vk)
				}
				spans[vk] = append(spans[vk], span{start: p.tick, end: tick, key: key, vel: p.velocity})
			}
		}
	}
	sort.SliceStable(tl.changes, func(i, j int) bool { return tl.changes[i].tick < tl.changes[j].tick })

	for _, vk := range order {
		notes := spans[vk]
		sort.SliceStable(notes, func(i, j int) bool { return notes[i].start < notes[j].start })
		voice := make([]music.Event, 0, len(notes))
		for _, n := range notes {
			start, err := tl.ms(n.start)
			if err != nil {
				return rec, errors.Wrap(err, path)
			}
			end, err := tl.ms(n.end)
			if err != nil {
				return rec, errors.Wrap(err, path)
			}
			voice = append(voice, music.Event{
				Pitch:    int(n.key),
				Duration: (end - start) / 1000,
				Velocity: int(n.vel),
				Onset:    start / 1000,
			})
		}
		rec.Voices = append(rec.Voices, voice)
	}
	return rec, nil
}

// ReadDir parses every .mid file of a directory. Unreadable files are
// logged and skipped.
func ReadDir(dir string) ([]Recording, error) {
	logger := log.WithFields(log.Fields{
		"function": "corpus.ReadDir",
	})
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "corpus")
	}
	recordings := []Recording{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".mid") {
			continue
		}
		rec, err := ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			logger.Warnf("skipping %s: %s", entry.Name(), err)
			continue
		}
		logger.Debugf("read %d notes from %s", rec.Len(), rec.Name)
		recordings = append(recordings, rec)
	}
	return recordings, nil
}

// Pairs encodes recordings into one training sequence together with the
// onset of every pair in seconds. A silence inside the rest band before a
// note becomes a rest pair starting where the previous note ended.
func Pairs(recordings []Recording, d *discrete.Discretizer) ([]hmm.Pair, []float64) {
	pairs := []hmm.Pair{}
	onsets := []float64{}
	for _, rec := range recordings {
		for _, voice := range rec.Voices {
			prev, end := 0, 0.0
			for _, ev := range voice {
				if gap := (ev.Onset - end) * 1000; d.IsRest(gap) {
					if p, err := d.Encode(music.Event{Rest: true, Duration: gap / 1000, Onset: end}, prev); err == nil {
						pairs = append(pairs, p)
						onsets = append(onsets, end)
					}
				}
				p, err := d.Encode(ev, prev)
				if err != nil {
					continue
				}
				pairs = append(pairs, p)
				onsets = append(onsets, ev.Onset)
				prev, end = ev.Pitch, math.Max(end, ev.Onset+ev.Duration)
			}
		}
	}
	return pairs, onsets
}
