// Package piano connects a MIDI keyboard through portmidi
package piano

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rakyll/portmidi"
	log "github.com/sirupsen/logrus"

	"github.com/spirio-sessions/hmmmusictool/player"
)

const (
	noteOn  = 0x90
	noteOff = 0x80
)

// Piano is a MIDI keyboard with an input and an output stream
type Piano struct {
	InputDevice  portmidi.DeviceID
	OutputDevice portmidi.DeviceID
	outputStream *portmidi.Stream
	inputStream  *portmidi.Stream
	keys         chan player.Key
	sync.Mutex
}

// New opens the last input and output devices found. Optionally you can
// pass the input and output ports, respectively.
func New(ports ...int) (p *Piano, err error) {
	p = new(Piano)
	logger := log.WithFields(log.Fields{
		"function": "Piano.New",
	})
	logger.Debug("Initializing portmidi...")
	if err = portmidi.Initialize(); err != nil {
		return nil, errors.Wrap(err, "portmidi")
	}
	numDevices := portmidi.CountDevices()
	logger.Debugf("Found %d devices", numDevices)
	for i := 0; i < numDevices; i++ {
		deviceInfo := portmidi.Info(portmidi.DeviceID(i))
		inputOutput := "input"
		if deviceInfo.IsOutputAvailable {
			inputOutput = "output"
			p.OutputDevice = portmidi.DeviceID(i)
		} else {
			p.InputDevice = portmidi.DeviceID(i)
		}
		logger.Debugf("%d) %s %s %s", i, deviceInfo.Interface, deviceInfo.Name, inputOutput)
	}
	if len(ports) == 2 {
		p.InputDevice = portmidi.DeviceID(ports[0])
		p.OutputDevice = portmidi.DeviceID(ports[1])
	}
	logger.Infof("Using input device %d and output device %d", p.InputDevice, p.OutputDevice)

	if p.outputStream, err = portmidi.NewOutputStream(p.OutputDevice, 1024, 0); err != nil {
		portmidi.Terminate()
		return nil, errors.Wrapf(err, "output stream of device %d", p.OutputDevice)
	}
	if p.inputStream, err = portmidi.NewInputStream(p.InputDevice, 1024); err != nil {
		p.outputStream.Close()
		portmidi.Terminate()
		return nil, errors.Wrapf(err, "input stream of device %d", p.InputDevice)
	}
	p.keys = make(chan player.Key, 64)
	go p.listen()
	return p, nil
}

func (p *Piano) listen() {
	for event := range p.inputStream.Listen() {
		key, ok := player.ParseKey(event.Status, event.Data1, event.Data2)
		if !ok {
			continue
		}
		p.keys <- key
	}
}

// Keys delivers the presses and releases of the keyboard
func (p *Piano) Keys() <-chan player.Key {
	return p.keys
}

// NoteOn sounds pitch
func (p *Piano) NoteOn(pitch, velocity int) error {
	p.Lock()
	defer p.Unlock()
	return p.outputStream.WriteShort(noteOn, int64(pitch), int64(velocity))
}

// NoteOff releases pitch
func (p *Piano) NoteOff(pitch int) error {
	p.Lock()
	defer p.Unlock()
	return p.outputStream.WriteShort(noteOff, int64(pitch), 0)
}

// Close will shutdown the streams
// and gracefully terminate.
func (p *Piano) Close() (err error) {
	logger := log.WithFields(log.Fields{
		"function": "Piano.Close",
	})
	logger.Debug("Closing output stream")
	p.outputStream.Close()
	logger.Debug("Closing input stream")
	p.inputStream.Close()
	logger.Debug("Terminating portmidi")
	portmidi.Terminate()
	return
}
