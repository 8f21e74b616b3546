package firmware

import (
	"fmt"
	"time"
)

// DAC drives the waveform output. Codes are 16-bit, bipolar around the
// neutral mid-scale code.
type DAC interface {
	// SetCode commits a device code to the output.
	SetCode(code uint16) error
}

// ADC samples the transduced current signal.
type ADC interface {
	// Sample reads one raw code from the transducer.
	Sample() (int, error)
}

// ModeSetter is implemented by front ends whose current-range relay is
// switchable at runtime.
type ModeSetter interface {
	SetMode(mode int)
}

// ADCOpener opens a transducer at a candidate bus address.
type ADCOpener func(addr uint8) (ADC, error)

// DefaultADCAddresses are the bus addresses the transducer can strap to.
var DefaultADCAddresses = []uint8{0x48, 0x49}

// ProbeADC locates the transducer by trying each candidate address in
// order, with bounded retries per address. Discovery failure is fatal to
// startup.
func ProbeADC(open ADCOpener, addrs []uint8, retries int) (ADC, error) {
	if len(addrs) == 0 {
		addrs = DefaultADCAddresses
	}
	if retries < 1 {
		retries = 3
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		for _, addr := range addrs {
			adc, err := open(addr)
			if err != nil {
				lastErr = err
				logf("transducer probe failed at 0x%02x (attempt %d): %v", addr, attempt+1, err)
				continue
			}
			// A successful read confirms the part is really there.
			if _, err := adc.Sample(); err != nil {
				lastErr = err
				logf("transducer test read failed at 0x%02x (attempt %d): %v", addr, attempt+1, err)
				continue
			}
			return adc, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil, fmt.Errorf("no transducer found at addresses %v after %d attempts: %w", addrs, retries, lastErr)
}
