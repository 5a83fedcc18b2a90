package sensor

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"
)

const hectoPascal = 100 * physic.Pascal

// Device defines the interface for reading from the local environmental sensor
type Device interface {
	// ReadTemperature returns the temperature in °C
	ReadTemperature() (float64, error)

	// ReadHumidity returns the relative humidity in %
	ReadHumidity() (float64, error)

	// ReadPressure returns the barometric pressure in hPa
	ReadPressure() (float64, error)

	// Close releases the bus
	Close() error
}

// Compile-time interface check
var _ Device = (*BME280)(nil)

// BME280 implements Device for a Bosch BME280 on I2C
type BME280 struct {
	mu  sync.Mutex
	bus i2c.BusCloser
	dev *bmxx80.Dev
}

// NewBME280 opens the I2C bus (empty name selects the default, usually
// /dev/i2c-1) and initializes the chip at addr
func NewBME280(busName string, addr uint16) (*BME280, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize host drivers: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open i2c bus %q: %w", busName, err)
	}

	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to initialize bme280 at %#x: %w", addr, err)
	}

	return &BME280{bus: bus, dev: dev}, nil
}

// sense takes one forced measurement
func (b *BME280) sense() (physic.Env, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var env physic.Env
	if err := b.dev.Sense(&env); err != nil {
		return env, fmt.Errorf("bme280 sense: %w", err)
	}
	return env, nil
}

func (b *BME280) ReadTemperature() (float64, error) {
	env, err := b.sense()
	if err != nil {
		return 0, err
	}
	temperature, _, _ := envToValues(env)
	return temperature, nil
}

func (b *BME280) ReadHumidity() (float64, error) {
	env, err := b.sense()
	if err != nil {
		return 0, err
	}
	_, humidity, _ := envToValues(env)
	return humidity, nil
}

func (b *BME280) ReadPressure() (float64, error) {
	env, err := b.sense()
	if err != nil {
		return 0, err
	}
	_, _, pressure := envToValues(env)
	return pressure, nil
}

// envToValues converts a periph measurement to °C, %RH and hPa
func envToValues(env physic.Env) (temperature, humidity, pressure float64) {
	temperature = env.Temperature.Celsius()
	humidity = float64(env.Humidity) / float64(physic.PercentRH)
	pressure = float64(env.Pressure) / float64(hectoPascal)
	return temperature, humidity, pressure
}

// Close halts the chip and releases the bus
func (b *BME280) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	haltErr := b.dev.Halt()
	if err := b.bus.Close(); err != nil {
		return err
	}
	return haltErr
}
