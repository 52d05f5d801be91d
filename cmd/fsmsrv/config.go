package main

import (
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"

	"github.com/nasa-jpl/qcloop/daq"
	"github.com/nasa-jpl/qcloop/fsm"
)

// EnvPrefix marks environment variables that override the config file,
// e.g. FSMSRV_LOOP_PERIOD=2ms or FSMSRV_ADDR=:8001
const EnvPrefix = "FSMSRV_"

// Board holds the parameters of the DAQ board connection
type Board struct {
	// Number is the index of the board in the uldaq inventory
	Number int `yaml:"Number" koanf:"Number"`

	// Range is the uldaq analog input range, e.g. BIP15VOLTS
	Range string `yaml:"Range" koanf:"Range"`

	// Bits, VMin and VMax describe the input converter, used to turn raw
	// input codes into volts
	Bits int     `yaml:"Bits" koanf:"Bits"`
	VMin float64 `yaml:"VMin" koanf:"VMin"`
	VMax float64 `yaml:"VMax" koanf:"VMax"`

	// Timeout bounds every read and write
	Timeout time.Duration `yaml:"Timeout" koanf:"Timeout"`

	Retry daq.RetryPolicy `yaml:"Retry" koanf:"Retry"`
}

// InputScale is the conversion of raw input codes to volts
func (b Board) InputScale() daq.Scale {
	return daq.NewScale(b.Bits, b.VMin, b.VMax)
}

// Monitor holds the parameters of the display task
type Monitor struct {
	// Tick is the time between samples of the loop
	Tick time.Duration `yaml:"Tick" koanf:"Tick"`

	// Capacity is the number of samples kept
	Capacity int `yaml:"Capacity" koanf:"Capacity"`
}

// Config is the configuration of the server
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Mock replaces the board with a simulated mirror and detector
	Mock bool `yaml:"Mock" koanf:"Mock"`

	// Spinner shows a spinner on the terminal while the board connects
	Spinner bool `yaml:"Spinner" koanf:"Spinner"`

	Board   Board      `yaml:"Board" koanf:"Board"`
	Loop    fsm.Config `yaml:"Loop" koanf:"Loop"`
	Monitor Monitor    `yaml:"Monitor" koanf:"Monitor"`
}

// DefaultConfig is the configuration used for any key missing from the
// file and environment
func DefaultConfig() Config {
	return Config{
		Addr:    ":8000",
		Spinner: true,
		Board: Board{
			Range:   "BIP15VOLTS",
			Bits:    12,
			VMin:    -15,
			VMax:    15,
			Timeout: daq.DefaultTimeout,
			Retry:   daq.DefaultRetryPolicy},
		Loop: fsm.DefaultConfig(),
		Monitor: Monitor{
			Tick:     250 * time.Millisecond,
			Capacity: 2400}}
}

// envKey maps FSMSRV_LOOP_SAFETY_MIN to the existing key Loop.Safety.Min.
// Variables that name no known key are ignored.
func envKey(k *koanf.Koanf) func(string) string {
	return func(s string) string {
		want := strings.Replace(strings.TrimPrefix(s, EnvPrefix), "_", ".", -1)
		for _, key := range k.Keys() {
			if strings.EqualFold(key, want) {
				return key
			}
		}
		return ""
	}
}

// LoadConfig layers the defaults, the file at path (if it exists) and the
// environment into a new koanf instance
func LoadConfig(path string) (*koanf.Koanf, error) {
	k := koanf.New(".")
	err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err != nil {
		return k, errors.Wrap(err, "loading defaults")
	}
	err = k.Load(file.Provider(path), yaml.Parser())
	if err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			return k, errors.Wrapf(err, "loading %s", path)
		}
	}
	err = k.Load(env.Provider(EnvPrefix, ".", envKey(k)), nil)
	if err != nil {
		return k, errors.Wrap(err, "loading environment")
	}
	return k, nil
}

// Unmarshal decodes a loaded koanf instance into a Config
func Unmarshal(k *koanf.Koanf) (Config, error) {
	c := Config{}
	err := k.Unmarshal("", &c)
	return c, err
}
