package config

import (
	"os"

	"github.com/konard/BitrotBruteforce/internal/gpu"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Logger struct {
		Verbosity string `yaml:"verbosity"`
		Encoding  string `yaml:"encoding"`
	} `yaml:"logger"`
	Paths struct {
		Libs  string `yaml:"libs"`
		PTX   string `yaml:"ptx"`
		HSACO string `yaml:"hsaco"`
	} `yaml:"paths"`
	Metrics struct {
		Textfile string `yaml:"textfile"`
	} `yaml:"metrics"`
	Repair struct {
		PieceLength int  `yaml:"pieceLength"`
		Write       bool `yaml:"write"`
	} `yaml:"repair"`
}

// Default returns the configuration used when no file is given. Paths are
// relative to the working directory, as the libraries ship next to the binary.
func Default() *Config {
	var config Config
	config.Logger.Verbosity = "info"
	config.Logger.Encoding = "console"
	config.Paths.Libs = "libs"
	config.Paths.PTX = "ptx"
	config.Paths.HSACO = "hsaco"
	config.Repair.PieceLength = 256 << 10
	return &config
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := Default()
	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, err
	}

	return config, nil
}

// LoadConfigOrDefault is LoadConfig, except a missing file yields the defaults.
func LoadConfigOrDefault(path string) (*Config, error) {
	config, err := LoadConfig(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return config, err
}

// GPUOptions converts the path settings for the GPU manager.
func (c *Config) GPUOptions() gpu.Options {
	return gpu.Options{
		LibsDir: c.Paths.Libs,
		BytecodeDirs: map[gpu.Vendor]string{
			gpu.VendorNvidia: c.Paths.PTX,
			gpu.VendorAMD:    c.Paths.HSACO,
		},
	}
}
